// Package binfmt encodes and decodes the two fixed-layout binary streams a
// session records:
//
//	*_XRI.bin     pose/event stream (head, hands, gaze per record)
//	*_Shadow.bin  motion-capture bone stream
//
// Both start with MAGIC:i32 VERSION:i32 followed by a format specific header
// and a stream of fixed-size records. Everything is little-endian and
// serialized field by field.
package binfmt

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// PoseMagic spells "XRI1" on disk.
	PoseMagic   int32 = 0x31495258
	PoseVersion int32 = 1

	// MotionMagic spells "SHD1" on disk.
	MotionMagic   int32 = 0x31444853
	MotionVersion int32 = 1

	// MaxBones bounds the bone count accepted from a header.
	MaxBones = 1024

	// UnmappedBone marks a bone id table entry that was never patched.
	UnmappedBone int32 = -1
)

var (
	ErrBadMagic           = errors.New("binfmt: bad magic number")
	ErrUnsupportedVersion = errors.New("binfmt: unsupported version")
	ErrTruncated          = errors.New("binfmt: truncated stream")
	ErrCorrupt            = errors.New("binfmt: corrupt record")
	ErrMappingPatched     = errors.New("binfmt: bone mapping already patched")
	ErrBoneCount          = errors.New("binfmt: bone count mismatch")
)

var le = binary.LittleEndian

// Pose is a position plus orientation.
type Pose struct {
	Position mgl32.Vec3 `json:"position"`
	Rotation mgl32.Quat `json:"rotation"`
}

// Ray is a gaze origin plus direction.
type Ray struct {
	Origin    mgl32.Vec3 `json:"origin"`
	Direction mgl32.Vec3 `json:"direction"`
}

func appendF32(b []byte, v float32) []byte {
	return le.AppendUint32(b, math.Float32bits(v))
}

func appendVec3(b []byte, v mgl32.Vec3) []byte {
	b = appendF32(b, v[0])
	b = appendF32(b, v[1])
	return appendF32(b, v[2])
}

// appendQuat writes x, y, z, w.
func appendQuat(b []byte, q mgl32.Quat) []byte {
	b = appendVec3(b, q.V)
	return appendF32(b, q.W)
}

func appendPose(b []byte, p Pose) []byte {
	return appendQuat(appendVec3(b, p.Position), p.Rotation)
}

func readF32(b []byte) float32 {
	return math.Float32frombits(le.Uint32(b))
}

func readVec3(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{readF32(b), readF32(b[4:]), readF32(b[8:])}
}

func readQuat(b []byte) mgl32.Quat {
	return mgl32.Quat{V: readVec3(b), W: readF32(b[12:])}
}

func readPose(b []byte) Pose {
	return Pose{Position: readVec3(b), Rotation: readQuat(b[12:])}
}

const (
	vec3Size = 12
	quatSize = 16
	poseSize = vec3Size + quatSize
)

func appendF64(b []byte, v float64) []byte {
	return le.AppendUint64(b, math.Float64bits(v))
}

func readF64(b []byte) float64 {
	return math.Float64frombits(le.Uint64(b))
}
