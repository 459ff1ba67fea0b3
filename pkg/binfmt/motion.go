package binfmt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	motionFixedHeaderSize = 24
	motionMappedField     = 20
	boneSize              = poseSize
)

// MotionHeader is the Shadow stream header. BoneIDs maps each bone slot to
// the node id the motion service assigned it, UnmappedBone until patched.
type MotionHeader struct {
	Version     int32
	BoneCount   int32
	Frequency   int64
	MappedCount int32
	BoneIDs     []int32
}

// Size is the encoded header size.
func (h MotionHeader) Size() int { return motionFixedHeaderSize + 4*int(h.BoneCount) }

// RecordSize is the encoded size of one frame.
func (h MotionHeader) RecordSize() int { return 16 + boneSize*int(h.BoneCount) }

// MotionFrame is one motion-capture sample. Bones has exactly BoneCount
// entries, one per slot.
type MotionFrame struct {
	Tick    int64
	SimTime float64
	Bones   []Pose
}

// AppendMotionFrame encodes f onto b.
func AppendMotionFrame(b []byte, f *MotionFrame) []byte {
	b = le.AppendUint64(b, uint64(f.Tick))
	b = appendF64(b, f.SimTime)
	for i := range f.Bones {
		b = appendPose(b, f.Bones[i])
	}
	return b
}

// DecodeMotionFrame decodes one frame from b into f, reusing f.Bones.
func DecodeMotionFrame(b []byte, h MotionHeader, f *MotionFrame) error {
	if len(b) < h.RecordSize() {
		return ErrTruncated
	}
	f.Tick = int64(le.Uint64(b))
	f.SimTime = readF64(b[8:])
	b = b[16:]
	if cap(f.Bones) < int(h.BoneCount) {
		f.Bones = make([]Pose, h.BoneCount)
	}
	f.Bones = f.Bones[:h.BoneCount]
	for i := range f.Bones {
		f.Bones[i] = readPose(b)
		b = b[boneSize:]
	}
	return nil
}

// MotionWriter writes a Shadow stream. The bone id table starts as
// placeholders and is patched exactly once with PatchMapping.
type MotionWriter struct {
	w         io.WriteSeeker
	boneCount int
	buf       []byte
	count     int
	patched   bool
}

// NewMotionWriter writes the placeholder header to w.
func NewMotionWriter(w io.WriteSeeker, boneCount int, frequency int64) (*MotionWriter, error) {
	if boneCount <= 0 || boneCount > MaxBones {
		return nil, fmt.Errorf("%w: %d", ErrBoneCount, boneCount)
	}
	h := MotionHeader{
		Version:   MotionVersion,
		BoneCount: int32(boneCount),
		Frequency: frequency,
		BoneIDs:   make([]int32, boneCount),
	}
	for i := range h.BoneIDs {
		h.BoneIDs[i] = UnmappedBone
	}
	if _, err := w.Write(AppendMotionHeader(nil, h)); err != nil {
		return nil, fmt.Errorf("binfmt: write motion header: %w", err)
	}
	rs := h.RecordSize()
	return &MotionWriter{
		w:         w,
		boneCount: boneCount,
		buf:       make([]byte, 0, flushThreshold+rs),
	}, nil
}

// AppendMotionHeader encodes h onto b.
func AppendMotionHeader(b []byte, h MotionHeader) []byte {
	b = le.AppendUint32(b, uint32(MotionMagic))
	b = le.AppendUint32(b, uint32(h.Version))
	b = le.AppendUint32(b, uint32(h.BoneCount))
	b = le.AppendUint64(b, uint64(h.Frequency))
	b = le.AppendUint32(b, uint32(h.MappedCount))
	for _, id := range h.BoneIDs {
		b = le.AppendUint32(b, uint32(id))
	}
	return b
}

// Write buffers one frame.
func (m *MotionWriter) Write(f *MotionFrame) error {
	if len(f.Bones) != m.boneCount {
		return fmt.Errorf("%w: frame has %d bones, stream %d", ErrBoneCount, len(f.Bones), m.boneCount)
	}
	m.buf = AppendMotionFrame(m.buf, f)
	m.count++
	if len(m.buf) >= flushThreshold {
		return m.Flush()
	}
	return nil
}

// Count is the number of frames written so far.
func (m *MotionWriter) Count() int { return m.count }

// Patched reports whether the bone mapping was stored.
func (m *MotionWriter) Patched() bool { return m.patched }

func (m *MotionWriter) Flush() error {
	if len(m.buf) == 0 {
		return nil
	}
	_, err := m.w.Write(m.buf)
	m.buf = m.buf[:0]
	if err != nil {
		return fmt.Errorf("binfmt: write motion frames: %w", err)
	}
	return nil
}

// PatchMapping stores the slot → node id table. ids may be shorter than the
// bone count; remaining slots stay UnmappedBone.
func (m *MotionWriter) PatchMapping(ids []int32) error {
	if m.patched {
		return ErrMappingPatched
	}
	if len(ids) > m.boneCount {
		return fmt.Errorf("%w: mapping has %d ids, stream %d", ErrBoneCount, len(ids), m.boneCount)
	}
	if err := m.Flush(); err != nil {
		return err
	}
	b := le.AppendUint32(make([]byte, 0, 4+4*m.boneCount), uint32(len(ids)))
	for i := range m.boneCount {
		id := UnmappedBone
		if i < len(ids) {
			id = ids[i]
		}
		b = le.AppendUint32(b, uint32(id))
	}
	if err := patchAt(m.w, motionMappedField, b); err != nil {
		return err
	}
	m.patched = true
	return nil
}

// Finish flushes buffered frames. The underlying writer is left open.
func (m *MotionWriter) Finish() error {
	return m.Flush()
}

// ReadMotionHeader reads and validates the Shadow header.
func ReadMotionHeader(r io.Reader) (MotionHeader, error) {
	var b [motionFixedHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return MotionHeader{}, headerErr(err)
	}
	if int32(le.Uint32(b[0:])) != MotionMagic {
		return MotionHeader{}, ErrBadMagic
	}
	h := MotionHeader{
		Version:     int32(le.Uint32(b[4:])),
		BoneCount:   int32(le.Uint32(b[8:])),
		Frequency:   int64(le.Uint64(b[12:])),
		MappedCount: int32(le.Uint32(b[20:])),
	}
	if h.Version != MotionVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.BoneCount <= 0 || h.BoneCount > MaxBones {
		return h, fmt.Errorf("%w: bone count %d", ErrCorrupt, h.BoneCount)
	}
	if h.Frequency <= 0 {
		return h, fmt.Errorf("%w: clock frequency %d", ErrCorrupt, h.Frequency)
	}
	if h.MappedCount < 0 || h.MappedCount > h.BoneCount {
		return h, fmt.Errorf("%w: mapped count %d", ErrCorrupt, h.MappedCount)
	}
	table := make([]byte, 4*h.BoneCount)
	if _, err := io.ReadFull(r, table); err != nil {
		return h, headerErr(err)
	}
	h.BoneIDs = make([]int32, h.BoneCount)
	for i := range h.BoneIDs {
		h.BoneIDs[i] = int32(le.Uint32(table[4*i:]))
	}
	return h, nil
}

// ReadMotionStream reads a whole Shadow stream.
func ReadMotionStream(r io.Reader) (MotionHeader, []MotionFrame, error) {
	br := bufio.NewReaderSize(r, flushThreshold)
	h, err := ReadMotionHeader(br)
	if err != nil {
		return h, nil, err
	}

	var frames []MotionFrame
	buf := make([]byte, h.RecordSize())
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return h, nil, fmt.Errorf("%w: motion frame %d: %v", ErrTruncated, len(frames), err)
		}
		var f MotionFrame
		if err := DecodeMotionFrame(buf, h, &f); err != nil {
			return h, nil, fmt.Errorf("motion frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
	return h, frames, nil
}
