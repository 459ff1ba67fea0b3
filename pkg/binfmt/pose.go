package binfmt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Device ids tagging each block of a pose record.
const (
	DeviceHead uint8 = iota
	DeviceLeftHand
	DeviceRightHand
	DeviceGaze
)

const (
	poseHeaderSize      = 13
	poseFrameCountField = 8
	// tick + three rotation-bearing devices + gaze
	poseRecordSize = 8 + 3*(1+poseSize) + 1 + 2*vec3Size
)

// PoseHeader is the XRI stream header. FrameCount 0 means the writer never
// finished and the record count is only known by reading to EOF.
type PoseHeader struct {
	Version    int32
	FrameCount int32
	HasState   bool
}

// RecordSize is the encoded size of one record for this header.
func (h PoseHeader) RecordSize() int {
	if h.HasState {
		return poseRecordSize + 1
	}
	return poseRecordSize
}

// PoseRecord is one sample of the pose/event stream.
type PoseRecord struct {
	Tick      int64
	State     uint8
	Head      Pose
	LeftHand  Pose
	RightHand Pose
	Gaze      Ray
}

// AppendPoseRecord encodes r onto b.
func AppendPoseRecord(b []byte, r *PoseRecord, hasState bool) []byte {
	b = le.AppendUint64(b, uint64(r.Tick))
	if hasState {
		b = append(b, r.State)
	}
	b = appendPose(append(b, DeviceHead), r.Head)
	b = appendPose(append(b, DeviceLeftHand), r.LeftHand)
	b = appendPose(append(b, DeviceRightHand), r.RightHand)
	b = appendVec3(append(b, DeviceGaze), r.Gaze.Origin)
	return appendVec3(b, r.Gaze.Direction)
}

// DecodePoseRecord decodes one record from b, which must hold at least
// h.RecordSize() bytes.
func DecodePoseRecord(b []byte, h PoseHeader) (PoseRecord, error) {
	var r PoseRecord
	if len(b) < h.RecordSize() {
		return r, ErrTruncated
	}
	r.Tick = int64(le.Uint64(b))
	b = b[8:]
	if h.HasState {
		r.State = b[0]
		b = b[1:]
	}
	for _, dst := range []struct {
		id   uint8
		pose *Pose
	}{
		{DeviceHead, &r.Head},
		{DeviceLeftHand, &r.LeftHand},
		{DeviceRightHand, &r.RightHand},
	} {
		if b[0] != dst.id {
			return r, fmt.Errorf("%w: device id %d, want %d", ErrCorrupt, b[0], dst.id)
		}
		*dst.pose = readPose(b[1:])
		b = b[1+poseSize:]
	}
	if b[0] != DeviceGaze {
		return r, fmt.Errorf("%w: device id %d, want %d", ErrCorrupt, b[0], DeviceGaze)
	}
	r.Gaze.Origin = readVec3(b[1:])
	r.Gaze.Direction = readVec3(b[1+vec3Size:])
	return r, nil
}

// PoseWriter writes an XRI stream. Records are buffered in memory and
// written on Flush; Finish patches the frame count into the header.
type PoseWriter struct {
	w        io.WriteSeeker
	hasState bool
	buf      []byte
	count    int32
}

const flushThreshold = 64 << 10

// maxPrealloc bounds the records reserved from an untrusted header.
const maxPrealloc = 1 << 16

// NewPoseWriter writes a placeholder header to w.
func NewPoseWriter(w io.WriteSeeker, hasState bool) (*PoseWriter, error) {
	hdr := make([]byte, 0, poseHeaderSize)
	hdr = le.AppendUint32(hdr, uint32(PoseMagic))
	hdr = le.AppendUint32(hdr, uint32(PoseVersion))
	hdr = le.AppendUint32(hdr, 0)
	if hasState {
		hdr = append(hdr, 1)
	} else {
		hdr = append(hdr, 0)
	}
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("binfmt: write pose header: %w", err)
	}
	return &PoseWriter{
		w:        w,
		hasState: hasState,
		buf:      make([]byte, 0, flushThreshold+poseRecordSize+1),
	}, nil
}

// Write buffers one record, flushing when the buffer is full.
func (p *PoseWriter) Write(r *PoseRecord) error {
	p.buf = AppendPoseRecord(p.buf, r, p.hasState)
	p.count++
	if len(p.buf) >= flushThreshold {
		return p.Flush()
	}
	return nil
}

// Count is the number of records written so far.
func (p *PoseWriter) Count() int { return int(p.count) }

func (p *PoseWriter) Flush() error {
	if len(p.buf) == 0 {
		return nil
	}
	_, err := p.w.Write(p.buf)
	p.buf = p.buf[:0]
	if err != nil {
		return fmt.Errorf("binfmt: write pose records: %w", err)
	}
	return nil
}

// Finish flushes and stores the final frame count in the header. The
// underlying writer is left open.
func (p *PoseWriter) Finish() error {
	if err := p.Flush(); err != nil {
		return err
	}
	return patchAt(p.w, poseFrameCountField, le.AppendUint32(nil, uint32(p.count)))
}

// ReadPoseHeader reads and validates the XRI header.
func ReadPoseHeader(r io.Reader) (PoseHeader, error) {
	var b [poseHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return PoseHeader{}, headerErr(err)
	}
	if int32(le.Uint32(b[0:])) != PoseMagic {
		return PoseHeader{}, ErrBadMagic
	}
	h := PoseHeader{
		Version:    int32(le.Uint32(b[4:])),
		FrameCount: int32(le.Uint32(b[8:])),
		HasState:   b[12] != 0,
	}
	if h.Version != PoseVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.FrameCount < 0 {
		return h, fmt.Errorf("%w: frame count %d", ErrCorrupt, h.FrameCount)
	}
	return h, nil
}

// ReadPoseStream reads a whole XRI stream.
func ReadPoseStream(r io.Reader) (PoseHeader, []PoseRecord, error) {
	br := bufio.NewReaderSize(r, flushThreshold)
	h, err := ReadPoseHeader(br)
	if err != nil {
		return h, nil, err
	}

	// FrameCount comes from disk; the slice grows past the cap as records arrive.
	records := make([]PoseRecord, 0, min(int(h.FrameCount), maxPrealloc))
	buf := make([]byte, h.RecordSize())
	for h.FrameCount == 0 || len(records) < int(h.FrameCount) {
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) && h.FrameCount == 0 {
				break
			}
			return h, nil, fmt.Errorf("%w: pose record %d: %v", ErrTruncated, len(records), err)
		}
		rec, err := DecodePoseRecord(buf, h)
		if err != nil {
			return h, nil, fmt.Errorf("pose record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return h, records, nil
}

func headerErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	return fmt.Errorf("binfmt: read header: %w", err)
}

// patchAt overwrites b at offset and returns the write position to the end.
func patchAt(w io.WriteSeeker, offset int64, b []byte) error {
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("binfmt: seek header: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("binfmt: patch header: %w", err)
	}
	if _, err := w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("binfmt: seek end: %w", err)
	}
	return nil
}
