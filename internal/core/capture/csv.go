package capture

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/pkg/binfmt"
)

// ErrMissingColumn CSV 缺少转换所需的列
var ErrMissingColumn = errors.New("capture: missing column")

// Columns CSV 表头，顺序即写入顺序
var Columns = [...]string{
	"Event", "ParticipantID", "SessionID", "State", "FrameIndex", "SimTime", "Tick",
	"HeadPosX", "HeadPosY", "HeadPosZ",
	"HeadRotX", "HeadRotY", "HeadRotZ",
	"HeadQuatX", "HeadQuatY", "HeadQuatZ", "HeadQuatW",
	"Intensity",
	"SpawnX", "SpawnZ", "GoalX", "GoalZ",
	"GazeOriginX", "GazeOriginY", "GazeOriginZ",
	"GazeDirX", "GazeDirY", "GazeDirZ",
	"LeftPosX", "LeftPosY", "LeftPosZ",
	"LeftQuatX", "LeftQuatY", "LeftQuatZ", "LeftQuatW",
	"RightPosX", "RightPosY", "RightPosZ",
	"RightQuatX", "RightQuatY", "RightQuatZ", "RightQuatW",
}

const (
	precTime  = 6
	precPos   = 5
	precQuat  = 6
	precAngle = 3
	precValue = 4
)

// AppendHeader 追加表头行
func AppendHeader(b []byte) []byte {
	for i, c := range Columns {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, c...)
	}
	return append(b, '\n')
}

// AppendRow 追加一行，数值定点格式化，不产生中间字符串
func AppendRow(b []byte, f *LogFrame) []byte {
	b = appendQuoted(b, f.Event)
	b = append(b, ',')
	b = appendQuoted(b, f.ParticipantID)
	b = append(b, ',')
	b = appendQuoted(b, f.SessionID)
	b = append(b, ',')
	b = appendQuoted(b, f.State.String())
	b = append(b, ',')
	b = strconv.AppendInt(b, f.FrameIndex, 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, f.SimTime, 'f', precTime, 64)
	b = append(b, ',')
	b = strconv.AppendInt(b, f.Tick, 10)

	b = appendFloats(b, precPos, f.Head.Position[:]...)
	euler := EulerDegrees(f.Head.Rotation)
	b = appendFloats(b, precAngle, euler[:]...)
	b = appendQuat(b, f.Head.Rotation)
	b = appendFloats(b, precValue, f.Intensity)
	b = appendFloats(b, precPos, f.Spawn[0], f.Spawn[1], f.Goal[0], f.Goal[1])
	b = appendFloats(b, precPos, f.Gaze.Origin[:]...)
	b = appendFloats(b, precQuat, f.Gaze.Direction[:]...)
	b = appendFloats(b, precPos, f.LeftHand.Position[:]...)
	b = appendQuat(b, f.LeftHand.Rotation)
	b = appendFloats(b, precPos, f.RightHand.Position[:]...)
	b = appendQuat(b, f.RightHand.Rotation)
	return append(b, '\n')
}

func appendFloats(b []byte, prec int, vs ...float32) []byte {
	for _, v := range vs {
		b = append(b, ',')
		b = strconv.AppendFloat(b, float64(v), 'f', prec, 32)
	}
	return b
}

func appendQuat(b []byte, q mgl32.Quat) []byte {
	return appendFloats(b, precQuat, q.V[0], q.V[1], q.V[2], q.W)
}

// appendQuoted 字符串字段总是加引号，内部引号加倍
func appendQuoted(b []byte, s string) []byte {
	b = append(b, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			b = append(b, '"')
		}
		b = append(b, s[i])
	}
	return append(b, '"')
}

// CSVSink 文本输出
type CSVSink struct {
	path string
	file *os.File
	w    *bufio.Writer
	line []byte
}

var _ Sink = (*CSVSink)(nil)

// NewCSVSink 创建文件并写入表头
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create csv: %w", err)
	}
	s := CSVSink{
		path: path,
		file: file,
		w:    bufio.NewWriterSize(file, 256<<10),
		line: make([]byte, 0, 1024),
	}
	if _, err := s.w.Write(AppendHeader(s.line[:0])); err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: write csv header: %w", err)
	}
	return &s, nil
}

func (s *CSVSink) Name() string { return s.path }

func (s *CSVSink) WriteFrames(frames []LogFrame) error {
	for i := range frames {
		s.line = AppendRow(s.line[:0], &frames[i])
		if _, err := s.w.Write(s.line); err != nil {
			return err
		}
	}
	return nil
}

func (s *CSVSink) Flush() error { return s.w.Flush() }

func (s *CSVSink) Close() error {
	return errors.Join(s.w.Flush(), s.file.Close())
}

// XRISink 二进制位姿输出
type XRISink struct {
	path string
	file *os.File
	w    *binfmt.PoseWriter
}

var _ Sink = (*XRISink)(nil)

// NewXRISink 创建文件并写入占位文件头
func NewXRISink(path string) (*XRISink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create xri: %w", err)
	}
	w, err := binfmt.NewPoseWriter(file, true)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &XRISink{path: path, file: file, w: w}, nil
}

func (s *XRISink) Name() string { return s.path }

func (s *XRISink) WriteFrames(frames []LogFrame) error {
	for i := range frames {
		rec := frames[i].PoseRecord()
		if err := s.w.Write(&rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *XRISink) Flush() error { return s.w.Flush() }

// Close 回填帧数后关闭
func (s *XRISink) Close() error {
	return errors.Join(s.w.Finish(), s.file.Close())
}

// RowDecoder 按表头解析 CSV 行为位姿记录
type RowDecoder struct {
	state int
	tick  int
	head  [7]int
	left  [7]int
	right [7]int
	gaze  [6]int
}

// NewRowDecoder 表头缺列时立即失败并指出列名
func NewRowDecoder(header []string) (*RowDecoder, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	var err error
	col := func(name string) int {
		i, ok := idx[name]
		if !ok && err == nil {
			err = fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		return i
	}
	pose := func(prefix string) [7]int {
		return [7]int{
			col(prefix + "PosX"), col(prefix + "PosY"), col(prefix + "PosZ"),
			col(prefix + "QuatX"), col(prefix + "QuatY"), col(prefix + "QuatZ"), col(prefix + "QuatW"),
		}
	}
	d := RowDecoder{
		tick:  col("Tick"),
		state: col("State"),
		head:  pose("Head"),
		left:  pose("Left"),
		right: pose("Right"),
		gaze: [6]int{
			col("GazeOriginX"), col("GazeOriginY"), col("GazeOriginZ"),
			col("GazeDirX"), col("GazeDirY"), col("GazeDirZ"),
		},
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Decode 解析一行
func (d *RowDecoder) Decode(row []string) (binfmt.PoseRecord, error) {
	var r binfmt.PoseRecord
	var err error
	field := func(i int) string {
		if i >= len(row) {
			if err == nil {
				err = fmt.Errorf("capture: row has %d fields, need column %d", len(row), i)
			}
			return ""
		}
		return row[i]
	}
	f32 := func(i int) float32 {
		s := field(i)
		if err != nil {
			return 0
		}
		v, e := strconv.ParseFloat(s, 32)
		if e != nil {
			err = fmt.Errorf("capture: parse %q: %w", s, e)
		}
		return float32(v)
	}
	pose := func(ix [7]int) binfmt.Pose {
		return binfmt.Pose{
			Position: mgl32.Vec3{f32(ix[0]), f32(ix[1]), f32(ix[2])},
			Rotation: mgl32.Quat{W: f32(ix[6]), V: mgl32.Vec3{f32(ix[3]), f32(ix[4]), f32(ix[5])}},
		}
	}

	tick, e := strconv.ParseInt(field(d.tick), 10, 64)
	if e != nil && err == nil {
		err = fmt.Errorf("capture: parse tick: %w", e)
	}
	r.Tick = tick
	if name := field(d.state); err == nil {
		st, ok := ParseStateTag(name)
		if !ok {
			err = fmt.Errorf("capture: unknown state %q", name)
		}
		r.State = uint8(st)
	}
	r.Head = pose(d.head)
	r.LeftHand = pose(d.left)
	r.RightHand = pose(d.right)
	r.Gaze = binfmt.Ray{
		Origin:    mgl32.Vec3{f32(d.gaze[0]), f32(d.gaze[1]), f32(d.gaze[2])},
		Direction: mgl32.Vec3{f32(d.gaze[3]), f32(d.gaze[4]), f32(d.gaze[5])},
	}
	return r, err
}
