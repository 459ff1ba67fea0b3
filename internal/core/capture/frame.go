package capture

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/pkg/binfmt"
)

// StateTag 实验任务所处阶段，写入 CSV 时使用显式名称表
type StateTag uint8

const (
	StateIdle StateTag = iota
	StateCalibration
	StateInstructions
	StateNavigating
	StateGoalReached
	StateFeedback
	StateRest
	StateFinished
)

var stateNames = [...]string{
	StateIdle:         "Idle",
	StateCalibration:  "Calibration",
	StateInstructions: "Instructions",
	StateNavigating:   "Navigating",
	StateGoalReached:  "GoalReached",
	StateFeedback:     "Feedback",
	StateRest:         "Rest",
	StateFinished:     "Finished",
}

var stateByName = func() map[string]StateTag {
	m := make(map[string]StateTag, len(stateNames))
	for i, name := range stateNames {
		m[name] = StateTag(i)
	}
	return m
}()

func (s StateTag) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

func (s StateTag) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *StateTag) UnmarshalText(b []byte) error {
	v, ok := ParseStateTag(string(b))
	if !ok {
		return fmt.Errorf("capture: unknown state %q", b)
	}
	*s = v
	return nil
}

// ParseStateTag 名称转状态，未知名称返回 false
func ParseStateTag(name string) (StateTag, bool) {
	s, ok := stateByName[name]
	return s, ok
}

// Sample 宿主引擎推送的最新状态，采样时整体复制
type Sample struct {
	State     StateTag    `json:"state"`
	Head      binfmt.Pose `json:"head"`
	Intensity float32     `json:"intensity"`
	Spawn     mgl32.Vec2  `json:"spawn"`
	Goal      mgl32.Vec2  `json:"goal"`
	Gaze      binfmt.Ray  `json:"gaze"`
	LeftHand  binfmt.Pose `json:"left_hand"`
	RightHand binfmt.Pose `json:"right_hand"`
}

// Sampler 提供当前帧的状态
type Sampler interface {
	Sample() Sample
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() Sample

func (f SamplerFunc) Sample() Sample { return f() }

// LogFrame 一次采样，周期采样时 Event 为空
type LogFrame struct {
	Event         string
	ParticipantID string
	SessionID     string
	FrameIndex    int64
	SimTime       float64
	Tick          int64
	Sample
}

// PoseRecord 转换为二进制位姿记录
func (f *LogFrame) PoseRecord() binfmt.PoseRecord {
	return binfmt.PoseRecord{
		Tick:      f.Tick,
		State:     uint8(f.State),
		Head:      f.Head,
		LeftHand:  f.LeftHand,
		RightHand: f.RightHand,
		Gaze:      f.Gaze,
	}
}

// EulerDegrees returns pitch (X), yaw (Y) and roll (Z) in degrees for a
// rotation composed as yaw·pitch·roll.
func EulerDegrees(q mgl32.Quat) mgl32.Vec3 {
	q = q.Normalize()
	w, x, y, z := float64(q.W), float64(q.V[0]), float64(q.V[1]), float64(q.V[2])

	m12 := 2 * (y*z - w*x)
	m02 := 2 * (x*z + w*y)
	m22 := 1 - 2*(x*x+y*y)
	m10 := 2 * (x*y + w*z)
	m11 := 1 - 2*(x*x+z*z)

	pitch := math.Asin(max(-1, min(1, -m12)))
	yaw := math.Atan2(m02, m22)
	roll := math.Atan2(m10, m11)
	const deg = 180 / math.Pi
	return mgl32.Vec3{float32(pitch * deg), float32(yaw * deg), float32(roll * deg)}
}
