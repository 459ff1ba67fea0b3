package replay

import (
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/pkg/binfmt"
)

// Config 冻结阈值，相邻样本间隔超过阈值时保持前一样本，不跨越丢帧插值
// 阈值 <= 0 表示不冻结
type Config struct {
	PoseFreeze   time.Duration
	MotionFreeze time.Duration
}

// PoseSample 归一化后的位姿记录
type PoseSample struct {
	Time   float64
	Record binfmt.PoseRecord
}

// MotionSample 归一化后的动捕帧
type MotionSample struct {
	Time  float64
	Frame binfmt.MotionFrame
}

// Session 一次加载的回放数据，两条流时间原点相同
type Session struct {
	Folder       string
	PoseHeader   binfmt.PoseHeader
	MotionHeader binfmt.MotionHeader
	Converted    bool
	MinTick      int64
	Poses        []PoseSample
	Motion       []MotionSample

	cfg Config
}

// PoseState 某一时刻的位姿
type PoseState struct {
	Valid     bool        `json:"valid"`
	Frozen    bool        `json:"frozen"`
	State     uint8       `json:"state"`
	Head      binfmt.Pose `json:"head"`
	LeftHand  binfmt.Pose `json:"left_hand"`
	RightHand binfmt.Pose `json:"right_hand"`
	Gaze      binfmt.Ray  `json:"gaze"`
}

// MotionState 某一时刻的骨骼位姿，按槽位排列
type MotionState struct {
	Valid  bool          `json:"valid"`
	Frozen bool          `json:"frozen"`
	Bones  []binfmt.Pose `json:"bones,omitempty"`
}

// normalize 两条流中最小的 tick 作为 0 点，频率取动捕文件头记录的值
func (s *Session) normalize(poses []binfmt.PoseRecord, motion []binfmt.MotionFrame) {
	minTick := int64(math.MaxInt64)
	for i := range poses {
		minTick = min(minTick, poses[i].Tick)
	}
	for i := range motion {
		minTick = min(minTick, motion[i].Tick)
	}
	if len(poses) == 0 && len(motion) == 0 {
		minTick = 0
	}
	s.MinTick = minTick

	freq := float64(s.MotionHeader.Frequency)
	s.Poses = make([]PoseSample, len(poses))
	for i := range poses {
		s.Poses[i] = PoseSample{Time: float64(poses[i].Tick-minTick) / freq, Record: poses[i]}
	}
	s.Motion = make([]MotionSample, len(motion))
	for i := range motion {
		s.Motion[i] = MotionSample{Time: float64(motion[i].Tick-minTick) / freq, Frame: motion[i]}
	}
}

// Duration 最后一个样本的时间
func (s *Session) Duration() float64 {
	var d float64
	if n := len(s.Poses); n > 0 {
		d = s.Poses[n-1].Time
	}
	if n := len(s.Motion); n > 0 {
		d = max(d, s.Motion[n-1].Time)
	}
	return d
}

// Empty 两条流都没有数据
func (s *Session) Empty() bool { return len(s.Poses) == 0 && len(s.Motion) == 0 }

// Evaluate 返回 t 秒时两条流的插值结果
func (s *Session) Evaluate(t float64) (PoseState, MotionState) {
	return s.EvaluatePose(t), s.EvaluateMotion(t)
}

func (s *Session) EvaluatePose(t float64) PoseState {
	n := len(s.Poses)
	if n == 0 {
		return PoseState{}
	}
	i, j := bracket(n, func(k int) float64 { return s.Poses[k].Time }, t)
	a, b := &s.Poses[i].Record, &s.Poses[j].Record
	frac, frozen := factor(s.Poses[i].Time, s.Poses[j].Time, t, s.cfg.PoseFreeze)
	if frac == 0 {
		return PoseState{
			Valid: true, Frozen: frozen, State: a.State,
			Head: a.Head, LeftHand: a.LeftHand, RightHand: a.RightHand, Gaze: a.Gaze,
		}
	}
	return PoseState{
		Valid:     true,
		State:     a.State,
		Head:      lerpPose(a.Head, b.Head, frac),
		LeftHand:  lerpPose(a.LeftHand, b.LeftHand, frac),
		RightHand: lerpPose(a.RightHand, b.RightHand, frac),
		Gaze: binfmt.Ray{
			Origin:    lerpVec(a.Gaze.Origin, b.Gaze.Origin, frac),
			Direction: slerpDir(a.Gaze.Direction, b.Gaze.Direction, frac),
		},
	}
}

func (s *Session) EvaluateMotion(t float64) MotionState {
	n := len(s.Motion)
	if n == 0 {
		return MotionState{}
	}
	i, j := bracket(n, func(k int) float64 { return s.Motion[k].Time }, t)
	a, b := s.Motion[i].Frame.Bones, s.Motion[j].Frame.Bones
	frac, frozen := factor(s.Motion[i].Time, s.Motion[j].Time, t, s.cfg.MotionFreeze)

	bones := make([]binfmt.Pose, len(a))
	if frac == 0 {
		copy(bones, a)
		return MotionState{Valid: true, Frozen: frozen, Bones: bones}
	}
	for k := range bones {
		bones[k] = lerpPose(a[k], b[k], frac)
	}
	return MotionState{Valid: true, Bones: bones}
}

// bracket 返回满足 time[i] <= t < time[j] 的相邻下标，越界时两端都取边界样本
func bracket(n int, timeAt func(int) float64, t float64) (int, int) {
	k := sort.Search(n, func(i int) bool { return timeAt(i) > t })
	switch k {
	case 0:
		return 0, 0
	case n:
		return n - 1, n - 1
	default:
		return k - 1, k
	}
}

const minGap = 1e-9

// factor 计算插值系数，间隔过小或超过冻结阈值时为 0
func factor(ta, tb, t float64, freeze time.Duration) (float64, bool) {
	gap := tb - ta
	if gap < minGap {
		return 0, false
	}
	if freeze > 0 && gap > freeze.Seconds() {
		return 0, true
	}
	return min(max((t-ta)/gap, 0), 1), false
}

func lerpVec(a, b mgl32.Vec3, f float64) mgl32.Vec3 {
	if f >= 1 {
		return b
	}
	return a.Add(b.Sub(a).Mul(float32(f)))
}

func lerpPose(a, b binfmt.Pose, f float64) binfmt.Pose {
	if f >= 1 {
		return b
	}
	return binfmt.Pose{
		Position: lerpVec(a.Position, b.Position, f),
		Rotation: mgl32.QuatSlerp(a.Rotation, b.Rotation, float32(f)),
	}
}

// slerpDir 方向向量球面插值，保持单位长度
func slerpDir(a, b mgl32.Vec3, f float64) mgl32.Vec3 {
	if f >= 1 {
		return b
	}
	la, lb := a.Len(), b.Len()
	if la < 1e-6 || lb < 1e-6 {
		return lerpVec(a, b, f)
	}
	ua, ub := a.Mul(1/la), b.Mul(1/lb)
	dot := float64(mgl32.Clamp(ua.Dot(ub), -1, 1))
	theta := math.Acos(dot)
	if theta < 1e-4 {
		return lerpVec(ua, ub, f).Normalize()
	}
	sin := math.Sin(theta)
	if sin < 1e-6 {
		// 方向相反，插值路径不唯一，保持前一方向
		return ua
	}
	wa := float32(math.Sin((1-f)*theta) / sin)
	wb := float32(math.Sin(f*theta) / sin)
	return ua.Mul(wa).Add(ub.Mul(wb))
}
