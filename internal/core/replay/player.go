package replay

import (
	"sync"
	"time"
)

// Player 回放控制，时间限制在 [0, Duration]
type Player struct {
	m       sync.Mutex
	s       *Session
	t       float64
	speed   float64
	playing bool
}

func NewPlayer(s *Session) *Player {
	return &Player{s: s, speed: 1}
}

func (p *Player) Session() *Session { return p.s }

func (p *Player) Play() {
	p.m.Lock()
	defer p.m.Unlock()
	if p.s.Empty() {
		return
	}
	if p.t >= p.s.Duration() {
		p.t = 0
	}
	p.playing = true
}

func (p *Player) Pause() {
	p.m.Lock()
	defer p.m.Unlock()
	p.playing = false
}

// Seek 跳转到 t 秒
func (p *Player) Seek(t float64) {
	p.m.Lock()
	defer p.m.Unlock()
	p.t = p.clamp(t)
}

// SetSpeed 倍速，非正值忽略
func (p *Player) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	p.m.Lock()
	defer p.m.Unlock()
	p.speed = speed
}

// State 当前时间、倍速、是否播放
func (p *Player) State() (t, speed float64, playing bool) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.t, p.speed, p.playing
}

// Advance 播放中推进 dt，到达末尾自动暂停，返回推进后的状态
func (p *Player) Advance(dt time.Duration) (PoseState, MotionState) {
	p.m.Lock()
	if p.playing {
		p.t = p.clamp(p.t + dt.Seconds()*p.speed)
		if p.t >= p.s.Duration() {
			p.playing = false
		}
	}
	t := p.t
	p.m.Unlock()
	return p.s.Evaluate(t)
}

func (p *Player) clamp(t float64) float64 {
	return min(max(t, 0), p.s.Duration())
}
