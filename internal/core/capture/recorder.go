package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/lumen/pkg/timesync"
	"golang.org/x/time/rate"
)

var (
	ErrActive   = errors.New("capture: session already active")
	ErrInactive = errors.New("capture: no active session")
)

// Sink 帧输出目标，仅由写线程调用
type Sink interface {
	Name() string
	WriteFrames(frames []LogFrame) error
	Flush() error
	Close() error
}

// Config 采集参数
type Config struct {
	SampleInterval    time.Duration
	MaxCatchUp        int
	BufferCapacity    int
	MaxPendingBuffers int
	FlushInterval     time.Duration
	DropLogInterval   time.Duration
}

func (c *Config) normalize() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second / 90
	}
	c.MaxCatchUp = max(c.MaxCatchUp, 1)
	c.BufferCapacity = max(c.BufferCapacity, 1)
	c.MaxPendingBuffers = max(c.MaxPendingBuffers, 1)
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.DropLogInterval <= 0 {
		c.DropLogInterval = 5 * time.Second
	}
}

// Target 一次会话的输出配置
type Target struct {
	ParticipantID string
	SessionID     string
	Sync          *timesync.Sync
	Sinks         []Sink
}

// Stats 采集统计，任意协程可读
type Stats struct {
	Running          bool      `json:"running"`
	Paused           bool      `json:"paused"`
	FramesCaptured   uint64    `json:"frames_captured"`
	FramesWritten    uint64    `json:"frames_written"`
	FramesDropped    uint64    `json:"frames_dropped"`
	SamplesSkipped   uint64    `json:"samples_skipped"`
	BuffersAllocated uint64    `json:"buffers_allocated"`
	WriteErrors      uint64    `json:"write_errors"`
	Pending          int       `json:"pending"`
	Backpressure     bool      `json:"backpressure"`
	LastDrop         time.Time `json:"last_drop,omitzero"`
}

// Recorder 双缓冲帧采集
// Capture/Tick/Pause/Resume 只能由交互线程调用，不会阻塞在 I/O 上；
// 写线程等待信号或定时刷新，将缓冲写入所有 Sink 后归还缓冲池
type Recorder struct {
	cfg     Config
	clock   timesync.Clock
	sampler Sampler
	log     *slog.Logger

	// 交互线程独占
	target     Target
	active     []LogFrame
	frameIndex int64
	simTime    float64
	accum      time.Duration
	paused     bool

	m       sync.Mutex
	pending [][]LogFrame
	pool    [][]LogFrame
	signal  chan struct{}

	running atomic.Bool
	pausedA atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	limiter *rate.Limiter

	framesCaptured   atomic.Uint64
	framesWritten    atomic.Uint64
	framesDropped    atomic.Uint64
	samplesSkipped   atomic.Uint64
	buffersAllocated atomic.Uint64
	writeErrors      atomic.Uint64
	lastDrop         atomic.Int64
}

type Option func(*Recorder)

// WithClock 使用共享时钟，会话内所有流的 tick 必须可比较
func WithClock(clock timesync.Clock) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithLogger 注入日志
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) {
		r.log = log
	}
}

// NewRecorder create recorder
func NewRecorder(cfg Config, sampler Sampler, opts ...Option) *Recorder {
	cfg.normalize()
	r := Recorder{
		cfg:     cfg,
		sampler: sampler,
		signal:  make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(cfg.DropLogInterval), 1),
	}
	for _, opt := range opts {
		opt(&r)
	}
	if r.clock == nil {
		r.clock = timesync.NewMonotonicClock()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.sampler == nil {
		r.sampler = SamplerFunc(func() Sample { return Sample{} })
	}
	return &r
}

// Begin 开始会话，启动写线程
func (r *Recorder) Begin(t Target) error {
	if r.running.Load() {
		return ErrActive
	}
	if t.Sync == nil {
		t.Sync = timesync.New(r.clock.Frequency())
	}
	r.target = t
	r.frameIndex = 0
	r.simTime = 0
	r.accum = 0
	r.paused = false
	r.pausedA.Store(false)
	for _, c := range []*atomic.Uint64{
		&r.framesCaptured, &r.framesWritten, &r.framesDropped,
		&r.samplesSkipped, &r.writeErrors,
	} {
		c.Store(0)
	}
	r.lastDrop.Store(0)
	r.active = r.takeBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running.Store(true)
	r.target.Sync.Publish(r.clock.Now(), 0)
	r.wg.Go(func() { r.writeLoop(ctx) })
	return nil
}

// End 提交活动缓冲，等待写线程写完后关闭所有 Sink
func (r *Recorder) End() error {
	if !r.running.Load() {
		return ErrInactive
	}
	if len(r.active) > 0 {
		r.m.Lock()
		r.pending = append(r.pending, r.active)
		r.m.Unlock()
		r.active = nil
	}
	r.running.Store(false)
	r.cancel()
	r.wg.Wait()

	var errs []error
	for _, s := range r.target.Sinks {
		if err := s.Close(); err != nil {
			r.writeErrors.Add(1)
			errs = append(errs, err)
		}
	}
	r.target.Sinks = nil
	return errors.Join(errs...)
}

// Pause 暂停周期采样，事件仍然记录
func (r *Recorder) Pause() {
	r.paused = true
	r.pausedA.Store(true)
}

func (r *Recorder) Resume() {
	r.paused = false
	r.accum = 0
	r.pausedA.Store(false)
}

// Capture 记录一个事件帧
func (r *Recorder) Capture(event string) bool {
	if !r.running.Load() {
		return false
	}
	r.appendFrame(event, r.clock.Now())
	return true
}

// Tick 推进仿真时间并发布时间锚点，按采样间隔补足周期帧
// 单次调用最多补 MaxCatchUp 帧，超出部分计入 SamplesSkipped
func (r *Recorder) Tick(dt time.Duration) {
	if !r.running.Load() {
		return
	}
	now := r.clock.Now()
	r.simTime += dt.Seconds()
	r.target.Sync.Publish(now, r.simTime)
	if r.paused {
		return
	}

	r.accum += dt
	interval := r.cfg.SampleInterval
	for n := 0; r.accum >= interval && n < r.cfg.MaxCatchUp; n++ {
		r.accum -= interval
		r.appendFrame("", now)
	}
	if r.accum >= interval {
		r.samplesSkipped.Add(uint64(r.accum / interval))
		r.accum %= interval
	}
}

// SimTime 当前仿真时间
func (r *Recorder) SimTime() float64 { return r.simTime }

func (r *Recorder) appendFrame(event string, tick int64) {
	r.active = append(r.active, LogFrame{
		Event:         event,
		ParticipantID: r.target.ParticipantID,
		SessionID:     r.target.SessionID,
		FrameIndex:    r.frameIndex,
		SimTime:       r.simTime,
		Tick:          tick,
		Sample:        r.sampler.Sample(),
	})
	r.frameIndex++
	r.framesCaptured.Add(1)
	if len(r.active) >= r.cfg.BufferCapacity {
		r.handoff()
	}
}

// handoff 交换缓冲，队列满时丢弃已满缓冲并计数，交互线程不等待写线程
func (r *Recorder) handoff() {
	r.m.Lock()
	if len(r.pending) >= r.cfg.MaxPendingBuffers {
		r.m.Unlock()
		r.framesDropped.Add(uint64(len(r.active)))
		r.lastDrop.Store(time.Now().UnixNano())
		r.active = r.active[:0]
		return
	}
	r.pending = append(r.pending, r.active)
	r.m.Unlock()
	r.active = r.takeBuffer()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Recorder) takeBuffer() []LogFrame {
	r.m.Lock()
	defer r.m.Unlock()
	if n := len(r.pool); n > 0 {
		buf := r.pool[n-1]
		r.pool = r.pool[:n-1]
		return buf[:0]
	}
	r.buffersAllocated.Add(1)
	return make([]LogFrame, 0, r.cfg.BufferCapacity)
}

func (r *Recorder) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.flush()
			return
		case <-r.signal:
			r.drain()
		case <-ticker.C:
			r.drain()
			r.flush()
		}

		if dropped := r.framesDropped.Load(); dropped > reported && r.limiter.Allow() {
			r.log.Warn("capture writer behind, frames dropped",
				"session", r.target.SessionID,
				"dropped", dropped-reported,
				"total_dropped", dropped,
			)
			reported = dropped
		}
	}
}

// drain 写出全部待处理缓冲，出错时记录并继续，缓冲总是归还
func (r *Recorder) drain() {
	for {
		r.m.Lock()
		if len(r.pending) == 0 {
			r.m.Unlock()
			return
		}
		buf := r.pending[0]
		r.pending[0] = nil
		r.pending = r.pending[1:]
		r.m.Unlock()

		for _, s := range r.target.Sinks {
			if err := s.WriteFrames(buf); err != nil {
				r.writeErrors.Add(1)
				r.log.Error("capture write failed", "sink", s.Name(), "frames", len(buf), "err", err)
			}
		}
		r.framesWritten.Add(uint64(len(buf)))

		r.m.Lock()
		r.pool = append(r.pool, buf[:0])
		r.m.Unlock()
	}
}

func (r *Recorder) flush() {
	for _, s := range r.target.Sinks {
		if err := s.Flush(); err != nil {
			r.writeErrors.Add(1)
			r.log.Error("capture flush failed", "sink", s.Name(), "err", err)
		}
	}
}

// Stats 统计快照
func (r *Recorder) Stats() Stats {
	r.m.Lock()
	pending := len(r.pending)
	r.m.Unlock()

	s := Stats{
		Running:          r.running.Load(),
		Paused:           r.pausedA.Load(),
		FramesCaptured:   r.framesCaptured.Load(),
		FramesWritten:    r.framesWritten.Load(),
		FramesDropped:    r.framesDropped.Load(),
		SamplesSkipped:   r.samplesSkipped.Load(),
		BuffersAllocated: r.buffersAllocated.Load(),
		WriteErrors:      r.writeErrors.Load(),
		Pending:          pending,
	}
	if ns := r.lastDrop.Load(); ns > 0 {
		s.LastDrop = time.Unix(0, ns)
		s.Backpressure = time.Since(s.LastDrop) < r.cfg.DropLogInterval
	}
	return s
}
