package mocap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/lumen/pkg/binfmt"
	"github.com/gowvp/lumen/pkg/ringbuf"
	"github.com/gowvp/lumen/pkg/shadow"
	"github.com/gowvp/lumen/pkg/timesync"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/queue"
	"golang.org/x/time/rate"
)

var ErrStarted = errors.New("mocap: pipeline already started")

const recentErrors = 50

type (
	// Config 动捕采集参数
	Config struct {
		Host            string
		Port            int
		BoneCount       int
		RingCapacity    int
		DialTimeout     time.Duration
		ReadTimeout     time.Duration
		RetryDelay      time.Duration
		MaxRetryDelay   time.Duration
		// MaxRetries 连续失败次数上限，0 表示无限重试
		MaxRetries      int
		FlushInterval   time.Duration
		StaleTimeout    time.Duration
		DropLogInterval time.Duration
	}

	// Stats 诊断信息
	Stats struct {
		Status         Status    `json:"status"`
		Addr           string    `json:"addr"`
		Service        string    `json:"service,omitempty"`
		Mapping        []int32   `json:"mapping,omitempty"`
		FramesReceived uint64    `json:"frames_received"`
		FramesUnmapped uint64    `json:"frames_unmapped"`
		FramesWritten  uint64    `json:"frames_written"`
		FramesDropped  uint64    `json:"frames_dropped"`
		Malformed      uint64    `json:"malformed"`
		WriteErrors    uint64    `json:"write_errors"`
		Reconnects     uint64    `json:"reconnects"`
		RingLen        int       `json:"ring_len"`
		RingCapacity   int       `json:"ring_capacity"`
		Backpressure   bool      `json:"backpressure"`
		LastFrame      time.Time `json:"last_frame,omitzero"`
		RecentErrors   []string  `json:"recent_errors,omitempty"`
	}
)

// Pipeline 动捕数据采集
// 接收协程解码节点帧并推入有界环形缓冲，写协程取出后写入 Shadow 二进制流；
// 缓冲满时丢弃新帧并计数，接收协程不会等待磁盘
type Pipeline struct {
	cfg   Config
	addr  string
	clock timesync.Clock
	sync  *timesync.Sync
	out   *binfmt.MotionWriter
	log   *slog.Logger

	ring    *ringbuf.Ring[binfmt.MotionFrame]
	status  atomic.Int32
	mapping atomic.Pointer[[]int32]
	patch   atomic.Pointer[[]int32]
	service atomic.Pointer[string]

	m       sync.Mutex
	started bool
	errLog  *queue.CirQueue[string]

	ingestCtx    context.Context
	ingestCancel context.CancelFunc
	drainCancel  context.CancelFunc
	ingestWG     sync.WaitGroup
	drainWG      sync.WaitGroup
	limiter      *rate.Limiter

	framesReceived atomic.Uint64
	framesUnmapped atomic.Uint64
	framesWritten  atomic.Uint64
	malformed      atomic.Uint64
	writeErrors    atomic.Uint64
	reconnects     atomic.Uint64
	lastFrame      atomic.Int64
	lastDrop       atomic.Int64
}

type Option func(*Pipeline)

// WithClock 与采集线程共享时钟
func WithClock(clock timesync.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// WithSync 注入会话时间锚点
func WithSync(s *timesync.Sync) Option {
	return func(p *Pipeline) {
		p.sync = s
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// NewPipeline 写入 Shadow 文件头占位，映射确定后回填
func NewPipeline(cfg Config, out io.WriteSeeker, opts ...Option) (*Pipeline, error) {
	if cfg.BoneCount <= 0 || cfg.BoneCount > binfmt.MaxBones {
		return nil, fmt.Errorf("mocap: invalid bone count %d", cfg.BoneCount)
	}
	cfg.RingCapacity = max(cfg.RingCapacity, 1)
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	cfg.MaxRetryDelay = max(cfg.MaxRetryDelay, cfg.RetryDelay)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	if cfg.DropLogInterval <= 0 {
		cfg.DropLogInterval = 5 * time.Second
	}

	p := Pipeline{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		ring:    ringbuf.New[binfmt.MotionFrame](cfg.RingCapacity),
		errLog:  queue.NewCirQueue[string](recentErrors),
		limiter: rate.NewLimiter(rate.Every(cfg.DropLogInterval), 1),
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.clock == nil {
		p.clock = timesync.NewMonotonicClock()
	}
	if p.sync == nil {
		p.sync = timesync.New(p.clock.Frequency())
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("addr", p.addr)

	w, err := binfmt.NewMotionWriter(out, cfg.BoneCount, p.clock.Frequency())
	if err != nil {
		return nil, err
	}
	p.out = w
	return &p, nil
}

// Start 启动接收、写入与超时检测协程
func (p *Pipeline) Start() error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.started {
		return ErrStarted
	}
	p.started = true

	p.ingestCtx, p.ingestCancel = context.WithCancel(context.Background())
	drainCtx, drainCancel := context.WithCancel(context.Background())
	p.drainCancel = drainCancel

	p.ingestWG.Go(func() { p.ingestLoop(p.ingestCtx) })
	if p.cfg.StaleTimeout > 0 {
		p.ingestWG.Go(func() { p.staleChecker(p.ingestCtx) })
	}
	p.drainWG.Go(func() { p.drainLoop(drainCtx) })
	return nil
}

// Stop 先停止接收，再写完环形缓冲中剩余的帧
func (p *Pipeline) Stop() error {
	p.m.Lock()
	if !p.started {
		p.m.Unlock()
		return p.out.Finish()
	}
	p.started = false
	p.m.Unlock()

	p.ingestCancel()
	p.ingestWG.Wait()
	p.drainCancel()
	p.drainWG.Wait()

	if !p.Status().Terminal() {
		p.setStatus(StatusStopped)
	}
	if err := p.out.Finish(); err != nil {
		p.writeErrors.Add(1)
		return err
	}
	return nil
}

// Status 当前连接状态
func (p *Pipeline) Status() Status { return Status(p.status.Load()) }

func (p *Pipeline) setStatus(s Status) {
	old := Status(p.status.Swap(int32(s)))
	if old == s {
		return
	}
	switch s {
	case StatusDisconnected, StatusError:
		p.log.Warn("mocap status changed", "from", old, "to", s)
	default:
		p.log.Info("mocap status changed", "from", old, "to", s)
	}
}

func (p *Pipeline) recordError(err error) {
	p.m.Lock()
	p.errLog.Push(time.Now().Format(time.DateTime) + " " + err.Error())
	p.m.Unlock()
}

// ingestLoop 连接、读取、断线重连，连续失败超过上限进入 Error
func (p *Pipeline) ingestLoop(ctx context.Context) {
	var (
		state   *nodeMapping
		attempt int
		frame   shadow.Frame
	)
	for ctx.Err() == nil {
		p.setStatus(StatusConnecting)
		client, err := shadow.Dial(ctx, p.addr, shadow.Options{
			DialTimeout: p.cfg.DialTimeout,
			ReadTimeout: p.cfg.ReadTimeout,
		})
		if err == nil {
			stop := context.AfterFunc(ctx, func() { _ = client.Close() })
			var got bool
			got, err = p.readLoop(ctx, client, &frame, &state)
			stop()
			_ = client.Close()
			if got {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		p.recordError(err)
		p.log.Warn("mocap connection failed", "attempt", attempt, "err", err)
		if p.cfg.MaxRetries > 0 && attempt >= p.cfg.MaxRetries {
			p.setStatus(StatusError)
			return
		}
		p.setStatus(StatusDisconnected)
		p.reconnects.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.backoff(attempt)):
		}
	}
}

// backoff 指数退避，上限 MaxRetryDelay
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.cfg.RetryDelay
	for i := 1; i < attempt && d < p.cfg.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, p.cfg.MaxRetryDelay)
}

func (p *Pipeline) readLoop(ctx context.Context, client *shadow.Client, frame *shadow.Frame, state **nodeMapping) (bool, error) {
	var got bool
	if *state == nil {
		p.setStatus(StatusMappingPending)
	}
	for {
		err := client.ReadFrame(frame)
		if ctx.Err() != nil {
			return got, ctx.Err()
		}
		if errors.Is(err, shadow.ErrMalformed) {
			p.malformed.Add(1)
			p.recordError(err)
			continue
		}
		if err != nil {
			return got, err
		}

		tick := p.clock.Now()
		got = true
		p.framesReceived.Add(1)
		p.lastFrame.Store(time.Now().UnixNano())
		if d := client.Description(); d.Service != "" && p.service.Load() == nil {
			p.service.Store(&d.Service)
		}

		if *state == nil {
			*state = inferMapping(frame, p.cfg.BoneCount)
			if *state == nil {
				p.framesUnmapped.Add(1)
				continue
			}
			ids := (*state).ids
			p.mapping.Store(&ids)
			p.patch.Store(&ids)
			p.log.Info("mocap node mapping inferred", "bones", len(ids), "ids", ids)
		}
		p.setStatus(StatusStreaming)

		mf := binfmt.MotionFrame{
			Tick:    tick,
			SimTime: p.sync.Estimate(tick),
			Bones:   (*state).fill(frame, make([]binfmt.Pose, 0, p.cfg.BoneCount)),
		}
		if !p.ring.TryPush(mf) {
			p.lastDrop.Store(time.Now().UnixNano())
		}
	}
}

// staleChecker 推流中超过 StaleTimeout 没有新帧标记为断开，收到新帧后恢复
func (p *Pipeline) staleChecker(ctx context.Context) {
	interval := max(p.cfg.StaleTimeout/4, 10*time.Millisecond)
	conc.Timer(ctx, interval, interval, func() {
		last := p.lastFrame.Load()
		if last == 0 || p.Status() != StatusStreaming {
			return
		}
		if idle := time.Since(time.Unix(0, last)); idle > p.cfg.StaleTimeout {
			p.recordError(fmt.Errorf("no frame for %s", idle.Truncate(time.Millisecond)))
			p.status.CompareAndSwap(int32(StatusStreaming), int32(StatusDisconnected))
			p.log.Warn("mocap stream stale", "idle", idle)
		}
	})
}

func (p *Pipeline) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]binfmt.MotionFrame, 0, p.ring.Cap())
	var reported uint64
	for {
		select {
		case <-ctx.Done():
			batch = p.drainOnce(batch[:0])
			p.flush()
			return
		case <-p.ring.Notify():
			batch = p.drainOnce(batch[:0])
		case <-ticker.C:
			batch = p.drainOnce(batch[:0])
			p.flush()
		}

		if dropped := p.ring.Stats().Dropped; dropped > reported && p.limiter.Allow() {
			p.log.Warn("mocap ring buffer full, frames dropped",
				"dropped", dropped-reported,
				"total_dropped", dropped,
			)
			reported = dropped
		}
	}
}

// drainOnce 回填映射后写出环形缓冲中的全部帧，写失败记录后继续
func (p *Pipeline) drainOnce(batch []binfmt.MotionFrame) []binfmt.MotionFrame {
	if ids := p.patch.Swap(nil); ids != nil {
		if err := p.out.PatchMapping(*ids); err != nil {
			p.writeErrors.Add(1)
			p.recordError(err)
			p.log.Error("mocap patch mapping failed", "err", err)
		}
	}
	batch = p.ring.Drain(batch)
	for i := range batch {
		if err := p.out.Write(&batch[i]); err != nil {
			p.writeErrors.Add(1)
			p.recordError(err)
			continue
		}
		p.framesWritten.Add(1)
	}
	clear(batch)
	return batch
}

func (p *Pipeline) flush() {
	if err := p.out.Flush(); err != nil {
		p.writeErrors.Add(1)
		p.recordError(err)
		p.log.Error("mocap flush failed", "err", err)
	}
}

// Stats 诊断快照
func (p *Pipeline) Stats() Stats {
	rs := p.ring.Stats()
	s := Stats{
		Status:         p.Status(),
		Addr:           p.addr,
		FramesReceived: p.framesReceived.Load(),
		FramesUnmapped: p.framesUnmapped.Load(),
		FramesWritten:  p.framesWritten.Load(),
		FramesDropped:  rs.Dropped,
		Malformed:      p.malformed.Load(),
		WriteErrors:    p.writeErrors.Load(),
		Reconnects:     p.reconnects.Load(),
		RingLen:        rs.Len,
		RingCapacity:   rs.Capacity,
	}
	if ids := p.mapping.Load(); ids != nil {
		s.Mapping = *ids
	}
	if svc := p.service.Load(); svc != nil {
		s.Service = *svc
	}
	if ns := p.lastFrame.Load(); ns > 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	if ns := p.lastDrop.Load(); ns > 0 {
		s.Backpressure = time.Since(time.Unix(0, ns)) < p.cfg.DropLogInterval
	}
	p.m.Lock()
	s.RecentErrors = p.errLog.Range()
	p.m.Unlock()
	return s
}
