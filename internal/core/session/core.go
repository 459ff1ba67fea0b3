package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gowvp/lumen/internal/conf"
	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/pkg/timesync"
	"github.com/ixugo/goddd/pkg/system"
)

// Storer data persistence
type Storer interface {
	Session() SessionStorer
}

// Core business domain
// 同一时刻最多一个活动会话，交互调用 (Tick/Capture/Pause/Resume) 由 m 串行化
type Core struct {
	store  Storer
	conf   *conf.Bootstrap
	clock  timesync.Clock
	log    *slog.Logger
	sample *sampleState

	m        sync.Mutex
	recorder *capture.Recorder
	cur      *active
}

type Option func(*Core)

// WithClock 注入时钟，测试时使用可控时钟
func WithClock(clock timesync.Clock) Option {
	return func(c *Core) {
		c.clock = clock
	}
}

// WithLogger 注入日志
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// NewCore create business domain
func NewCore(store Storer, cfg *conf.Bootstrap, opts ...Option) *Core {
	c := Core{
		store:  store,
		conf:   cfg,
		sample: newSampleState(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.clock == nil {
		c.clock = timesync.NewMonotonicClock()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.recorder = capture.NewRecorder(capture.Config{
		SampleInterval:    cfg.Capture.SampleInterval.Duration(),
		MaxCatchUp:        cfg.Capture.MaxCatchUp,
		BufferCapacity:    cfg.Capture.BufferCapacity,
		MaxPendingBuffers: cfg.Capture.MaxPendingBuffers,
		FlushInterval:     cfg.Capture.FlushInterval.Duration(),
		DropLogInterval:   cfg.Capture.DropLogInterval.Duration(),
	}, c.sample,
		capture.WithClock(c.clock),
		capture.WithLogger(c.log),
	)
	return &c
}

// DataDir 会话目录根路径
func (c *Core) DataDir() string {
	dir := c.conf.Capture.DataDir
	if dir == "" {
		dir = "./sessions"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// Active 当前活动会话 id，无会话时返回空
func (c *Core) Active() string {
	c.m.Lock()
	defer c.m.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.row.ID
}

// Close 结束进行中的会话，进程退出时调用
func (c *Core) Close(ctx context.Context) error {
	if c.Active() == "" {
		return nil
	}
	_, err := c.End(ctx)
	return err
}
