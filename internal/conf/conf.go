package conf

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    15180,
				Timeout: Duration(30 * time.Second),
			},
		},
		Log: Log{
			Dir:    "./logs",
			Level:  "info",
			MaxAge: Duration(7 * 24 * time.Hour),
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Capture: Capture{
			DataDir:           "./sessions",
			SampleInterval:    Duration(time.Second / 90),
			MaxCatchUp:        4,
			BufferCapacity:    512,
			MaxPendingBuffers: 8,
			FlushInterval:     Duration(time.Second),
			WriteBinary:       true,
			FrameRate:         90,
			DropLogInterval:   Duration(5 * time.Second),
		},
		Mocap: Mocap{
			Host:           "127.0.0.1",
			Port:           32076,
			BoneCount:      21,
			RingCapacity:   1024,
			DialTimeout:    Duration(3 * time.Second),
			ReadTimeout:    Duration(5 * time.Second),
			RetryDelay:     Duration(time.Second),
			MaxRetryDelay:  Duration(30 * time.Second),
			MaxRetries:     10,
			SampleInterval: Duration(10 * time.Millisecond),
			StaleTimeout:   Duration(2 * time.Second),
		},
		Replay: Replay{
			PoseFreezeThreshold: Duration(250 * time.Millisecond),
			MotionFreezeFactor:  5,
		},
		Retention: Retention{
			RetainDays:         0,
			DiskUsageThreshold: 95,
			Interval:           Duration(time.Hour),
		},
	}
}

// SetupConfig 读取配置文件，文件不存在时写入默认配置
func SetupConfig(path string) (Bootstrap, error) {
	bc := DefaultConfig()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config not found, writing defaults", "path", path)
		if err := WriteConfig(&bc, path); err != nil {
			return bc, err
		}
	case err != nil:
		return bc, err
	default:
		if err := toml.Unmarshal(b, &bc); err != nil {
			return bc, err
		}
	}
	bc.ConfigPath = path
	bc.ConfigDir = filepath.Dir(path)
	bc.Validate()
	return bc, nil
}

// WriteConfig 写入配置文件
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate 修正越界的配置值
func (bc *Bootstrap) Validate() {
	def := DefaultConfig()

	c := &bc.Capture
	if c.SampleInterval <= 0 {
		c.SampleInterval = def.Capture.SampleInterval
	}
	c.MaxCatchUp = min(max(c.MaxCatchUp, 1), 64)
	c.BufferCapacity = max(c.BufferCapacity, 16)
	c.MaxPendingBuffers = max(c.MaxPendingBuffers, 1)
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.Capture.FlushInterval
	}
	c.FrameRate = min(max(c.FrameRate, 0), 1000)
	if c.DropLogInterval <= 0 {
		c.DropLogInterval = def.Capture.DropLogInterval
	}

	m := &bc.Mocap
	m.BoneCount = min(max(m.BoneCount, 1), 1024)
	m.RingCapacity = max(m.RingCapacity, 16)
	if m.RetryDelay <= 0 {
		m.RetryDelay = def.Mocap.RetryDelay
	}
	m.MaxRetryDelay = max(m.MaxRetryDelay, m.RetryDelay)
	m.MaxRetries = max(m.MaxRetries, 0)
	if m.SampleInterval <= 0 {
		m.SampleInterval = def.Mocap.SampleInterval
	}

	if bc.Replay.MotionFreezeFactor <= 0 {
		bc.Replay.MotionFreezeFactor = def.Replay.MotionFreezeFactor
	}

	r := &bc.Retention
	r.RetainDays = max(r.RetainDays, 0)
	if r.DiskUsageThreshold <= 0 || r.DiskUsageThreshold > 100 {
		r.DiskUsageThreshold = def.Retention.DiskUsageThreshold
	}
	if r.Interval <= 0 {
		r.Interval = def.Retention.Interval
	}
	if bc.Server.HTTP.Port <= 0 {
		bc.Server.HTTP.Port = def.Server.HTTP.Port
	}
}
