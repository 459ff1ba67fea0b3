package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/lumen/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// SetupLog 初始化日志，同时输出到控制台与按天切割的文件
// debug 模式使用文本格式，否则为 JSON
func SetupLog(bc *conf.Bootstrap) (*slog.Logger, func()) {
	dir := bc.Log.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(bc.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if bc.Server.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	clean := func() {}
	maxAge := bc.Log.MaxAge.Duration()
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	r, err := rotatelogs.New(
		filepath.Join(dir, "%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "latest.log")),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		slog.Error("rotatelogs", "dir", dir, "err", err)
	} else {
		w = io.MultiWriter(os.Stdout, r)
		clean = func() { _ = r.Close() }
	}

	opts := slog.HandlerOptions{Level: level, AddSource: bc.Server.Debug}
	var h slog.Handler
	if bc.Server.Debug {
		h = slog.NewTextHandler(w, &opts)
	} else {
		h = slog.NewJSONHandler(w, &opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)
	return log, clean
}
