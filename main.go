package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/lumen/internal/app"
	"github.com/gowvp/lumen/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

var (
	buildVersion = "0.0.1" // 构建版本号
	configDir    = flag.String("conf", "./configs", "config directory, eg: -conf /configs/")
)

func main() {
	flag.Parse()

	dir := *configDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	bc, err := conf.SetupConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion

	if err := app.Run(&bc); err != nil {
		os.Exit(1)
	}
}
