package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gowvp/lumen/internal/conf"
)

// Run 启动服务，收到退出信号后结束进行中的会话再退出
func Run(bc *conf.Bootstrap) error {
	log, clean := SetupLog(bc)
	defer clean()

	handler, cleanUp, err := wireApp(bc, log)
	if err != nil {
		log.Error("程序构建失败", "err", err)
		return err
	}
	defer cleanUp()

	timeout := bc.Server.HTTP.Timeout.Duration()
	svc := http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(bc.Server.HTTP.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", svc.Addr, "version", bc.BuildVersion)
		errCh <- svc.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	return nil
}
