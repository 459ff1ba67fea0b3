package api

import (
	"cmp"
	"expvar"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/ixugo/goddd/pkg/web"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "path", c.Request.URL.Path, "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		// 高频轮询接口，不记录访问日志
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/replays/current/state"),
			web.IgnorePrefix("/sessions/current/sample"),
		),
		web.LoggerWithBody(web.DefaultBodyLimit,
			web.IgnoreBool(uc.Conf.Server.Debug),
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/replays/current/state"),
			web.IgnorePrefix("/sessions/current/sample"),
		),
		// 实验控制台与宿主引擎可能来自任意源
		cors.New(cors.Config{
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Authorization", "X-Request-ID"},
			AllowOriginFunc:  func(string) bool { return true },
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)
	go web.CountGoroutines(10*time.Minute, 20)

	r.GET("/health", web.WrapH(uc.getHealth))
	r.GET("/diagnostics", web.WrapH(uc.getDiagnostics))

	RegisterSession(r, uc.SessionAPI)
	// 骨骼数据量大，回放接口压缩输出
	RegisterReplay(r, uc.ReplayAPI, gzip.Gzip(gzip.DefaultCompression))
}

type getHealthOutput struct {
	Version string    `json:"version"`
	StartAt time.Time `json:"start_at"`
	Active  string    `json:"active_session,omitempty"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (getHealthOutput, error) {
	return getHealthOutput{
		Version: uc.Conf.BuildVersion,
		StartAt: startRuntime,
		Active:  uc.SessionAPI.core.Active(),
	}, nil
}

type getDiagnosticsOutput struct {
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	NumGC      uint32 `json:"num_gc"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	SysAlloc   uint64 `json:"sys_alloc"`
	Requests   int64  `json:"requests"`  // 总请求数
	TopPaths   []KV   `json:"top_paths"` // 请求最多的接口
	Statuses   []KV   `json:"statuses"`  // 状态码分布

	Session any `json:"session"` // 采集状态，含丢帧与动捕连接
}

// getDiagnostics 运行时与采集诊断，GC 次数可用来观察采集路径是否产生分配
func (uc *Usecase) getDiagnostics(_ *gin.Context, _ *struct{}) (*getDiagnosticsOutput, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := getDiagnosticsOutput{
		Uptime:     time.Since(startRuntime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		NumGC:      ms.NumGC,
		HeapAlloc:  ms.HeapAlloc,
		SysAlloc:   ms.Sys,
		Session:    uc.SessionAPI.core.Status(),
	}
	if v, ok := expvar.Get("requests").(*expvar.Int); ok {
		out.Requests = v.Value()
	}
	if m, ok := expvar.Get("requestURLs").(*expvar.Map); ok {
		out.TopPaths = topN(m, 10)
	}
	if m, ok := expvar.Get("statusCodes").(*expvar.Map); ok {
		out.Statuses = topN(m, 10)
	}
	return &out, nil
}

type KV struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

func topN(m *expvar.Map, n int) []KV {
	kvs := make([]KV, 0, 8)
	m.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			kvs = append(kvs, KV{Key: kv.Key, Value: v.Value()})
		}
	})
	slices.SortFunc(kvs, func(a, b KV) int { return cmp.Compare(b.Value, a.Value) })
	return kvs[:min(n, len(kvs))]
}
