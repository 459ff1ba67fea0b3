package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/lumen/internal/conf"
	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/internal/core/session"
	"github.com/gowvp/lumen/internal/core/session/store/sessiondb"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// SessionAPI 为 http 提供业务方法
type SessionAPI struct {
	core *session.Core
}

// NewSessionStore 创建会话存储层
func NewSessionStore(db *gorm.DB) session.Storer {
	return sessiondb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewSessionCore 创建会话核心服务，并启动清理协程
func NewSessionCore(store session.Storer, cfg *conf.Bootstrap, log *slog.Logger) (*session.Core, func()) {
	core := session.NewCore(store, cfg, session.WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	if err := core.RecoverInterrupted(ctx); err != nil {
		slog.Warn("recover interrupted sessions", "err", err)
	}
	var wg sync.WaitGroup
	wg.Go(func() { core.StartCleanupWorker(ctx) })

	return core, func() {
		cancel()
		// 等待清理协程删完当前目录再退出
		wg.Wait()
		if err := core.Close(context.Background()); err != nil {
			slog.Warn("close active session", "err", err)
		}
	}
}

func NewSessionAPI(core *session.Core) SessionAPI {
	return SessionAPI{core: core}
}

func RegisterSession(g gin.IRouter, api SessionAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/sessions", handler...)
	group.POST("", web.WrapH(api.begin))
	group.GET("", web.WrapH(api.findSessions))
	group.GET("/:id", web.WrapH(api.getSession))

	cur := group.Group("/current")
	cur.GET("/status", web.WrapH(api.status))
	cur.PUT("/sample", web.WrapH(api.updateSample))
	cur.POST("/events", web.WrapH(api.capture))
	cur.POST("/pause", web.WrapH(api.pause))
	cur.POST("/resume", web.WrapH(api.resume))
	cur.POST("/end", web.WrapH(api.end))
}

func (a SessionAPI) begin(c *gin.Context, in *session.BeginInput) (*session.Session, error) {
	return a.core.Begin(c.Request.Context(), in)
}

// findSessions 分页查询会话
func (a SessionAPI) findSessions(c *gin.Context, in *session.FindSessionInput) (any, error) {
	items, total, err := a.core.FindSessions(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a SessionAPI) getSession(c *gin.Context, _ *struct{}) (*session.Session, error) {
	return a.core.GetSession(c.Request.Context(), c.Param("id"))
}

func (a SessionAPI) status(_ *gin.Context, _ *struct{}) (session.StatusOutput, error) {
	return a.core.Status(), nil
}

// updateSample 宿主引擎推送最新状态
func (a SessionAPI) updateSample(_ *gin.Context, in *capture.Sample) (any, error) {
	a.core.UpdateSample(*in)
	return gin.H{}, nil
}

func (a SessionAPI) capture(_ *gin.Context, in *session.CaptureInput) (any, error) {
	return gin.H{}, a.core.Capture(in.Event)
}

func (a SessionAPI) pause(_ *gin.Context, _ *struct{}) (any, error) {
	return gin.H{}, a.core.Pause()
}

func (a SessionAPI) resume(_ *gin.Context, _ *struct{}) (any, error) {
	return gin.H{}, a.core.Resume()
}

func (a SessionAPI) end(c *gin.Context, _ *struct{}) (*session.Session, error) {
	return a.core.End(c.Request.Context())
}
