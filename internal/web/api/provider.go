package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/lumen/internal/conf"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewSessionStore, NewSessionCore, NewSessionAPI,
	NewReplayAPI,
)

type Usecase struct {
	Conf       *conf.Bootstrap
	DB         *gorm.DB
	SessionAPI SessionAPI
	ReplayAPI  ReplayAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})

	setupRouter(g, uc) // 设置路由处理函数
	return g           // 返回配置好的 Gin 实例作为 http.Handler
}
