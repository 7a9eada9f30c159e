package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/api/handler"
	"github.com/qs3c/melody_go_server/internal/api/middleware"
)

type Router struct {
	generationHandler *handler.GenerationHandler
	callbackHandler   *handler.CallbackHandler
	providersHandler  *handler.ProvidersHandler
	quotaHandler      *handler.QuotaHandler
	websocketHandler  *handler.WebSocketHandler
	quota             middleware.QuotaReader
	healthCheck       func() error
	cfg               *config.Config
	logger            zerolog.Logger
}

func NewRouter(
	generationHandler *handler.GenerationHandler,
	callbackHandler *handler.CallbackHandler,
	providersHandler *handler.ProvidersHandler,
	quotaHandler *handler.QuotaHandler,
	websocketHandler *handler.WebSocketHandler,
	quota middleware.QuotaReader,
	healthCheck func() error,
	cfg *config.Config,
	logger zerolog.Logger,
) *Router {
	return &Router{
		generationHandler: generationHandler,
		callbackHandler:   callbackHandler,
		providersHandler:  providersHandler,
		quotaHandler:      quotaHandler,
		websocketHandler:  websocketHandler,
		quota:             quota,
		healthCheck:       healthCheck,
		cfg:               cfg,
		logger:            logger,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(r.logger))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.health)

	// OSS 未配置时由本进程提供本地音频文件
	if r.cfg.OSS.BucketName == "" && r.cfg.Storage.LocalDir != "" {
		engine.Static("/media", r.cfg.Storage.LocalDir)
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket（token 通过 query 传递）
		api.GET("/ws", r.websocketHandler.Handle)

		// 供应商回调，使用共享密钥而非用户令牌
		api.POST("/callbacks/suno", r.callbackHandler.Suno)

		// 公开接口 - 供应商目录
		api.GET("/providers", r.providersHandler.List)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.GET("/user/quota", r.quotaHandler.GetQuota)

			generations := authenticated.Group("/generations")
			{
				generations.POST("", middleware.QuotaCheck(r.quota), r.generationHandler.Submit)
				generations.GET("", r.generationHandler.List)
				generations.GET("/:id", r.generationHandler.Get)
				generations.DELETE("/:id", r.generationHandler.Cancel)
			}
		}
	}

	return engine
}

func (r *Router) health(c *gin.Context) {
	if r.healthCheck != nil {
		if err := r.healthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
