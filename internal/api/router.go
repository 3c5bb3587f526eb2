// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Corphon/BugReportConstructor/internal/auth"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

// RouterConfig carries what SetupRouter needs besides the handler.
type RouterConfig struct {
	Handler            *Handler
	Logger             *zap.Logger
	Metrics            *utils.Metrics
	TokenConfig        *auth.TokenConfig
	RateLimiter        *RateLimiter
	RateLimitPerMinute int
	DebugMode          bool
}

// SetupRouter builds the gin engine.
func SetupRouter(cfg RouterConfig) *gin.Engine {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter()
	}
	handler := cfg.Handler

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(UserScopeMiddleware(cfg.TokenConfig))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.GET("/health", handler.Health)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	r.GET("/ws/documents", handler.DocumentsWebSocket)

	api := r.Group("/api")
	api.Use(RateLimitByUser(cfg.RateLimiter, cfg.RateLimitPerMinute, time.Minute))
	{
		// document store
		api.GET("/saved-blocks", handler.GetSavedBlocks)
		api.POST("/saved-blocks", handler.SaveSavedBlocks)
		api.GET("/output-formats", handler.GetOutputFormats)
		api.POST("/output-formats", handler.SaveOutputFormats)

		api.POST("/render", handler.Render)
		api.POST("/fields", handler.Fields)
		api.GET("/placeholders", handler.Placeholders)

		api.GET("/ws/status", handler.WebSocketStatus)
	}

	return r
}
