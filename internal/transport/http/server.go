// Package http exposes the WebSocket chat endpoint over a gin router.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/config"
	"github.com/vovakirdan/onechat-server/internal/core"
)

// NewServer builds the HTTP server with the health and WebSocket routes.
func NewServer(registry *core.Registry, hub *core.Hub, dispatcher *core.Dispatcher, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(LoggerMiddleware(logger), gin.Recovery())
	engine.GET("/health", healthHandler)
	engine.GET("/ws", gin.WrapH(NewWSHandler(registry, hub, dispatcher, cfg.MaxMessageBytes, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
