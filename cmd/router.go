package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/config"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/infrastructure/metrics"
	"go-txstream-sse/internal/infrastructure/relay"
	"go-txstream-sse/internal/interfaces/rest/v1/handler"
	"go-txstream-sse/internal/interfaces/sse"
	"go-txstream-sse/internal/interfaces/websocket"
	"go-txstream-sse/internal/port/inbound"
)

type routerDeps struct {
	cfg       *config.Config
	log       logger.Logger
	hub       *hub.Hub
	access    inbound.StreamAccessUseCase
	publisher relay.Publisher
	validator *domain.TxRefValidator
	registry  *prometheus.Registry
}

func InitRouter(d routerDeps) http.Handler {
	if d.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger(d.log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	rootGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	rootGroup.GET("/metrics", gin.WrapH(metrics.Handler(d.registry)))

	eventHandler := handler.NewEventHandler(d.hub, d.publisher, d.validator, d.cfg.IsProduction(), d.log)
	rootGroup.GET("/hub/status", eventHandler.Status)
	rootGroup.POST("/api/transactions/events/trigger", eventHandler.Trigger)

	sse.InitSSERouter(d.log, d.hub, d.access, sse.Options{
		CookieName:   d.cfg.AuthCookieName,
		WriteTimeout: d.cfg.StreamWriteTimeout,
	}, rootGroup)
	websocket.InitWebSocketRouter(d.log, d.hub, d.access, websocket.Options{
		CookieName:     d.cfg.AuthCookieName,
		WriteTimeout:   d.cfg.StreamWriteTimeout,
		AllowedOrigins: d.cfg.Origins(),
	}, rootGroup)

	return router
}

// requestLogger logs each request once it completes. Streams log when they
// close, so latency is the stream lifetime.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithField("component", "router")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed")
			return
		}
		entry.Debug("Request completed")
	}
}
