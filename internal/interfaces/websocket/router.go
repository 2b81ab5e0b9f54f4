package websocket

import (
	"github.com/gin-gonic/gin"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/port/inbound"
)

// InitWebSocketRouter initializes WebSocket routes
func InitWebSocketRouter(
	logger logger.Logger,
	hubInstance *hub.Hub,
	access inbound.StreamAccessUseCase,
	opts Options,
	rg *gin.RouterGroup,
) {
	wsHandler := NewWebSocketHandler(hubInstance, access, opts, logger)

	rg.GET("/ws/transactions", wsHandler.Connect)
}
