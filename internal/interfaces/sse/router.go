package sse

import (
	"github.com/gin-gonic/gin"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/port/inbound"
)

// InitSSERouter registers the transaction stream endpoint.
func InitSSERouter(
	logger logger.Logger,
	hubInstance *hub.Hub,
	access inbound.StreamAccessUseCase,
	opts Options,
	rg *gin.RouterGroup,
) {
	sseHandler := NewServerSentEventHandler(hubInstance, access, opts, logger)

	rg.GET("/api/transactions/stream", sseHandler.Stream)
}
