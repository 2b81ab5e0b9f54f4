package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-txstream-sse/internal/infrastructure/auth"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/interfaces/httpx"
	"go-txstream-sse/internal/port/inbound"
)

// WebSocketHandler serves the transaction stream to clients that prefer a
// WebSocket. Each message carries one SSE-formatted frame.
type WebSocketHandler struct {
	hub          *hub.Hub
	access       inbound.StreamAccessUseCase
	cookieName   string
	writeTimeout time.Duration
	logger       logger.Logger
	checkOrigin  func(r *http.Request) bool
	upgrader     websocket.Upgrader
}

type Options struct {
	CookieName   string
	WriteTimeout time.Duration
	// AllowedOrigins lists cross-site origins, e.g. https://app.example.com,
	// that may open a stream. Same-origin requests and clients that send no
	// Origin header are always accepted.
	AllowedOrigins []string
	// CheckOrigin replaces the origin policy entirely when set.
	CheckOrigin func(r *http.Request) bool
}

func NewWebSocketHandler(
	hubInstance *hub.Hub,
	access inbound.StreamAccessUseCase,
	opts Options,
	logger logger.Logger,
) *WebSocketHandler {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = newOriginPolicy(opts.AllowedOrigins).Allow
	}
	return &WebSocketHandler{
		hub:          hubInstance,
		access:       access,
		cookieName:   opts.CookieName,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.WithField("handler", "websocket"),
		checkOrigin:  checkOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Connect authorizes the caller over plain HTTP so rejections carry a
// status code, then upgrades. The origin is checked first: browsers attach the
// auth cookie to cross-site WebSocket handshakes.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		httpx.ServiceUnavailable(c)
		return
	}

	if !h.checkOrigin(c.Request) {
		h.logger.WithField("origin", c.GetHeader("Origin")).Warn("Rejected cross-origin WebSocket request")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
		return
	}

	txRef := c.Query("tx_ref")
	userID, err := h.access.Authorize(c.Request.Context(), inbound.StreamAccessRequest{
		TxRef:       txRef,
		AccessToken: auth.TokenFromRequest(c.Request, h.cookieName),
	})
	if err != nil {
		httpx.AbortWithError(c, err, h.logger.WithField("tx_ref", txRef))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	ch := hub.NewWebSocketChannel("ws-"+uuid.NewString(), conn, h.writeTimeout, h.logger)
	defer ch.Close()

	frame, err := hub.ConnectedEvent(txRef).Encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode connected event")
		return
	}
	if err := ch.Send(frame); err != nil {
		h.logger.WithError(err).Info("Client went away before the stream opened")
		return
	}

	sub := h.hub.NewSubscription(txRef, userID, ch)
	log := h.logger.WithFields(logger.Fields{"tx_ref": txRef, "subscription_id": sub.ID})
	if err := h.hub.Subscribe(sub); err != nil {
		log.WithError(err).Warn("Subscription refused")
		return
	}
	defer h.hub.Unsubscribe(sub)

	// The request context is detached from a hijacked connection; the read
	// pump closes the channel when the peer leaves.
	<-ch.Done()
	log.Info("WebSocket stream closed")
}
