package sse

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-txstream-sse/internal/infrastructure/auth"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/interfaces/httpx"
	"go-txstream-sse/internal/port/inbound"
)

type ServerSentEventHandler struct {
	hub          *hub.Hub
	access       inbound.StreamAccessUseCase
	cookieName   string
	writeTimeout time.Duration
	logger       logger.Logger
}

type Options struct {
	CookieName   string
	WriteTimeout time.Duration
}

func NewServerSentEventHandler(
	hubInstance *hub.Hub,
	access inbound.StreamAccessUseCase,
	opts Options,
	logger logger.Logger,
) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		hub:          hubInstance,
		access:       access,
		cookieName:   opts.CookieName,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.WithField("handler", "sse"),
	}
}

// Stream serves GET /api/transactions/stream?tx_ref=. The response stays open
// until the client goes away or the hub drops the subscription.
func (h *ServerSentEventHandler) Stream(c *gin.Context) {
	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		httpx.ServiceUnavailable(c)
		return
	}

	txRef := c.Query("tx_ref")
	ctx := c.Request.Context()
	userID, err := h.access.Authorize(ctx, inbound.StreamAccessRequest{
		TxRef:       txRef,
		AccessToken: auth.TokenFromRequest(c.Request, h.cookieName),
	})
	if err != nil {
		httpx.AbortWithError(c, err, h.logger.WithField("tx_ref", txRef))
		return
	}

	ch := hub.NewSSEChannel("sse-"+uuid.NewString(), c.Writer, h.writeTimeout, h.logger)
	defer ch.Close()

	frame, err := hub.ConnectedEvent(txRef).Encode()
	if err != nil {
		httpx.AbortWithError(c, err, h.logger)
		return
	}
	if err := ch.Send(frame); err != nil {
		h.logger.WithError(err).Info("Client went away before the stream opened")
		return
	}

	sub := h.hub.NewSubscription(txRef, userID, ch)
	log := h.logger.WithFields(logger.Fields{"tx_ref": txRef, "subscription_id": sub.ID})
	if err := h.hub.Subscribe(sub); err != nil {
		// The hub stopped after the running check; end the stream so the
		// client reconnects elsewhere.
		log.WithError(err).Warn("Subscription refused")
		return
	}
	defer h.hub.Unsubscribe(sub)

	select {
	case <-ctx.Done():
		log.Info("Client disconnected")
	case <-ch.Done():
		log.Info("Stream closed by server")
	}
}
