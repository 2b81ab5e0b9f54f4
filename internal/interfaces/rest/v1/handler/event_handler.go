package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/infrastructure/relay"
)

// EventHandler lets developers inject events into a stream. It is disabled in
// production, where events come from the payment flow.
type EventHandler struct {
	hub        *hub.Hub
	publisher  relay.Publisher
	validator  *domain.TxRefValidator
	production bool
	logger     logger.Logger
}

type TriggerEventRequest struct {
	TxRef     string         `json:"tx_ref" binding:"required"`
	EventType string         `json:"event_type" binding:"required"`
	Data      map[string]any `json:"data"`
}

func NewEventHandler(
	hubInstance *hub.Hub,
	publisher relay.Publisher,
	validator *domain.TxRefValidator,
	production bool,
	logger logger.Logger,
) *EventHandler {
	return &EventHandler{
		hub:        hubInstance,
		publisher:  publisher,
		validator:  validator,
		production: production,
		logger:     logger.WithField("handler", "events"),
	}
}

var (
	errEmptyBody       = errors.New("request body is empty")
	errStatusRequired  = errors.New("data.status must be one of pending, confirmed, failed, cancelled")
	errErrorRequired   = errors.New("data.error is required")
	errAmountNumber    = errors.New("data.amount must be a number")
	errConfirmedAtTime = errors.New("data.confirmed_at must be an RFC 3339 timestamp")
)

// bindTrigger decodes numbers in data as json.Number so integer amounts reach
// subscribers with every digit intact.
func bindTrigger(r *http.Request, req *TriggerEventRequest) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(req); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(req)
}

func (h *EventHandler) Trigger(c *gin.Context) {
	if h.production {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Event triggering is disabled in production",
		})
		return
	}

	var req TriggerEventRequest
	if err := bindTrigger(c.Request, &req); err != nil {
		h.logger.Debugf("Invalid trigger request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	event, err := h.buildEvent(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	subscribers := h.hub.SubscriberCount(req.TxRef)
	if err := h.publisher.Publish(c.Request.Context(), event); err != nil {
		h.logger.WithError(err).WithField("tx_ref", req.TxRef).Error("Failed to publish event")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to publish event",
		})
		return
	}

	h.logger.WithFields(logger.Fields{
		"tx_ref": req.TxRef,
		"event":  event.Kind,
	}).Infof("Test event published to %d local subscribers", subscribers)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"tx_ref":      req.TxRef,
		"event_type":  event.Kind,
		"subscribers": subscribers,
	})
}

func (h *EventHandler) buildEvent(req TriggerEventRequest) (hub.Event, error) {
	if err := h.validator.Validate(req.TxRef); err != nil {
		return hub.Event{}, err
	}

	kind, ok := hub.ParseEventKind(req.EventType)
	if !ok {
		return hub.Event{}, errors.New("event_type must be one of status-update, error, heartbeat")
	}

	switch kind {
	case hub.KindStatusUpdate:
		if err := validateStatusUpdate(req.Data); err != nil {
			return hub.Event{}, err
		}
	case hub.KindError:
		if msg, _ := req.Data["error"].(string); msg == "" {
			return hub.Event{}, errErrorRequired
		}
	}
	return hub.NewEvent(kind, req.TxRef, req.Data), nil
}

// validateStatusUpdate checks the fields stream clients decode with a fixed
// type. A null amount or confirmed_at counts as absent.
func validateStatusUpdate(data map[string]any) error {
	status, _ := data["status"].(string)
	if !domain.TransactionStatus(status).IsValid() {
		return errStatusRequired
	}

	switch v := data["amount"].(type) {
	case nil:
	case json.Number:
		if _, err := v.Float64(); err != nil {
			return fmt.Errorf("%w: %v", errAmountNumber, err)
		}
	case float64, int, int64:
	default:
		return errAmountNumber
	}

	switch v := data["confirmed_at"].(type) {
	case nil:
	case string:
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return errConfirmedAtTime
		}
	default:
		return errConfirmedAtTime
	}
	return nil
}

// Status reports hub liveness and registry size.
func (h *EventHandler) Status(c *gin.Context) {
	isRunning := h.hub.IsRunning()
	status := "healthy"
	if !isRunning {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"hub_running":   isRunning,
		"subscriptions": h.hub.SubscriptionCount(),
		"topics":        h.hub.TopicCount(),
	})
}
