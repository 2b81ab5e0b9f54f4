package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/infrastructure/metrics"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleAfter        = 5 * time.Minute
)

// ErrHubNotRunning is returned by Subscribe before Start and after Stop.
var ErrHubNotRunning = errors.New("hub is not running")

type Config struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Hub owns the subscription registry, delivers published events to it and
// runs the heartbeat sweeper while started.
type Hub struct {
	registry *Registry
	sweeper  *Sweeper
	clock    clockwork.Clock
	logger   logger.Logger
	metrics  *metrics.HubMetrics

	running   bool
	runningMu sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Hub. clock and m may be nil.
func New(cfg Config, log logger.Logger, clock clockwork.Clock, m *metrics.HubMetrics) *Hub {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	h := &Hub{
		registry: NewRegistry(),
		clock:    clock,
		logger:   log.WithField("component", "hub"),
		metrics:  m,
	}
	h.sweeper = newSweeper(h, cfg)
	return h
}

// Start launches the heartbeat sweeper.
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub is already running")
	}

	sctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.running = true

	go func() {
		defer close(h.done)
		h.sweeper.Run(sctx)
	}()

	h.logger.Info("Hub started")
	return nil
}

// Stop halts the sweeper and closes every registered channel, which releases
// the endpoints blocked on them.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		h.logger.Warn("Timed out waiting for sweeper to exit")
	}

	subs := h.registry.Drain()
	for _, sub := range subs {
		if err := sub.Channel.Close(); err != nil {
			h.logger.Errorf("Failed to close channel %s: %v", sub.ID, err)
		}
		h.metrics.Removed(metrics.ReasonShutdown)
	}
	h.syncGauges()

	h.running = false
	h.logger.Infof("Hub stopped, closed %d subscriptions", len(subs))
	return nil
}

func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// NewSubscription stamps a subscription with an id and the current time.
func (h *Hub) NewSubscription(txRef, ownerID string, ch Channel) *Subscription {
	return &Subscription{
		ID:          uuid.NewString(),
		Channel:     ch,
		OwnerID:     ownerID,
		TxRef:       txRef,
		ConnectedAt: h.clock.Now(),
	}
}

// Subscribe registers sub. It fails with ErrHubNotRunning once Stop has
// drained the registry, so no subscription outlives shutdown.
func (h *Hub) Subscribe(sub *Subscription) error {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}

	h.registry.Subscribe(sub.TxRef, sub)
	h.syncGauges()
	h.logger.WithFields(logger.Fields{
		"tx_ref":          sub.TxRef,
		"subscription_id": sub.ID,
		"channel":         sub.Channel.Type(),
	}).Infof("Subscription registered (%d on topic)", h.registry.CountSubscribers(sub.TxRef))
	return nil
}

// Unsubscribe is the client-initiated teardown path. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if h.registry.Unsubscribe(sub.TxRef, sub) {
		h.metrics.Removed(metrics.ReasonDisconnect)
		h.syncGauges()
		h.logger.WithFields(logger.Fields{
			"tx_ref":          sub.TxRef,
			"subscription_id": sub.ID,
		}).Info("Subscription removed")
	}
}

// Publish writes event to every subscriber of txRef and returns how many
// writes succeeded. Subscribers whose write fails are removed. With no
// subscribers the event is dropped; nothing is buffered.
func (h *Hub) Publish(txRef string, event Event) int {
	h.metrics.Published(string(event.Kind))
	log := h.logger.WithFields(logger.Fields{"tx_ref": txRef, "event": event.Kind})

	subs := h.registry.Subscribers(txRef)
	if len(subs) == 0 {
		h.metrics.Dropped()
		log.Warn("No subscribers, event dropped")
		return 0
	}

	frame, err := event.Encode()
	if err != nil {
		log.WithError(err).Error("Failed to encode event")
		return 0
	}

	var dead []*Subscription
	delivered := 0
	for _, sub := range subs {
		if err := sub.Channel.Send(frame); err != nil {
			h.metrics.Delivered(false)
			log.WithField("subscription_id", sub.ID).Debugf("Write failed: %v", err)
			dead = append(dead, sub)
			continue
		}
		h.metrics.Delivered(true)
		delivered++
	}

	h.evict(dead, metrics.ReasonWriteFailed)
	log.Debugf("Delivered to %d of %d subscribers", delivered, len(subs))
	return delivered
}

// evict removes subs from the registry and closes their channels.
func (h *Hub) evict(subs []*Subscription, reason string) {
	if len(subs) == 0 {
		return
	}
	for _, sub := range subs {
		if h.registry.Unsubscribe(sub.TxRef, sub) {
			h.metrics.Removed(reason)
		}
		_ = sub.Channel.Close()
	}
	h.syncGauges()
	h.logger.WithField("reason", reason).Infof("Evicted %d subscriptions", len(subs))
}

func (h *Hub) syncGauges() {
	h.metrics.SetActive(h.registry.CountAll(), h.registry.CountTopics())
}

func (h *Hub) SubscriberCount(txRef string) int { return h.registry.CountSubscribers(txRef) }

func (h *Hub) SubscriptionCount() int { return h.registry.CountAll() }

func (h *Hub) TopicCount() int { return h.registry.CountTopics() }

// Sweep runs one heartbeat pass immediately.
func (h *Hub) Sweep() SweepResult { return h.sweeper.Sweep(h.clock.Now()) }
