package hub

import (
	"context"
	"time"

	"go-txstream-sse/internal/infrastructure/metrics"
)

// SweepResult summarizes one heartbeat pass.
type SweepResult struct {
	Heartbeats int
	Stale      int
	Dead       int
}

// Sweeper keeps channels alive with heartbeats and reclaims subscriptions
// whose disconnect was never observed.
type Sweeper struct {
	hub        *Hub
	interval   time.Duration
	staleAfter time.Duration
}

func newSweeper(h *Hub, cfg Config) *Sweeper {
	return &Sweeper{
		hub:        h,
		interval:   cfg.HeartbeatInterval,
		staleAfter: cfg.StaleAfter,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.hub.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.hub.logger.Info("Sweeper stopped")
			return
		case <-ticker.Chan():
			s.Sweep(s.hub.clock.Now())
		}
	}
}

// Sweep evicts subscriptions older than the staleness threshold without
// writing to them and sends a heartbeat to the rest. Failed heartbeats are
// evicted as dead.
func (s *Sweeper) Sweep(now time.Time) SweepResult {
	start := time.Now()
	defer func() { s.hub.metrics.ObserveSweep(time.Since(start).Seconds()) }()

	var (
		result SweepResult
		stale  []*Subscription
		dead   []*Subscription
	)

	for _, sub := range s.hub.registry.Snapshot() {
		if now.Sub(sub.ConnectedAt) > s.staleAfter {
			stale = append(stale, sub)
			continue
		}

		frame, err := HeartbeatEvent(sub.TxRef).Encode()
		if err == nil {
			err = sub.Channel.Send(frame)
		}
		if err != nil {
			s.hub.metrics.Delivered(false)
			dead = append(dead, sub)
			continue
		}
		s.hub.metrics.Delivered(true)
		result.Heartbeats++
	}

	s.hub.evict(stale, metrics.ReasonStale)
	s.hub.evict(dead, metrics.ReasonWriteFailed)
	result.Stale = len(stale)
	result.Dead = len(dead)

	if result.Stale > 0 || result.Dead > 0 {
		s.hub.logger.Infof("Sweep: %d heartbeats, %d stale, %d dead", result.Heartbeats, result.Stale, result.Dead)
	} else {
		s.hub.logger.Debugf("Sweep: %d heartbeats", result.Heartbeats)
	}
	return result
}
