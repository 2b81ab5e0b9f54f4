package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
)

// tx_refs never contain dots, so each maps to exactly one subject token.
const natsSubjectPrefix = "txstream."

func natsSubject(txRef string) string {
	return natsSubjectPrefix + txRef
}

// NATSRelay fans events out through core NATS subjects.
type NATSRelay struct {
	nc     *nats.Conn
	sink   Sink
	logger logger.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewNATSRelay(url string, sink Sink, log logger.Logger) (*NATSRelay, error) {
	l := log.WithField("component", "nats-relay")
	nc, err := nats.Connect(url,
		nats.Name("txstream"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATSRelay{
		nc:     nc,
		sink:   sink,
		logger: l,
		ready:  make(chan struct{}),
	}, nil
}

func (r *NATSRelay) Publish(_ context.Context, event hub.Event) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}
	if err := r.nc.Publish(natsSubject(event.TxRef), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", event.TxRef, err)
	}
	return nil
}

func (r *NATSRelay) Run(ctx context.Context) error {
	sub, err := r.nc.Subscribe(natsSubjectPrefix+"*", func(msg *nats.Msg) {
		event, err := decodeEnvelope(msg.Data)
		if err != nil {
			r.logger.WithField("subject", msg.Subject).Warnf("Dropping relay message: %v", err)
			return
		}
		r.sink.Publish(event.TxRef, event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// Flush round-trips to the server so the subscription is live before ready.
	if err := r.nc.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("NATS relay subscribed")

	<-ctx.Done()
	return nil
}

func (r *NATSRelay) Ready() <-chan struct{} { return r.ready }

func (r *NATSRelay) Close() error {
	r.nc.Close()
	return nil
}
