// Package relay carries producer events to the hub of every serving instance.
// The local driver delivers in-process; the redis and nats drivers fan out
// through an external broker so a producer on one instance reaches
// subscribers connected to another.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
)

const (
	DriverLocal = "local"
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// Sink receives relayed events. *hub.Hub satisfies it.
type Sink interface {
	Publish(txRef string, event hub.Event) int
}

// Publisher is the producer-facing side of a relay.
type Publisher interface {
	Publish(ctx context.Context, event hub.Event) error
}

type Relay interface {
	Publisher
	// Run consumes relayed events into the sink until ctx is cancelled.
	Run(ctx context.Context) error
	// Ready is closed once Run is receiving.
	Ready() <-chan struct{}
	Close() error
}

type Options struct {
	Driver   string
	RedisURL string
	NATSURL  string
}

func New(opts Options, sink Sink, log logger.Logger) (Relay, error) {
	switch opts.Driver {
	case "", DriverLocal:
		return NewLocal(sink), nil
	case DriverRedis:
		return NewRedisRelay(opts.RedisURL, sink, log)
	case DriverNATS:
		return NewNATSRelay(opts.NATSURL, sink, log)
	default:
		return nil, fmt.Errorf("unknown relay driver %q", opts.Driver)
	}
}

// envelope is the broker message body.
type envelope struct {
	Kind  string         `json:"kind"`
	TxRef string         `json:"tx_ref"`
	Data  map[string]any `json:"data,omitempty"`
}

func encodeEnvelope(e hub.Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Kind: string(e.Kind), TxRef: e.TxRef, Data: e.Data()})
	if err != nil {
		return nil, fmt.Errorf("marshal relay envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(b []byte) (hub.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return hub.Event{}, fmt.Errorf("unmarshal relay envelope: %w", err)
	}
	kind, ok := hub.ParseEventKind(env.Kind)
	if !ok {
		return hub.Event{}, fmt.Errorf("relay envelope has unsupported kind %q", env.Kind)
	}
	if env.TxRef == "" {
		return hub.Event{}, fmt.Errorf("relay envelope has no tx_ref")
	}
	return hub.NewEvent(kind, env.TxRef, env.Data), nil
}
