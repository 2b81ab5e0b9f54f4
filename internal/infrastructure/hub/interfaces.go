package hub

import (
	"errors"
	"time"
)

var ErrChannelClosed = errors.New("channel is closed")

// Channel is a push-capable sink to one consumer (SSE response stream,
// WebSocket, ...). It is owned by the stream endpoint that opened it; the
// registry only references it.
type Channel interface {
	ID() string
	Type() string
	// Send writes one already-framed event. Any error means the channel is dead.
	Send(frame []byte) error
	// Close is idempotent and releases the endpoint waiting on Done.
	Close() error
	Done() <-chan struct{}
}

// Subscription binds a channel to the transaction reference it listens on.
type Subscription struct {
	ID          string
	Channel     Channel
	OwnerID     string
	TxRef       string
	ConnectedAt time.Time
}
