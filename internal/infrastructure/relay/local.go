package relay

import (
	"context"

	"go-txstream-sse/internal/infrastructure/hub"
)

// Local delivers straight into the in-process hub. Producers and subscribers
// on different instances never see each other with this driver.
type Local struct {
	sink  Sink
	ready chan struct{}
}

func NewLocal(sink Sink) *Local {
	ready := make(chan struct{})
	close(ready)
	return &Local{sink: sink, ready: ready}
}

func (l *Local) Publish(_ context.Context, event hub.Event) error {
	l.sink.Publish(event.TxRef, event)
	return nil
}

func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Ready() <-chan struct{} { return l.ready }

func (l *Local) Close() error { return nil }
