package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
)

const testTxRef = "TFT_1700000000000_ab12cd34e"

type recordingSink struct {
	mu     sync.Mutex
	events []hub.Event
}

func (s *recordingSink) Publish(_ string, event hub.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return 1
}

func (s *recordingSink) received() []hub.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hub.Event(nil), s.events...)
}

func TestEnvelope_RoundTripPreservesNumbers(t *testing.T) {
	in := hub.NewEvent(hub.KindStatusUpdate, testTxRef, map[string]any{"status": "confirmed", "amount": 50000})

	data, err := encodeEnvelope(in)
	require.NoError(t, err)

	out, err := decodeEnvelope(data)
	require.NoError(t, err)

	frame, err := out.Encode()
	require.NoError(t, err)
	assert.Equal(t,
		"event: status-update\ndata: {\"tx_ref\":\""+testTxRef+"\",\"status\":\"confirmed\",\"amount\":50000}\n\n",
		string(frame),
	)
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `nope`,
		"connected kind": `{"kind":"connected","tx_ref":"TFT_1_a"}`,
		"unknown kind":   `{"kind":"chat","tx_ref":"TFT_1_a"}`,
		"missing tx_ref": `{"kind":"heartbeat"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeEnvelope([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestNew_Drivers(t *testing.T) {
	r, err := New(Options{Driver: DriverLocal}, &recordingSink{}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, r)

	_, err = New(Options{Driver: "kafka"}, &recordingSink{}, logger.NewNop())
	assert.Error(t, err)

	_, err = New(Options{Driver: DriverRedis, RedisURL: "://bad"}, &recordingSink{}, logger.NewNop())
	assert.Error(t, err)
}

func TestLocal_PublishDeliversImmediately(t *testing.T) {
	sink := &recordingSink{}
	l := NewLocal(sink)

	require.NoError(t, l.Publish(context.Background(), hub.HeartbeatEvent(testTxRef)))

	require.Len(t, sink.received(), 1)
	assert.Equal(t, testTxRef, sink.received()[0].TxRef)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.Run(ctx))
}

func runNATSServer(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSRelay_FanOutAcrossInstances(t *testing.T) {
	url := runNATSServer(t)

	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	relayA, err := NewNATSRelay(url, sinkA, logger.NewNop())
	require.NoError(t, err)
	defer relayA.Close()
	relayB, err := NewNATSRelay(url, sinkB, logger.NewNop())
	require.NoError(t, err)
	defer relayB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	<-relayA.Ready()
	<-relayB.Ready()

	require.NoError(t, relayA.Publish(ctx, hub.ErrorEvent(testTxRef, "gateway timeout")))

	for _, sink := range []*recordingSink{sinkA, sinkB} {
		require.Eventually(t, func() bool { return len(sink.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
		got := sink.received()[0]
		assert.Equal(t, hub.KindError, got.Kind)
		assert.Equal(t, testTxRef, got.TxRef)
		assert.Equal(t, "gateway timeout", got.Data()["error"])
	}
}
