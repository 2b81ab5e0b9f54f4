package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/infrastructure/relay"
)

const testTxRef = "TFT_1700000000000_ab12cd34e"

type mockChannel struct {
	frames [][]byte
	done   chan struct{}
}

func newMockChannel() *mockChannel { return &mockChannel{done: make(chan struct{})} }

func (m *mockChannel) ID() string              { return "mock" }
func (m *mockChannel) Type() string            { return "mock" }
func (m *mockChannel) Send(frame []byte) error { m.frames = append(m.frames, frame); return nil }
func (m *mockChannel) Close() error            { return nil }
func (m *mockChannel) Done() <-chan struct{}   { return m.done }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, hub.Event) error {
	return errors.New("broker unavailable")
}

func newTestRouter(t *testing.T, pub func(*hub.Hub) relay.Publisher, production bool) (*gin.Engine, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(hub.Config{}, logger.NewNop(), clockwork.NewFakeClock(), nil)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	eh := NewEventHandler(h, pub(h), domain.MustTxRefValidator(""), production, logger.NewNop())

	router := gin.New()
	router.POST("/api/transactions/events/trigger", eh.Trigger)
	router.GET("/hub/status", eh.Status)
	return router, h
}

func localPublisher(h *hub.Hub) relay.Publisher { return relay.NewLocal(h) }

func postTrigger(router http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/events/trigger", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestTrigger_PublishesToSubscribers(t *testing.T) {
	router, h := newTestRouter(t, localPublisher, false)
	ch := newMockChannel()
	require.NoError(t, h.Subscribe(h.NewSubscription(testTxRef, "user-1", ch)))

	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"status-update","data":{"status":"confirmed","amount":50000}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, testTxRef, resp["tx_ref"])
	assert.Equal(t, "status-update", resp["event_type"])
	assert.Equal(t, float64(1), resp["subscribers"])

	require.Len(t, ch.frames, 1)
	assert.Equal(t,
		"event: status-update\ndata: {\"tx_ref\":\""+testTxRef+"\",\"status\":\"confirmed\",\"amount\":50000}\n\n",
		string(ch.frames[0]),
	)
}

func TestTrigger_NoSubscribersStillSucceeds(t *testing.T) {
	router, _ := newTestRouter(t, localPublisher, false)

	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"heartbeat"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subscribers":0`)
}

func TestTrigger_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"missing tx_ref", `{"event_type":"heartbeat"}`},
		{"malformed tx_ref", `{"tx_ref":"ABC_1_x","event_type":"heartbeat"}`},
		{"connected kind", `{"tx_ref":"` + testTxRef + `","event_type":"connected"}`},
		{"unknown kind", `{"tx_ref":"` + testTxRef + `","event_type":"refund"}`},
		{"status missing", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{}}`},
		{"status unknown", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"settled"}}`},
		{"error message missing", `{"tx_ref":"` + testTxRef + `","event_type":"error"}`},
		{"amount as string", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"confirmed","amount":"50000"}}`},
		{"amount as object", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"confirmed","amount":{"value":1}}}`},
		{"amount out of range", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"confirmed","amount":1e400}}`},
		{"confirmed_at not RFC 3339", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"confirmed","confirmed_at":"2024-01-01 10:00:00"}}`},
		{"confirmed_at as number", `{"tx_ref":"` + testTxRef + `","event_type":"status-update","data":{"status":"confirmed","confirmed_at":1704103200}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, localPublisher, false)
			w := postTrigger(router, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestTrigger_DisabledInProduction(t *testing.T) {
	router, _ := newTestRouter(t, localPublisher, true)

	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"heartbeat"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTrigger_RelayFailure(t *testing.T) {
	router, _ := newTestRouter(t, func(*hub.Hub) relay.Publisher { return failingPublisher{} }, false)

	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"error","data":{"error":"timeout"}}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func getStatus(t *testing.T, router http.Handler) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hub/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestStatus(t *testing.T) {
	router, h := newTestRouter(t, localPublisher, false)
	require.NoError(t, h.Subscribe(h.NewSubscription(testTxRef, "user-1", newMockChannel())))
	require.NoError(t, h.Subscribe(h.NewSubscription(testTxRef, "user-1", newMockChannel())))

	resp := getStatus(t, router)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, true, resp["hub_running"])
	assert.Equal(t, float64(2), resp["subscriptions"])
	assert.Equal(t, float64(1), resp["topics"])

	require.NoError(t, h.Stop(context.Background()))

	resp = getStatus(t, router)
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, false, resp["hub_running"])
	assert.Equal(t, float64(0), resp["subscriptions"])
	assert.Equal(t, float64(0), resp["topics"])
}

func TestTrigger_AcceptsTypedStatusFields(t *testing.T) {
	router, h := newTestRouter(t, localPublisher, false)
	ch := newMockChannel()
	require.NoError(t, h.Subscribe(h.NewSubscription(testTxRef, "user-1", ch)))

	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"status-update","data":{"status":"confirmed","amount":2500.5,"confirmed_at":"2024-05-01T12:00:00+02:00"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ch.frames, 1)
	assert.Equal(t,
		"event: status-update\ndata: {\"tx_ref\":\""+testTxRef+"\",\"status\":\"confirmed\",\"amount\":2500.5,\"confirmed_at\":\"2024-05-01T12:00:00+02:00\"}\n\n",
		string(ch.frames[0]),
	)
}

func TestTrigger_PreservesLargeIntegers(t *testing.T) {
	router, h := newTestRouter(t, localPublisher, false)
	ch := newMockChannel()
	require.NoError(t, h.Subscribe(h.NewSubscription(testTxRef, "user-1", ch)))

	// 2^53 + 1 has no exact float64 representation.
	w := postTrigger(router, `{"tx_ref":"`+testTxRef+`","event_type":"status-update","data":{"status":"pending","amount":9007199254740993,"order_id":12345678901234567890}}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ch.frames, 1)
	frame := string(ch.frames[0])
	assert.Contains(t, frame, `"amount":9007199254740993`)
	assert.Contains(t, frame, `"order_id":12345678901234567890`)
}
