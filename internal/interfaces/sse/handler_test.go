package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/port/inbound"
)

const testTxRef = "TFT_1700000000000_ab12cd34e"

type mockAccess struct {
	err     error
	lastReq inbound.StreamAccessRequest
}

func (m *mockAccess) Authorize(_ context.Context, req inbound.StreamAccessRequest) (string, error) {
	m.lastReq = req
	if m.err != nil {
		return "", m.err
	}
	return "user-1", nil
}

func newTestRouter(t *testing.T, access inbound.StreamAccessUseCase, start bool) (*gin.Engine, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(hub.Config{}, logger.NewNop(), clockwork.NewFakeClock(), nil)
	if start {
		require.NoError(t, h.Start(context.Background()))
		t.Cleanup(func() { _ = h.Stop(context.Background()) })
	}

	router := gin.New()
	InitSSERouter(logger.NewNop(), h, access, Options{}, router.Group(""))
	return router, h
}

func TestStream_RejectsBeforeOpening(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid tx_ref", domain.ErrInvalidTxRef, http.StatusBadRequest},
		{"unauthenticated", domain.ErrUnauthenticated, http.StatusUnauthorized},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"not found", domain.ErrTransactionNotFound, http.StatusNotFound},
		{"store failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, h := newTestRouter(t, &mockAccess{err: tt.err}, true)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/transactions/stream?tx_ref="+testTxRef, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
			assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
			assert.Zero(t, h.SubscriptionCount())
		})
	}
}

func TestStream_HubNotRunning(t *testing.T) {
	access := &mockAccess{}
	router, _ := newTestRouter(t, access, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transactions/stream?tx_ref="+testTxRef, nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, access.lastReq.TxRef)
}

func TestStream_PassesCredentials(t *testing.T) {
	access := &mockAccess{err: domain.ErrForbidden}
	router, _ := newTestRouter(t, access, true)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/stream?tx_ref="+testTxRef, nil)
	req.Header.Set("Authorization", "Bearer token-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, testTxRef, access.lastReq.TxRef)
	assert.Equal(t, "token-1", access.lastReq.AccessToken)
}

// readFrame reads one "event:/data:" block.
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		b.WriteString(line)
		if line == "\n" {
			return b.String()
		}
	}
}

func TestStream_DeliversEventsUntilClientLeaves(t *testing.T) {
	router, h := newTestRouter(t, &mockAccess{}, true)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/transactions/stream?tx_ref="+testTxRef, nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "event: connected\ndata: {\"tx_ref\":\""+testTxRef+"\"}\n\n", readFrame(t, r))

	require.Eventually(t, func() bool { return h.SubscriberCount(testTxRef) == 1 }, time.Second, 5*time.Millisecond)

	n := h.Publish(testTxRef, hub.NewEvent(hub.KindStatusUpdate, testTxRef, map[string]any{"status": "confirmed", "amount": 50000}))
	assert.Equal(t, 1, n)
	assert.Equal(t,
		"event: status-update\ndata: {\"tx_ref\":\""+testTxRef+"\",\"status\":\"confirmed\",\"amount\":50000}\n\n",
		readFrame(t, r),
	)

	cancel()
	require.Eventually(t, func() bool { return h.SubscriberCount(testTxRef) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_EndsWhenHubStops(t *testing.T) {
	router, h := newTestRouter(t, &mockAccess{}, true)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/transactions/stream?tx_ref=" + testTxRef)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readFrame(t, r)
	require.Eventually(t, func() bool { return h.SubscriberCount(testTxRef) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Stop(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := r.ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after hub stop")
	}
}
