// Package client consumes the transaction status stream and keeps it alive
// across transport failures.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second

	streamPath = "/api/transactions/stream"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// ErrMaxAttempts is reported through OnError once reconnecting gives up.
var ErrMaxAttempts = errors.New("connection lost: maximum reconnect attempts reached")

// StreamError is an error event pushed by the server for the transaction. The
// stream stays open after it.
type StreamError struct {
	TxRef   string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("transaction %s: %s", e.TxRef, e.Message)
}

// HTTPStatusError is a non-200 reply to the stream request.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream request failed with status %d: %s", e.StatusCode, e.Body)
}

type StatusUpdate struct {
	TxRef       string                   `json:"tx_ref"`
	Status      domain.TransactionStatus `json:"status"`
	Amount      *float64                 `json:"amount,omitempty"`
	ConfirmedAt *time.Time               `json:"confirmed_at,omitempty"`
}

type Options struct {
	// BaseURL is the server root, e.g. https://api.example.com.
	BaseURL     string
	TxRef       string
	AccessToken string

	HTTPClient  *http.Client
	Clock       clockwork.Clock
	Logger      logger.Logger
	MaxAttempts int
	RetryDelay  time.Duration

	OnStatusUpdate func(StatusUpdate)
	OnError        func(error)
	OnStateChange  func(State)
}

// Reconnector holds at most one live stream. Transport failures schedule a
// reconnect after RetryDelay until MaxAttempts consecutive failures, at which
// point it stops in StateDisconnected.
//
// Callbacks are delivered one at a time, in the order the events and state
// transitions happened, on a goroutine that does not hold the lock. They may
// call back into the Reconnector. A callback that blocks delays the ones
// queued after it.
type Reconnector struct {
	opts      Options
	endpoint  string
	client    *http.Client
	clock     clockwork.Clock
	logger    logger.Logger
	callbacks callbackQueue

	mu       sync.Mutex
	state    State
	status   domain.TransactionStatus
	attempts int
	gen      uint64
	cancel   context.CancelFunc
	timer    clockwork.Timer
}

func New(opts Options) (*Reconnector, error) {
	if opts.TxRef == "" {
		return nil, errors.New("tx_ref is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	base.Path += streamPath
	base.RawQuery = url.Values{"tx_ref": {opts.TxRef}}.Encode()

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	r := &Reconnector{
		opts:     opts,
		endpoint: base.String(),
		client:   opts.HTTPClient,
		clock:    opts.Clock,
		logger:   opts.Logger,
		state:    StateIdle,
	}
	if r.client == nil {
		// No client timeout: the response body is a long-lived stream.
		r.client = &http.Client{}
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	r.logger = r.logger.WithFields(logger.Fields{"component": "reconnector", "tx_ref": opts.TxRef})
	return r, nil
}

// Connect replaces any current stream or pending retry with a fresh
// connection and starts a new attempt budget.
func (r *Reconnector) Connect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.dialLocked()
}

// Disconnect closes the stream and cancels any pending retry.
func (r *Reconnector) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.gen++
	r.attempts = 0
	r.setStateLocked(StateDisconnected)
}

func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status is the last status seen on the stream, empty before connecting.
func (r *Reconnector) Status() domain.TransactionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Attempts is the number of consecutive failed connections.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) teardownLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// dialLocked starts a new generation. Goroutines of older generations find
// their generation stale and exit without touching state.
func (r *Reconnector) dialLocked() {
	r.teardownLocked()
	r.gen++
	gen := r.gen

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.setStateLocked(StateConnecting)

	go r.run(ctx, gen)
}

func (r *Reconnector) setStateLocked(s State) {
	if r.state == s {
		return
	}
	r.state = s
	if cb := r.opts.OnStateChange; cb != nil {
		r.callbacks.push(func() { cb(s) })
	}
}

// Queueing under r.mu makes callback order match transition order.
func (r *Reconnector) errorLocked(err error) {
	if cb := r.opts.OnError; cb != nil {
		r.callbacks.push(func() { cb(err) })
	}
}

func (r *Reconnector) run(ctx context.Context, gen uint64) {
	resp, err := r.open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.fail(gen, err)
		}
		return
	}
	defer resp.Body.Close()

	if !r.opened(gen) {
		return
	}

	err = r.consume(resp.Body, gen)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.EOF
	}
	r.fail(gen, fmt.Errorf("stream ended: %w", err))
}

func (r *Reconnector) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if r.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.opts.AccessToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (r *Reconnector) opened(gen uint64) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false
	}
	r.attempts = 0
	r.setStateLocked(StateOpen)
	r.mu.Unlock()

	r.logger.Info("Stream open")
	return true
}

func (r *Reconnector) fail(gen uint64, err error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.teardownLocked()
	r.attempts++
	attempts := r.attempts

	if attempts >= r.opts.MaxAttempts {
		r.gen++
		r.setStateLocked(StateDisconnected)
		r.errorLocked(ErrMaxAttempts)
		r.mu.Unlock()

		r.logger.WithError(err).Errorf("Giving up after %d attempts", attempts)
		return
	}

	r.setStateLocked(StateReconnecting)
	r.timer = r.clock.AfterFunc(r.opts.RetryDelay, func() { r.retry(gen) })
	r.mu.Unlock()

	r.logger.WithError(err).Warnf("Stream failed, reconnecting in %s (attempt %d/%d)",
		r.opts.RetryDelay, attempts, r.opts.MaxAttempts)
}

func (r *Reconnector) retry(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state != StateReconnecting {
		return
	}
	r.timer = nil
	r.dialLocked()
}

// consume reads SSE frames until the body ends. Lines other than event: and
// data: are ignored; multiple data: lines are joined with newlines.
func (r *Reconnector) consume(body io.Reader, gen uint64) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		kind string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if len(data) > 0 {
				r.dispatch(gen, kind, strings.Join(data, "\n"))
			}
			kind, data = "", nil
		}
	}
	return scanner.Err()
}

// framePayload holds a frame's data line. The typed status-update fields stay
// raw so one malformed optional field does not cost the whole event.
type framePayload struct {
	TxRef       string          `json:"tx_ref"`
	Status      string          `json:"status"`
	Amount      json.RawMessage `json:"amount"`
	ConfirmedAt json.RawMessage `json:"confirmed_at"`
	Error       string          `json:"error"`
}

// statusUpdate converts the payload, treating an amount or confirmed_at of
// the wrong type as absent.
func (p framePayload) statusUpdate(log logger.Logger) StatusUpdate {
	u := StatusUpdate{TxRef: p.TxRef, Status: domain.TransactionStatus(p.Status)}

	if present(p.Amount) {
		var amount float64
		if err := json.Unmarshal(p.Amount, &amount); err != nil {
			log.Warnf("Ignoring malformed amount %s: %v", p.Amount, err)
		} else {
			u.Amount = &amount
		}
	}
	if present(p.ConfirmedAt) {
		var at time.Time
		if err := json.Unmarshal(p.ConfirmedAt, &at); err != nil {
			log.Warnf("Ignoring malformed confirmed_at %s: %v", p.ConfirmedAt, err)
		} else {
			u.ConfirmedAt = &at
		}
	}
	return u
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (r *Reconnector) dispatch(gen uint64, kind, data string) {
	log := r.logger.WithField("event", kind)

	var p framePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		log.Warnf("Ignoring malformed frame: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	switch kind {
	case "connected":
		r.status = domain.StatusPending
	case "status-update":
		u := p.statusUpdate(log)
		r.status = u.Status
		if cb := r.opts.OnStatusUpdate; cb != nil {
			r.callbacks.push(func() { cb(u) })
		}
	case "error":
		r.errorLocked(&StreamError{TxRef: p.TxRef, Message: p.Error})
	default:
		// heartbeat and unknown kinds only prove liveness.
	}
}

// callbackQueue runs queued functions one at a time in push order. A drain
// goroutine exists only while the queue is non-empty.
type callbackQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *callbackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}
