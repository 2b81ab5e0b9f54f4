package hub

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-txstream-sse/internal/infrastructure/logger"
)

// SSEChannel implements Channel over a streaming HTTP response.
type SSEChannel struct {
	id           string
	writer       http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	logger logger.Logger
}

// NewSSEChannel sets the event-stream headers on w. Nothing is written until
// the first Send.
func NewSSEChannel(id string, w http.ResponseWriter, writeTimeout time.Duration, log logger.Logger) *SSEChannel {
	c := &SSEChannel{
		id:           id,
		writer:       w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
		logger:       log.WithField("channel_id", id),
	}
	c.setupSSEHeaders()
	return c
}

func (c *SSEChannel) ID() string   { return c.id }
func (c *SSEChannel) Type() string { return "sse" }

func (c *SSEChannel) setupSSEHeaders() {
	h := c.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
}

// Send writes and flushes one frame. A failed write closes the channel.
func (c *SSEChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	if c.writeTimeout > 0 {
		// Not every writer supports deadlines (recorders, some middleware).
		if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err == nil {
			defer func() { _ = c.rc.SetWriteDeadline(time.Time{}) }()
		}
	}

	if _, err := c.writer.Write(frame); err != nil {
		c.closeLocked()
		return fmt.Errorf("write sse frame: %w", err)
	}
	if err := c.rc.Flush(); err != nil {
		c.closeLocked()
		return fmt.Errorf("flush sse frame: %w", err)
	}
	return nil
}

func (c *SSEChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *SSEChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.logger.Debug("SSE channel closed")
}

func (c *SSEChannel) Done() <-chan struct{} { return c.done }

// WebSocketChannel implements Channel over a WebSocket connection. Frames are
// sent verbatim as text messages.
type WebSocketChannel struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	logger logger.Logger
}

// NewWebSocketChannel starts a reader that closes the channel when the peer
// goes away. Liveness otherwise relies on heartbeat writes failing.
func NewWebSocketChannel(id string, conn *websocket.Conn, writeTimeout time.Duration, log logger.Logger) *WebSocketChannel {
	c := &WebSocketChannel{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
		logger:       log.WithField("channel_id", id),
	}
	conn.SetReadLimit(512)

	go c.readPump()
	return c
}

func (c *WebSocketChannel) ID() string   { return c.id }
func (c *WebSocketChannel) Type() string { return "websocket" }

func (c *WebSocketChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.closeLocked()
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *WebSocketChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)

	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	_ = c.conn.Close()
	c.logger.Debug("WebSocket channel closed")
}

func (c *WebSocketChannel) Done() <-chan struct{} { return c.done }

// readPump discards inbound messages; the stream is server-to-client only. A
// read error means the peer is gone.
func (c *WebSocketChannel) readPump() {
	defer c.Close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugf("WebSocket read error: %v", err)
			}
			return
		}
	}
}
