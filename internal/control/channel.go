package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

var (
	ErrChannelClosed = errors.New("control channel closed")
	ErrUndelivered   = errors.New("work was not delivered")
)

const writeTimeout = 10 * time.Second

// Channel is the parent side of one child's control connection. It
// delivers each envelope with a single write and never retries.
type Channel struct {
	token string
	log   *logging.Logger

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan work.Result
}

func newChannel(token string, log *logging.Logger) *Channel {
	return &Channel{
		token:   token,
		log:     log,
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
		pending: make(map[string]chan work.Result),
	}
}

// Token identifies the channel.
func (c *Channel) Token() string { return c.token }

// Ready is closed once the child connected.
func (c *Channel) Ready() <-chan struct{} { return c.ready }

// Closed is closed once the channel can no longer carry work.
func (c *Channel) Closed() <-chan struct{} { return c.closed }

// Deliver waits for the child to connect, then sends e. The returned
// channel yields the result, or is closed without one if the connection
// drops first. Errors wrapping ErrUndelivered guarantee the child never
// saw e.
func (c *Channel) Deliver(ctx context.Context, e work.Envelope) (<-chan work.Result, error) {
	select {
	case <-c.ready:
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUndelivered, ctx.Err())
	}

	data, err := MarshalFrame(Frame{Kind: KindWork, Envelope: &e})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndelivered, err)
	}

	reply := make(chan work.Result, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrChannelClosed
	default:
	}
	c.pending[e.ID] = reply
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(ctx, conn, data); err != nil {
		c.mu.Lock()
		delete(c.pending, e.ID)
		c.mu.Unlock()
		c.shutdown(err)
		return nil, fmt.Errorf("%w: %w", ErrUndelivered, err)
	}
	return reply, nil
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close drops the connection. Pending deliveries end without a result.
func (c *Channel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Channel) bind(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return false
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return false
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	go c.readLoop(conn)
	return true
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			c.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		if frame.Kind != KindResult {
			c.log.Warn("Unexpected frame from child", zap.String("kind", string(frame.Kind)))
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[frame.Result.ID]
		delete(c.pending, frame.Result.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Warn("Result for unknown submission", zap.String("submission", frame.Result.ID))
			continue
		}
		reply <- *frame.Result
	}
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		pending := c.pending
		c.pending = make(map[string]chan work.Result)
		close(c.closed)
		c.mu.Unlock()

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
		for _, reply := range pending {
			close(reply)
		}

		if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Debug("Control channel closed", zap.Error(cause))
		}
	})
}
