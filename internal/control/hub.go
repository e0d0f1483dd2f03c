package control

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
)

// PathPrefix is the URL path children connect to, followed by their token.
const PathPrefix = "/control/"

var ErrHubClosed = errors.New("control hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Children are local processes or hosts we launched ourselves.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub accepts control connections from child units. It listens lazily, on
// the first Expect.
type Hub struct {
	addr      string
	advertise string
	log       *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	base     string
	channels map[string]*Channel
	closed   bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithAdvertise sets the host:port children should dial instead of the
// listen address, for children on other hosts.
func WithAdvertise(addr string) Option {
	return func(h *Hub) { h.advertise = addr }
}

// NewHub creates a hub that will listen on addr ("127.0.0.1:0" picks a
// free port).
func NewHub(addr string, opts ...Option) *Hub {
	h := &Hub{
		addr:     addr,
		channels: make(map[string]*Channel),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logging.OrNop(h.log).Named("control")
	return h
}

// NewToken returns a fresh channel token.
func NewToken() string {
	return uuid.NewString()
}

// Expect registers a channel for token and returns it. The child connects
// to URL(token).
func (h *Hub) Expect(token string) (*Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if err := h.startLocked(); err != nil {
		return nil, err
	}
	if _, exists := h.channels[token]; exists {
		return nil, fmt.Errorf("control token %s already registered", token)
	}

	ch := newChannel(token, h.log.With(zap.String("token", token)))
	h.channels[token] = ch
	return ch, nil
}

// URL returns the address a child dials for token. It is empty until the
// hub started.
func (h *Hub) URL(token string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.base == "" {
		return ""
	}
	return h.base + PathPrefix + token
}

// Forget closes and unregisters the channel for token.
func (h *Hub) Forget(token string) {
	h.mu.Lock()
	ch := h.channels[token]
	delete(h.channels, token)
	h.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Close stops listening and closes every channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	channels := h.channels
	h.channels = make(map[string]*Channel)
	server := h.server
	h.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	if server != nil {
		return server.Close()
	}
	return nil
}

func (h *Hub) startLocked() error {
	if h.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("control hub listen: %w", err)
	}

	advertised := h.advertise
	if advertised == "" {
		advertised = ln.Addr().String()
	}
	h.base = "ws://" + advertised

	mux := http.NewServeMux()
	mux.Handle(PathPrefix, h)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Control hub stopped", zap.Error(err))
		}
	}()

	h.log.Info("Control hub listening", zap.String("addr", ln.Addr().String()), zap.String("url", h.base))
	return nil
}

// ServeHTTP upgrades a child's connection and binds it to its channel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, PathPrefix)

	h.mu.Lock()
	ch := h.channels[token]
	h.mu.Unlock()

	if ch == nil {
		http.Error(w, "unknown control token", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Control upgrade failed", zap.Error(err))
		return
	}
	if !ch.bind(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "channel already bound"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.log.Debug("Child connected", zap.String("token", token))
}
