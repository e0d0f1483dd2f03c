package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/control"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/properties"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

var ErrDisabled = errors.New("control channel not configured")

var (
	propsOnce sync.Once
	props     *properties.Properties
)

// Enabled reports whether this process was started with a control channel.
func Enabled() bool {
	return os.Getenv(control.EnvURL) != ""
}

// Properties returns the system properties this process was started with.
func Properties() *properties.Properties {
	propsOnce.Do(func() {
		p, err := control.DecodeProperties(os.Getenv(control.EnvProperties))
		if err != nil {
			p = properties.New()
		}
		props = p
	})
	return props
}

// Property returns one system property.
func Property(key string) (string, bool) {
	return Properties().Get(key)
}

// Env is the process environment seen by submitted work.
type Env struct {
	props *properties.Properties
	args  []string
}

// NewEnv describes the current process.
func NewEnv() Env {
	return Env{props: Properties(), args: append([]string(nil), os.Args[1:]...)}
}

func (e Env) Getenv(key string) string            { return os.Getenv(key) }
func (e Env) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
func (e Env) Property(key string) (string, bool)  { return e.props.Get(key) }
func (e Env) Args() []string                      { return append([]string(nil), e.args...) }

// Option configures Serve.
type Option func(*server)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *server) { s.log = log }
}

// WithEnv overrides the environment handed to work.
func WithEnv(env work.Env) Option {
	return func(s *server) { s.env = env }
}

// WithURL dials url instead of APPRUN_CONTROL_URL.
func WithURL(url string) Option {
	return func(s *server) { s.url = url }
}

type server struct {
	url  string
	env  work.Env
	log  *logging.Logger
	reg  *work.Registry
	conn *websocket.Conn

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// Serve connects to the parent and executes the work it sends until ctx
// is done or the parent hangs up. Work runs concurrently; results are
// written as each finishes.
func Serve(ctx context.Context, reg *work.Registry, opts ...Option) error {
	s := &server{url: os.Getenv(control.EnvURL), reg: reg}
	for _, opt := range opts {
		opt(s)
	}
	if s.url == "" {
		return ErrDisabled
	}
	if s.reg == nil {
		s.reg = work.Default()
	}
	if s.env == nil {
		s.env = NewEnv()
	}
	s.log = logging.OrNop(s.log).Named("agent")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial control channel: %w", err)
	}
	s.conn = conn

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = s.loop(ctx)
	cancel()
	s.wg.Wait()
	conn.Close()

	if parent.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (s *server) loop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := control.UnmarshalFrame(data)
		if err != nil || frame.Kind != control.KindWork {
			s.log.Warn("Ignoring frame", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func(e work.Envelope) {
			defer s.wg.Done()
			res := work.Execute(ctx, s.reg, s.env, e)
			if err := s.reply(res); err != nil {
				s.log.Warn("Failed to send result", zap.String("submission", e.ID), zap.Error(err))
			}
		}(*frame.Envelope)
	}
}

func (s *server) reply(res work.Result) error {
	data, err := control.MarshalFrame(control.Frame{Kind: control.KindResult, Result: &res})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
