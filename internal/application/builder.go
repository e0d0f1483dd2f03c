package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/control"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/schema"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Builder realizes schemas into running applications with one strategy.
type Builder struct {
	strategy strategy.Strategy
	log      *logging.Logger
	metrics  *monitoring.Metrics
	cfg      *config.Config
	registry *work.Registry
	manager  *Manager

	mu      sync.Mutex
	hub     *control.Hub
	ownsHub bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// WithMetrics records realizations, teardowns and submissions.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithConfig overrides the runtime configuration.
func WithConfig(cfg *config.Config) Option {
	return func(b *Builder) { b.cfg = cfg }
}

// WithHub shares a control hub. The builder does not close it.
func WithHub(h *control.Hub) Option {
	return func(b *Builder) { b.hub = h }
}

// WithRegistry sets the registry used to encode submitted work.
func WithRegistry(r *work.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithManager tracks every realized application in m.
func WithManager(m *Manager) Option {
	return func(b *Builder) { b.manager = m }
}

// NewBuilder creates a builder for s.
func NewBuilder(s strategy.Strategy, opts ...Option) *Builder {
	b := &Builder{strategy: s}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrNop(b.log).Named("application")
	if b.cfg == nil {
		b.cfg = config.Default()
	}
	if b.registry == nil {
		b.registry = work.Default()
	}
	return b
}

// Strategy returns the strategy name.
func (b *Builder) Strategy() string {
	return b.strategy.Name()
}

// Close shuts down the control hub if the builder created it.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hub == nil || !b.ownsHub {
		return nil
	}
	err := b.hub.Close()
	b.hub = nil
	b.ownsHub = false
	return err
}

// Realize starts the unit described by s and binds it to con. A nil
// console discards output. On failure nothing is left running.
func (b *Builder) Realize(ctx context.Context, s *schema.Schema, name string, con console.Console) (*Application, error) {
	fail := func(executable string, err error) (*Application, error) {
		b.metrics.RecordRealizeFailure(b.strategy.Name())
		return nil, &RealizationError{Name: name, Executable: executable, Strategy: b.strategy.Name(), Err: err}
	}

	snap, err := s.Snapshot()
	if err != nil {
		return fail(s.Executable(), err)
	}
	if con == nil {
		con = console.NewNull(name)
	}

	cmd := snap.Command()
	encoded, err := control.EncodeProperties(cmd.Properties)
	if err != nil {
		return fail(snap.Executable(), err)
	}
	props := control.EnvProperties + "=" + encoded
	cmd.Env = append(cmd.Env, props)
	cmd.Explicit = append(cmd.Explicit, props)

	var (
		hub     *control.Hub
		token   string
		channel *control.Channel
	)
	if b.cfg.Control.Enabled && !inProcess(b.strategy) {
		hub = b.controlHub()
		token = control.NewToken()
		channel, err = hub.Expect(token)
		if err != nil {
			return fail(snap.Executable(), err)
		}
		url := control.EnvURL + "=" + hub.URL(token)
		cmd.Env = append(cmd.Env, url)
		cmd.Explicit = append(cmd.Explicit, url)
	}

	var opts strategy.Options
	if tr, ok := con.(console.TerminalRequester); ok {
		opts.Terminal = true
		opts.Cols, opts.Rows = tr.TerminalSize()
	}

	unit, err := b.strategy.Spawn(ctx, cmd, opts)
	if err != nil {
		if hub != nil {
			hub.Forget(token)
		}
		return fail(snap.Executable(), err)
	}

	label := fmt.Sprintf("%s:%d", name, unit.ID())
	log := b.log.With(zap.String("app", label), zap.String("strategy", b.strategy.Name()))

	streams := unit.Streams()
	streams.Label = label
	if snap.DiagnosticsEnabled() {
		streams.Tap = func(stream console.Stream, line string) {
			log.Debug("Output", zap.Stringer("stream", stream), zap.String("line", line))
		}
	}
	streams.Fault = func(stream console.Stream, err error) {
		log.Warn("Output capture failed, discarding the rest", zap.Stringer("stream", stream), zap.Error(err))
	}
	if err := con.Attach(streams); err != nil {
		b.abandon(unit, streams, hub, token, log)
		return fail(snap.Executable(), err)
	}

	app := &Application{
		id:             unit.ID(),
		name:           name,
		strategy:       b.strategy.Name(),
		console:        con,
		schema:         snap,
		unit:           unit,
		hub:            hub,
		token:          token,
		registry:       b.registry,
		log:            log,
		metrics:        b.metrics,
		drainTimeout:   b.cfg.Runtime.DrainTimeout,
		defaultTimeout: b.cfg.Runtime.DefaultTimeout,
		pollInterval:   b.cfg.Runtime.PollInterval,
		started:        time.Now(),
		done:           make(chan struct{}),
	}
	if snap.DefaultTimeout() > 0 {
		app.defaultTimeout = snap.DefaultTimeout()
	}
	switch {
	case channel != nil:
		app.executor = channel
	default:
		if ip, ok := unit.(strategy.InProcess); ok {
			app.executor = ip.Executor()
		}
	}

	app.state.Store(int32(StateRealized))
	app.dispatch(lifecycle.Realized)
	app.state.Store(int32(StateRunning))
	b.metrics.RecordRealized(b.strategy.Name())

	go app.watchExit()

	if b.manager != nil {
		b.manager.Track(app)
	}

	log.Info("Application realized",
		zap.String("executable", snap.Executable()),
		zap.Strings("args", snap.Arguments()))
	return app, nil
}

func (b *Builder) controlHub() *control.Hub {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hub == nil {
		b.hub = control.NewHub(b.cfg.Control.Addr,
			control.WithLogger(b.log),
			control.WithAdvertise(b.cfg.Control.Advertise))
		b.ownsHub = true
	}
	return b.hub
}

// abandon tears down a unit that could not be bound to its console.
func (b *Builder) abandon(unit strategy.Unit, streams console.Streams, hub *control.Hub, token string, log *logging.Logger) {
	if hub != nil {
		hub.Forget(token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Runtime.DrainTimeout)
	defer cancel()
	if err := unit.Terminate(ctx); err != nil {
		log.Warn("Failed to terminate unbound unit", zap.Error(err))
	}

	var errs []error
	if streams.Stdin != nil {
		errs = append(errs, streams.Stdin.Close())
	}
	if streams.Stdout != nil {
		errs = append(errs, streams.Stdout.Close())
	}
	if streams.Stderr != nil {
		errs = append(errs, streams.Stderr.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Debug("Closing unbound streams", zap.Error(err))
	}
}

func inProcess(s strategy.Strategy) bool {
	ip, ok := s.(strategy.InProcessStrategy)
	return ok && ip.InProcess()
}

func (a *Application) watchExit() {
	select {
	case <-a.unit.Done():
	case <-a.done:
		return
	}

	if err := a.unit.Err(); err != nil {
		a.log.Info("Application exited", zap.Duration("uptime", time.Since(a.started)), zap.Error(err))
		return
	}
	a.log.Info("Application exited", zap.Duration("uptime", time.Since(a.started)))
}
