package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/control"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/schema"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// State of an application.
type State int32

const (
	StateRealized State = iota + 1
	StateRunning
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateRealized:
		return "realized"
	case StateRunning:
		return "running"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Application is the live handle to a running unit.
type Application struct {
	id       int64
	name     string
	strategy string
	console  console.Console
	schema   schema.Snapshot
	unit     strategy.Unit

	executor strategy.Executor
	hub      *control.Hub
	token    string
	registry *work.Registry

	log     *logging.Logger
	metrics *monitoring.Metrics

	drainTimeout   time.Duration
	defaultTimeout time.Duration
	pollInterval   time.Duration
	started        time.Time

	state       atomic.Int32
	done        chan struct{}
	destroyOnce sync.Once

	mu       sync.Mutex
	inflight sync.WaitGroup
	warnings []error
}

// ID returns the identity of the unit: the process id for process based
// strategies.
func (a *Application) ID() int64 { return a.id }

// Name returns the name given at realization.
func (a *Application) Name() string { return a.name }

// Strategy returns the name of the strategy that started the unit.
func (a *Application) Strategy() string { return a.strategy }

// Console returns the console bound to the application.
func (a *Application) Console() console.Console { return a.console }

// Schema returns the snapshot the application was realized from.
func (a *Application) Schema() schema.Snapshot { return a.schema }

// State returns the current lifecycle state.
func (a *Application) State() State { return State(a.state.Load()) }

// Done is closed as soon as destruction starts.
func (a *Application) Done() <-chan struct{} { return a.done }

// Exited is closed when the unit ended, by itself or by Destroy.
func (a *Application) Exited() <-chan struct{} { return a.unit.Done() }

// ExitErr reports how the unit ended. It is nil while the unit runs.
func (a *Application) ExitErr() error {
	select {
	case <-a.unit.Done():
		return a.unit.Err()
	default:
		return nil
	}
}

// Wait blocks until the unit ends and reports how.
func (a *Application) Wait(ctx context.Context) error {
	select {
	case <-a.unit.Done():
		return a.unit.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultTimeout is used by deferred evaluations that set none.
func (a *Application) DefaultTimeout() time.Duration { return a.defaultTimeout }

// Warnings returns interceptor failures and teardown problems recorded so
// far.
func (a *Application) Warnings() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.warnings...)
}

// String returns "name:id".
func (a *Application) String() string {
	return fmt.Sprintf("%s:%d", a.name, a.id)
}

// Acquire registers an in-flight evaluation. Destroy waits for every
// acquisition to be released before tearing the unit down.
func (a *Application) Acquire() (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.done:
		return nil, &ApplicationDestroyedError{}
	default:
	}

	a.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(a.inflight.Done) }, nil
}

// Close destroys the application. It never fails.
func (a *Application) Close() error {
	a.Destroy()
	return nil
}

// Destroy terminates the unit, drains and releases the console, and fires
// the destroyed event. Only the first call does anything; later calls
// return once it completed. Failures are logged, never returned.
func (a *Application) Destroy() {
	a.destroyOnce.Do(a.destroy)
}

func (a *Application) destroy() {
	start := time.Now()

	a.mu.Lock()
	close(a.done)
	a.mu.Unlock()

	a.waitInflight()

	if a.hub != nil {
		a.hub.Forget(a.token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.drainTimeout)
	if err := a.unit.Terminate(ctx); err != nil {
		a.log.Warn("Failed to terminate application", zap.Error(err))
	}
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), a.drainTimeout)
	if err := a.console.Detach(ctx); err != nil {
		a.log.Warn("Failed to release console", zap.String("console", a.console.Name()), zap.Error(err))
	}
	cancel()

	a.state.Store(int32(StateDestroyed))
	a.dispatch(lifecycle.Destroyed)
	a.metrics.RecordDestroyed(a.strategy, time.Since(start))

	a.log.Info("Application destroyed", zap.Duration("duration", time.Since(start)))
}

func (a *Application) waitInflight() {
	idle := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-time.After(a.drainTimeout):
		a.log.Warn("Deferred evaluations still running at teardown")
		a.mu.Lock()
		a.warnings = append(a.warnings, fmt.Errorf("%w after %s", ErrEvaluationsRunning, a.drainTimeout))
		a.mu.Unlock()
	}
}

func (a *Application) dispatch(kind lifecycle.Kind) {
	errs := lifecycle.Dispatch(lifecycle.Event{
		Kind:    kind,
		Subject: a,
		Time:    time.Now(),
	}, a.schema.Interceptors())
	if len(errs) == 0 {
		return
	}

	for _, err := range errs {
		a.log.Warn("Lifecycle interceptor failed", zap.String("event", kind.String()), zap.Error(err))
	}
	a.metrics.RecordInterceptorFailures(kind.String(), len(errs))

	a.mu.Lock()
	a.warnings = append(a.warnings, errs...)
	a.mu.Unlock()
}

// Submit ships c to the running unit. The unit of work is delivered at
// most once: a *SubmissionError means it never ran.
func (a *Application) Submit(ctx context.Context, c work.Callable) (*Future, error) {
	name, _ := a.registry.Name(c)
	if name == "" {
		name = fmt.Sprintf("%T", c)
	}
	fail := func(err error) (*Future, error) {
		a.metrics.RecordSubmission("undelivered")
		return nil, &SubmissionError{Application: a.String(), Work: name, Err: err}
	}

	if a.State() != StateRunning {
		return fail(ErrNotRunning)
	}
	if a.executor == nil {
		return fail(ErrUnsupported)
	}

	envelope, err := a.registry.Encode(c)
	if err != nil {
		return fail(err)
	}

	reply, err := a.executor.Deliver(ctx, envelope)
	if err != nil {
		return fail(err)
	}
	a.metrics.RecordSubmission("delivered")

	return &Future{
		app:    a,
		id:     envelope.ID,
		work:   name,
		reply:  reply,
		closed: a.executor.Closed(),
	}, nil
}

// Call submits c and decodes its result into T. A null result reports
// deferred.ErrNotAvailable so that Eventually keeps polling.
func Call[T any](ctx context.Context, a *Application, c work.Callable) (T, error) {
	var zero T

	f, err := a.Submit(ctx, c)
	if err != nil {
		return zero, err
	}
	res, err := f.Get(ctx)
	if err != nil {
		return zero, err
	}
	if res.IsNull() {
		return zero, notAvailable(f.work)
	}

	var v T
	if err := res.Decode(&v); err != nil {
		return zero, &ExecutionError{Application: a.String(), Work: f.work, SubmissionID: f.id, Err: err}
	}
	return v, nil
}
