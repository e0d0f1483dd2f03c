package isolated

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/properties"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

var (
	ErrTerminated = errors.New("unit terminated")
	ErrClosed     = errors.New("unit is no longer running")
)

// exitSignal is the interrupt value raised by process.exit.
type exitSignal struct {
	code int
}

type job struct {
	ctx      context.Context
	envelope work.Envelope
	reply    chan work.Result
}

// unit is one goja runtime. All JavaScript, including submitted work, runs
// on the goroutine started by run.
type unit struct {
	id       int64
	vm       *goja.Runtime
	registry *work.Registry
	log      *logging.Logger

	args  []string
	env   map[string]string
	props *properties.Properties

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	errOut  *io.PipeWriter
	input   *bufio.Reader

	jobs     chan job
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	err      error
	exited   bool
	exitCode int
}

func newUnit(id int64, cmd strategy.Command, reg *work.Registry, maxCallStack int, log *logging.Logger) (*unit, error) {
	u := &unit{
		id:       id,
		vm:       goja.New(),
		registry: reg,
		log:      log,
		args:     append([]string(nil), cmd.Args...),
		env:      environMap(cmd.Env),
		props:    properties.New(),
		jobs:     make(chan job),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cmd.Properties != nil {
		u.props = cmd.Properties.Clone()
	}

	u.stdinR, u.stdinW = io.Pipe()
	u.stdoutR, u.stdoutW = io.Pipe()
	u.errOut = u.stdoutW
	if !cmd.RedirectErr {
		u.stderrR, u.stderrW = io.Pipe()
		u.errOut = u.stderrW
	}
	u.input = bufio.NewReader(u.stdinR)

	u.vm.SetMaxCallStackSize(maxCallStack)
	if err := u.setupGlobals(); err != nil {
		return nil, err
	}
	return u, nil
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func (u *unit) ID() int64 { return u.id }

func (u *unit) Streams() console.Streams {
	s := console.Streams{Stdin: u.stdinW, Stdout: u.stdoutR}
	if u.stderrR != nil {
		s.Stderr = u.stderrR
	}
	return s
}

func (u *unit) Done() <-chan struct{} { return u.done }

func (u *unit) Closed() <-chan struct{} { return u.done }

func (u *unit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Executor returns the unit itself; work is executed on its runtime.
func (u *unit) Executor() strategy.Executor { return u }

// Deliver hands e to the unit's event loop.
func (u *unit) Deliver(ctx context.Context, e work.Envelope) (<-chan work.Result, error) {
	j := job{ctx: ctx, envelope: e, reply: make(chan work.Result, 1)}
	select {
	case u.jobs <- j:
		return j.reply, nil
	case <-u.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate interrupts the runtime and waits for it to stop.
func (u *unit) Terminate(ctx context.Context) error {
	select {
	case <-u.done:
		return nil
	default:
	}

	u.stopOnce.Do(func() {
		close(u.stop)
		u.vm.Interrupt(ErrTerminated)
		u.stdinR.CloseWithError(io.EOF)
		u.closeOutput()
	})

	select {
	case <-u.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unit %d did not stop: %w", u.id, ctx.Err())
	}
}

func (u *unit) run(name, source string) {
	defer u.finish()

	_, err := u.vm.RunScript(name, source)
	if err != nil {
		u.settle(err)
		return
	}
	if u.hasExited() {
		return
	}
	u.serve(nil)
}

// serve executes submitted work until the unit stops or, when until is
// non-nil, until it fires. It reports false when the unit is stopping.
func (u *unit) serve(until <-chan time.Time) bool {
	for {
		select {
		case j := <-u.jobs:
			u.execute(j)
			if u.hasExited() {
				return false
			}
		case <-until:
			return true
		case <-u.stop:
			return false
		}
	}
}

func (u *unit) execute(j job) {
	stop := context.AfterFunc(j.ctx, func() {
		u.vm.Interrupt(j.ctx.Err())
	})
	res := work.Execute(j.ctx, u.registry, unitEnv{u}, j.envelope)
	if !stop() {
		u.vm.ClearInterrupt()
	}
	j.reply <- res
}

// settle records how the main script ended.
func (u *unit) settle(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case exitSignal:
			if v.code != 0 {
				u.setErr(&strategy.ExitError{Code: v.code})
			}
			return
		case error:
			if errors.Is(v, ErrTerminated) {
				u.setErr(ErrTerminated)
				return
			}
		}
	}

	fmt.Fprintf(u.errOut, "Uncaught %v\n", err)
	u.setErr(err)
}

func (u *unit) setErr(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = err
	}
}

func (u *unit) hasExited() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.exited
}

func (u *unit) exit(code int) {
	u.mu.Lock()
	u.exited = true
	u.exitCode = code
	u.mu.Unlock()
	u.vm.Interrupt(exitSignal{code: code})
}

func (u *unit) finish() {
	u.mu.Lock()
	exited, code := u.exited, u.exitCode
	u.mu.Unlock()
	if exited && code != 0 {
		u.setErr(&strategy.ExitError{Code: code})
	}

	u.closeOutput()
	u.stdinR.CloseWithError(io.EOF)
	u.log.Debug("Unit stopped", zap.Error(u.Err()))
	close(u.done)
}

func (u *unit) closeOutput() {
	u.stdoutW.Close()
	if u.stderrW != nil {
		u.stderrW.Close()
	}
}

// unitEnv exposes the unit to submitted work. It is only used on the
// runtime goroutine.
type unitEnv struct {
	u *unit
}

func (e unitEnv) Getenv(key string) string {
	return e.u.env[key]
}

func (e unitEnv) LookupEnv(key string) (string, bool) {
	v, ok := e.u.env[key]
	return v, ok
}

func (e unitEnv) Property(key string) (string, bool) {
	return e.u.props.Get(key)
}

func (e unitEnv) Args() []string {
	return append([]string(nil), e.u.args...)
}

// RunScript evaluates source on the unit's runtime.
func (e unitEnv) RunScript(_ context.Context, source string) (any, error) {
	val, err := e.u.vm.RunString(source)
	if err != nil {
		return nil, err
	}
	return exportValue(val), nil
}

func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
