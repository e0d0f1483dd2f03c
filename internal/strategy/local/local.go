package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
)

// Name identifies the strategy in logs and metrics.
const Name = "local"

const defaultKillGrace = 2 * time.Second

// Strategy starts units as separate host processes.
type Strategy struct {
	log       *logging.Logger
	killGrace time.Duration
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Strategy) { s.log = log }
}

// WithKillGrace sets how long Terminate waits after the polite signal
// before killing the process group.
func WithKillGrace(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// New creates a local process strategy.
func New(opts ...Option) *Strategy {
	s := &Strategy{killGrace: defaultKillGrace}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).Named(Name)
	return s
}

// Name returns the strategy name
func (s *Strategy) Name() string { return Name }

// Spawn starts cmd. The process runs in its own process group so that
// Terminate reaches every descendant.
func (s *Strategy) Spawn(ctx context.Context, cmd strategy.Command, opts strategy.Options) (strategy.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.spawnError(cmd, err)
	}
	if cmd.Executable == "" {
		return nil, s.spawnError(cmd, errors.New("executable is required"))
	}

	c := exec.Command(cmd.Executable, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	if c.Env == nil {
		c.Env = []string{}
	}

	var (
		p   *process
		err error
	)
	if opts.Terminal {
		p, err = startTerminal(c, opts)
	} else {
		p, err = startPiped(c, cmd.RedirectErr)
	}
	if err != nil {
		return nil, s.spawnError(cmd, err)
	}

	p.killGrace = s.killGrace
	p.log = s.log.With(zap.Int("pid", c.Process.Pid))
	go p.wait()

	p.log.Debug("Process started",
		zap.String("executable", cmd.Executable),
		zap.Strings("args", cmd.Args),
		zap.String("dir", cmd.Dir),
		zap.Bool("terminal", opts.Terminal))

	return p, nil
}

func (s *Strategy) spawnError(cmd strategy.Command, err error) error {
	return &strategy.SpawnError{Strategy: Name, Executable: cmd.Executable, Err: err}
}

func startPiped(c *exec.Cmd, redirectErr bool) (*process, error) {
	var parent, child []*os.File
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		return r, w, nil
	}
	fail := func(err error) (*process, error) {
		for _, f := range append(parent, child...) {
			f.Close()
		}
		return nil, err
	}

	inR, inW, err := pipe()
	if err != nil {
		return fail(err)
	}
	parent, child = append(parent, inW), append(child, inR)

	outR, outW, err := pipe()
	if err != nil {
		return fail(err)
	}
	parent, child = append(parent, outR), append(child, outW)

	c.Stdin = inR
	c.Stdout = outW

	streams := console.Streams{Stdin: inW, Stdout: outR}
	if redirectErr {
		c.Stderr = outW
	} else {
		errR, errW, err := pipe()
		if err != nil {
			return fail(err)
		}
		parent, child = append(parent, errR), append(child, errW)
		c.Stderr = errW
		streams.Stderr = errR
	}

	prepare(c)
	if err := c.Start(); err != nil {
		return fail(err)
	}

	// The child holds its own copies now; keeping ours open would prevent
	// end of stream on output.
	for _, f := range child {
		f.Close()
	}

	return newProcess(c, streams), nil
}

func startTerminal(c *exec.Cmd, opts strategy.Options) (*process, error) {
	if !hasVar(c.Env, "TERM") {
		c.Env = append(c.Env, "TERM=xterm-256color")
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	return newProcess(c, console.Streams{Stdin: ptmx, Stdout: ptmx}), nil
}

func hasVar(env []string, key string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return true
		}
	}
	return false
}

// process is a Unit backed by an os/exec command.
type process struct {
	cmd       *exec.Cmd
	streams   console.Streams
	killGrace time.Duration
	log       *logging.Logger

	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newProcess(c *exec.Cmd, streams console.Streams) *process {
	return &process{
		cmd:     c,
		streams: streams,
		done:    make(chan struct{}),
	}
}

func (p *process) ID() int64 { return int64(p.cmd.Process.Pid) }

func (p *process) Streams() console.Streams { return p.streams }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	p.log.Debug("Process exited", zap.Error(err))
	close(p.done)
}

// Terminate signals the process group, then kills it after the grace
// period.
func (p *process) Terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := interrupt(p.cmd.Process); err != nil {
		p.log.Debug("Interrupt failed, killing", zap.Error(err))
	} else {
		timer := time.NewTimer(p.killGrace)
		defer timer.Stop()

		select {
		case <-p.done:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	if err := kill(p.cmd.Process); err != nil {
		p.log.Warn("Kill failed", zap.Error(err))
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process %d did not exit: %w", p.ID(), ctx.Err())
	}
}
