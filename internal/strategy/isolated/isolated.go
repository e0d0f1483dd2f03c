package isolated

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Name identifies the strategy in logs and metrics.
const Name = "isolated"

const defaultMaxCallStack = 1024

var ErrScriptNotFound = errors.New("script not found")

// Strategy runs JavaScript units inside this process, each on its own goja
// runtime with its own arguments, environment and properties.
type Strategy struct {
	log          *logging.Logger
	registry     *work.Registry
	maxCallStack int

	mu      sync.RWMutex
	scripts map[string]string
}

// unitIDs numbers units across every Strategy in the process.
var unitIDs atomic.Int64

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Strategy) { s.log = log }
}

// WithRegistry sets the registry used to decode submitted work.
func WithRegistry(reg *work.Registry) Option {
	return func(s *Strategy) { s.registry = reg }
}

// WithMaxCallStack bounds the JavaScript call stack of each unit.
func WithMaxCallStack(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.maxCallStack = n
		}
	}
}

// WithScript registers source under name, see Register.
func WithScript(name, source string) Option {
	return func(s *Strategy) { s.scripts[name] = source }
}

// New creates an isolated strategy.
func New(opts ...Option) *Strategy {
	s := &Strategy{
		maxCallStack: defaultMaxCallStack,
		scripts:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = work.Default()
	}
	s.log = logging.OrNop(s.log).Named(Name)
	return s
}

// Name returns the strategy name
func (s *Strategy) Name() string { return Name }

// InProcess reports that units run inside this process.
func (s *Strategy) InProcess() bool { return true }

// Register makes source available under name. A command whose executable
// matches a registered name runs that source instead of reading a file.
func (s *Strategy) Register(name, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = source
}

// Spawn starts a unit running the script named by cmd.Executable.
func (s *Strategy) Spawn(ctx context.Context, cmd strategy.Command, _ strategy.Options) (strategy.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.spawnError(cmd, err)
	}

	source, err := s.resolve(cmd)
	if err != nil {
		return nil, s.spawnError(cmd, err)
	}

	id := unitIDs.Add(1)
	u, err := newUnit(id, cmd, s.registry, s.maxCallStack, s.log.With(zap.Int64("unit", id)))
	if err != nil {
		return nil, s.spawnError(cmd, err)
	}
	go u.run(cmd.Executable, source)

	s.log.Debug("Unit started",
		zap.Int64("unit", id),
		zap.String("script", cmd.Executable),
		zap.Strings("args", cmd.Args))

	return u, nil
}

func (s *Strategy) resolve(cmd strategy.Command) (string, error) {
	if cmd.Executable == "" {
		return "", errors.New("executable is required")
	}

	s.mu.RLock()
	source, ok := s.scripts[cmd.Executable]
	s.mu.RUnlock()
	if ok {
		return source, nil
	}

	path := cmd.Executable
	if !filepath.IsAbs(path) && cmd.Dir != "" {
		path = filepath.Join(cmd.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrScriptNotFound, cmd.Executable)
		}
		return "", err
	}
	return string(data), nil
}

func (s *Strategy) spawnError(cmd strategy.Command, err error) error {
	return &strategy.SpawnError{Strategy: Name, Executable: cmd.Executable, Err: err}
}
