package strategy

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/properties"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Command is a fully resolved description of what to run.
type Command struct {
	Executable string
	Args       []string

	// Env is the complete environment of the unit as "KEY=VALUE" pairs.
	Env []string

	// Explicit holds only the variables set on the schema, in the same
	// form. Remote strategies forward these instead of the host's.
	Explicit []string

	InheritEnv  bool
	Dir         string
	Properties  *properties.Properties
	RedirectErr bool
}

// Options tune how a unit is started.
type Options struct {
	// Terminal runs the unit on a pseudo-terminal when supported.
	Terminal bool
	Cols     uint16
	Rows     uint16
}

// Unit is a live handle to something a Strategy started.
type Unit interface {
	// ID is the opaque identity of the unit, the process id for process
	// based strategies.
	ID() int64

	// Streams returns the unit's endpoints. The caller owns them.
	Streams() console.Streams

	// Terminate stops the unit, escalating as needed until ctx is done.
	// Terminating a unit that already exited is not an error.
	Terminate(ctx context.Context) error

	// Done is closed once the unit exited.
	Done() <-chan struct{}

	// Err reports how the unit exited, valid after Done is closed.
	Err() error
}

// Strategy starts units.
type Strategy interface {
	Name() string
	Spawn(ctx context.Context, cmd Command, opts Options) (Unit, error)
}

// Executor delivers units of work to a running unit. Deliver sends e at
// most once; the returned channel yields exactly one Result unless the
// executor closes first, in which case it is closed without a value.
type Executor interface {
	Deliver(ctx context.Context, e work.Envelope) (<-chan work.Result, error)
	Closed() <-chan struct{}
}

// InProcessStrategy is implemented by strategies whose units run inside
// this process. Such units need no control channel.
type InProcessStrategy interface {
	InProcess() bool
}

// InProcess is implemented by units that execute work themselves rather
// than through a control channel.
type InProcess interface {
	Executor() Executor
}

// SpawnError reports that a strategy could not start a unit.
type SpawnError struct {
	Strategy   string
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: spawn %s: %v", e.Strategy, e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitError reports a unit that ended with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the status.
func (e *ExitError) ExitCode() int {
	return e.Code
}
