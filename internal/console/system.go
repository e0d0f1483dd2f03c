package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/shared/id"
)

// System passes output through to the host terminal, one prefixed line at a
// time: "[label:out] text" and "[label:err] text".
type System struct {
	name   string
	bind   binding
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewSystem creates a pass-through console on os.Stdout and os.Stderr.
func NewSystem(name string) *System {
	return NewSystemWriters(name, os.Stdout, os.Stderr)
}

// NewSystemWriters creates a pass-through console on the given writers.
func NewSystemWriters(name string, stdout, stderr io.Writer) *System {
	if name == "" {
		name = id.NewConsoleID().String()
	}
	return &System{name: name, stdout: stdout, stderr: stderr}
}

// Name returns the console name
func (c *System) Name() string { return c.name }

// Attach binds the endpoints of a unit.
func (c *System) Attach(s Streams) error {
	return c.bind.attach(s,
		sink{line: func(line string) { c.emit(c.stdout, Out, line) }},
		sink{line: func(line string) { c.emit(c.stderr, Err, line) }},
	)
}

// Detach drains and releases the endpoints.
func (c *System) Detach(ctx context.Context) error {
	return c.bind.detach(ctx, c.name)
}

// Write forwards p to the unit's input.
func (c *System) Write(p []byte) (int, error) {
	w, err := c.bind.stdin()
	if err != nil {
		return 0, err
	}
	return w.Write(p)
}

func (c *System) emit(w io.Writer, stream Stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, "[%s:%s] %s\n", c.bind.label(c.name), stream, line)
}
