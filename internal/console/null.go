package console

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/shared/id"
)

// Null drains and discards all output.
type Null struct {
	name string
	bind binding
}

// NewNull creates a discarding console.
func NewNull(name string) *Null {
	if name == "" {
		name = id.NewConsoleID().String()
	}
	return &Null{name: name}
}

// Name returns the console name
func (c *Null) Name() string { return c.name }

// Attach binds the endpoints of a unit.
func (c *Null) Attach(s Streams) error {
	return c.bind.attach(s, sink{}, sink{})
}

// Detach drains and releases the endpoints.
func (c *Null) Detach(ctx context.Context) error {
	return c.bind.detach(ctx, c.name)
}
