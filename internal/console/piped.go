package console

import (
	"context"
	"io"
	"time"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/shared/id"
)

// Piped captures output and error into blocking line readers and exposes
// the unit's input as a writer.
type Piped struct {
	name string
	bind binding
	out  *LineReader
	err  *LineReader
}

// NewPiped creates a piped console. An empty name gets a generated one.
func NewPiped(name string) *Piped {
	if name == "" {
		name = id.NewConsoleID().String()
	}
	return &Piped{
		name: name,
		out:  newLineReader(),
		err:  newLineReader(),
	}
}

// Name returns the console name
func (c *Piped) Name() string { return c.name }

// Attach binds the endpoints of a unit.
func (c *Piped) Attach(s Streams) error {
	return c.bind.attach(s, c.out.sink(), c.err.sink())
}

// Detach drains and releases the endpoints.
func (c *Piped) Detach(ctx context.Context) error {
	return c.bind.detach(ctx, c.name)
}

// Output returns the reader for the unit's standard output.
func (c *Piped) Output() *LineReader { return c.out }

// Error returns the reader for the unit's standard error. It reports io.EOF
// immediately when the error stream is redirected.
func (c *Piped) Error() *LineReader { return c.err }

// ReadLine reads the next output line.
func (c *Piped) ReadLine(ctx context.Context) (string, error) {
	return c.out.ReadLine(ctx)
}

// ReadLineTimeout reads the next output line, failing after d.
func (c *Piped) ReadLineTimeout(d time.Duration) (string, error) {
	return c.out.ReadLineTimeout(d)
}

// Write sends p to the unit's input without buffering.
func (c *Piped) Write(p []byte) (int, error) {
	w, err := c.bind.stdin()
	if err != nil {
		return 0, err
	}
	return w.Write(p)
}

// WriteLine writes s followed by a newline.
func (c *Piped) WriteLine(s string) error {
	_, err := io.WriteString(c, s+"\n")
	return err
}

// CloseInput signals end of input to the unit.
func (c *Piped) CloseInput() error {
	return c.bind.closeInput()
}
