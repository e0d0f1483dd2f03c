package console

import (
	"context"
	"errors"
	"io"
)

var (
	ErrConsoleInUse = errors.New("console is already attached to an application")
	ErrNotAttached  = errors.New("console is not attached")
	ErrReadTimeout  = errors.New("console read timed out")
)

// Stream identifies an output stream of a unit.
type Stream int

const (
	Out Stream = iota
	Err
)

// String returns the short label used in prefixes and logs
func (s Stream) String() string {
	if s == Err {
		return "err"
	}
	return "out"
}

// Streams are the three endpoints of a running unit. Stderr is nil when the
// unit's error stream is redirected into Stdout (or the unit runs on a
// terminal, where both share one endpoint).
type Streams struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Label identifies the owning application in prefixed output, usually
	// "name:id".
	Label string

	// Tap, when set, observes every captured line before the console does.
	Tap func(stream Stream, line string)

	// Fault, when set, is told about a read error that ended line capture
	// for a stream. The stream is still drained afterwards.
	Fault func(stream Stream, err error)
}

// Console owns the stream endpoints of exactly one application at a time.
type Console interface {
	// Name identifies the console, stable across re-attachments.
	Name() string

	// Attach binds the endpoints and starts consuming output. It fails with
	// ErrConsoleInUse while another application is attached.
	Attach(s Streams) error

	// Detach waits for output to drain (bounded by ctx), releases the
	// endpoints and makes the console available again.
	Detach(ctx context.Context) error
}

// TerminalRequester is implemented by consoles that want the unit to run on
// a pseudo-terminal.
type TerminalRequester interface {
	TerminalSize() (cols, rows uint16)
}
