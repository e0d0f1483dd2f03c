package console

import (
	"os"
	"sync"

	"github.com/creack/pty"
)

// Terminal is a Piped console that asks for a pseudo-terminal. Output and
// error arrive interleaved on Output; carriage returns are stripped.
type Terminal struct {
	*Piped

	mu   sync.Mutex
	cols uint16
	rows uint16
}

// NewTerminal creates a terminal console with the given dimensions.
func NewTerminal(name string, cols, rows uint16) *Terminal {
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	return &Terminal{Piped: NewPiped(name), cols: cols, rows: rows}
}

// TerminalSize reports the requested dimensions.
func (t *Terminal) TerminalSize() (cols, rows uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// Resize changes the terminal dimensions of the attached unit.
func (t *Terminal) Resize(cols, rows uint16) error {
	t.mu.Lock()
	t.cols, t.rows = cols, rows
	t.mu.Unlock()

	f, ok := t.bind.endpoint().(*os.File)
	if !ok || f == nil {
		return ErrNotAttached
	}
	return pty.Setsize(f, &pty.Winsize{Cols: cols, Rows: rows})
}
