package console

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const historySize = 1000

// LineReader surfaces the lines of one stream in production order. Readers
// block until a line is available, the stream ends (io.EOF) or their
// context is done.
type LineReader struct {
	mu      sync.Mutex
	pending []string
	closed  bool
	notify  chan struct{}
	history *Lines
}

func newLineReader() *LineReader {
	return &LineReader{
		notify:  make(chan struct{}),
		history: NewLines(historySize),
	}
}

// ReadLine returns the next unread line.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			line := r.pending[0]
			r.pending[0] = ""
			r.pending = r.pending[1:]
			r.mu.Unlock()
			return line, nil
		}
		if r.closed {
			r.mu.Unlock()
			return "", io.EOF
		}
		wait := r.notify
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// ReadLineTimeout is ReadLine bounded by d; it fails with ErrReadTimeout.
func (r *LineReader) ReadLineTimeout(d time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	line, err := r.ReadLine(ctx)
	if err == context.DeadlineExceeded {
		return "", fmt.Errorf("%w after %s", ErrReadTimeout, d)
	}
	return line, err
}

// Tail returns up to n of the most recent lines seen, read or not.
func (r *LineReader) Tail(n int) []string {
	return r.history.Tail(n)
}

func (r *LineReader) push(line string) {
	r.history.Write(line)

	r.mu.Lock()
	r.pending = append(r.pending, line)
	r.wake()
	r.mu.Unlock()
}

func (r *LineReader) close() {
	r.mu.Lock()
	r.closed = true
	r.wake()
	r.mu.Unlock()
}

func (r *LineReader) reopen() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

// wake must be called with mu held.
func (r *LineReader) wake() {
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *LineReader) sink() sink {
	return sink{start: r.reopen, line: r.push, finish: r.close}
}
