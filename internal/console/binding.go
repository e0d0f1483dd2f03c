package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	maxLineSize    = 1024 * 1024
	readBufferSize = 64 * 1024
	closeGrace     = time.Second
)

// sink receives the lines of one stream. start runs once the attach is
// accepted, before any line is delivered.
type sink struct {
	start  func()
	line   func(string)
	finish func()
}

// binding implements the exclusive attach/detach protocol shared by every
// console backend.
type binding struct {
	mu       sync.Mutex
	attached bool
	streams  Streams
	drained  chan struct{}
}

func (b *binding) attach(s Streams, out, errs sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return ErrConsoleInUse
	}

	b.attached = true
	b.streams = s
	b.drained = make(chan struct{})

	for _, sk := range []sink{out, errs} {
		if sk.start != nil {
			sk.start()
		}
	}

	var wg sync.WaitGroup
	if s.Stdout != nil {
		wg.Add(1)
		go pump(&wg, s.Stdout, Out, s, out)
	} else if out.finish != nil {
		out.finish()
	}

	if s.Stderr != nil && !sameEndpoint(s.Stderr, s.Stdout) {
		wg.Add(1)
		go pump(&wg, s.Stderr, Err, s, errs)
	} else if errs.finish != nil {
		errs.finish()
	}

	drained := b.drained
	go func() {
		wg.Wait()
		close(drained)
	}()

	return nil
}

func (b *binding) detach(ctx context.Context, name string) error {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return ErrNotAttached
	}
	s := b.streams
	drained := b.drained
	b.mu.Unlock()

	shared := sameEndpoint(s.Stdin, s.Stdout)
	if s.Stdin != nil && !shared {
		s.Stdin.Close()
	}

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("console %s: output did not drain: %w", name, ctx.Err())
	}

	closeQuietly(s.Stdout)
	closeQuietly(s.Stderr)
	if shared {
		closeQuietly(s.Stdin)
	}

	if err != nil {
		// Closing the readers unblocks the pumps; wait briefly so the line
		// readers observe end of stream before the console is reused.
		select {
		case <-drained:
		case <-time.After(closeGrace):
		}
	}

	b.mu.Lock()
	b.attached = false
	b.streams = Streams{}
	b.mu.Unlock()

	return err
}

func (b *binding) stdin() (io.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached || b.streams.Stdin == nil {
		return nil, ErrNotAttached
	}
	return b.streams.Stdin, nil
}

func (b *binding) closeInput() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached || b.streams.Stdin == nil {
		return ErrNotAttached
	}
	if sameEndpoint(b.streams.Stdin, b.streams.Stdout) {
		// Closing a terminal master would also end output; send EOT instead.
		_, err := b.streams.Stdin.Write([]byte{4})
		return err
	}
	return b.streams.Stdin.Close()
}

func (b *binding) label(fallback string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams.Label != "" {
		return b.streams.Label
	}
	return fallback
}

func (b *binding) endpoint() io.WriteCloser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams.Stdin
}

// pump delivers the lines of r until it ends. Lines longer than
// maxLineSize are delivered in maxLineSize chunks. After a read fault the
// rest of the stream is discarded so the unit never blocks on a full pipe.
func pump(wg *sync.WaitGroup, r io.Reader, stream Stream, s Streams, sk sink) {
	defer wg.Done()
	if sk.finish != nil {
		defer sk.finish()
	}

	deliver := func(b []byte) {
		line := strings.TrimSuffix(string(b), "\r")
		if s.Tap != nil {
			s.Tap(stream, line)
		}
		if sk.line != nil {
			sk.line(line)
		}
	}

	br := bufio.NewReaderSize(r, readBufferSize)
	var (
		line  []byte
		split bool
	)
	for {
		frag, more, err := br.ReadLine()
		line = append(line, frag...)
		for len(line) >= maxLineSize {
			deliver(line[:maxLineSize])
			line = append(line[:0], line[maxLineSize:]...)
			split = true
		}

		if err != nil {
			if len(line) > 0 {
				deliver(line)
			}
			if !endOfStream(err) {
				if s.Fault != nil {
					s.Fault(stream, err)
				}
				io.Copy(io.Discard, br)
			}
			return
		}

		if !more {
			if len(line) > 0 || !split {
				deliver(line)
			}
			line = line[:0]
			split = false
		}
	}
}

// endOfStream reports errors that mean the stream ended normally or was
// closed by detach. Terminal masters report EIO once the unit exits.
func endOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}

func sameEndpoint(a, b any) bool {
	fa, ok := a.(*os.File)
	if !ok || fa == nil {
		return false
	}
	fb, ok := b.(*os.File)
	return ok && fa == fb
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	if f, ok := c.(*os.File); ok && f == nil {
		return
	}
	c.Close()
}
