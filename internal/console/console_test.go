package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipes struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
}

func newPipes() *pipes {
	p := &pipes{}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *pipes) streams(label string) Streams {
	return Streams{Stdin: p.stdinW, Stdout: p.stdoutR, Stderr: p.stderrR, Label: label}
}

func (p *pipes) finish() {
	p.stdoutW.Close()
	p.stderrW.Close()
}

func TestPipedReadsLinesInOrder(t *testing.T) {
	p := newPipes()
	c := NewPiped("test")
	require.NoError(t, c.Attach(p.streams("app:1")))

	go func() {
		io.WriteString(p.stdoutW, "first\nsecond\r\nthird\n")
		io.WriteString(p.stderrW, "oops\n")
		p.finish()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, want := range []string{"first", "second", "third"} {
		line, err := c.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := c.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)

	line, err := c.Error().ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "oops", line)

	require.NoError(t, c.Detach(ctx))
	assert.Equal(t, []string{"second", "third"}, c.Output().Tail(2))
}

func TestPipedExclusiveAttach(t *testing.T) {
	c := NewPiped("")
	assert.NotEmpty(t, c.Name())

	first := newPipes()
	require.NoError(t, c.Attach(first.streams("")))
	assert.ErrorIs(t, c.Attach(newPipes().streams("")), ErrConsoleInUse)

	first.finish()
	require.NoError(t, c.Detach(context.Background()))
	assert.ErrorIs(t, c.Detach(context.Background()), ErrNotAttached)

	second := newPipes()
	require.NoError(t, c.Attach(second.streams("")))
	second.finish()
	require.NoError(t, c.Detach(context.Background()))
}

func TestRejectedAttachKeepsReadersFinished(t *testing.T) {
	c := NewPiped("busy")
	first := newPipes()
	require.NoError(t, c.Attach(first.streams("")))
	first.finish()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.ReadLine(ctx)
	require.ErrorIs(t, err, io.EOF)

	require.ErrorIs(t, c.Attach(newPipes().streams("")), ErrConsoleInUse)

	_, err = c.ReadLineTimeout(time.Second)
	assert.ErrorIs(t, err, io.EOF)
	_, err = c.Error().ReadLineTimeout(time.Second)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, c.Detach(ctx))
}

func TestLongLineIsDeliveredInChunks(t *testing.T) {
	p := newPipes()
	c := NewPiped("long")
	require.NoError(t, c.Attach(p.streams("")))

	long := strings.Repeat("x", 2*maxLineSize+10)
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(p.stdoutW, long+"\n")
		if err == nil {
			_, err = io.WriteString(p.stdoutW, "after\n")
		}
		written <- err
		p.finish()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got []string
	for {
		line, err := c.ReadLine(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}

	require.NoError(t, <-written)
	require.Len(t, got, 4)
	assert.Len(t, got[0], maxLineSize)
	assert.Len(t, got[1], maxLineSize)
	assert.Equal(t, "xxxxxxxxxx", got[2])
	assert.Equal(t, "after", got[3])
	assert.Equal(t, long, got[0]+got[1]+got[2])

	require.NoError(t, c.Detach(ctx))
}

type brokenReader struct {
	data string
	err  error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *brokenReader) Close() error { return nil }

func TestReadFaultIsReported(t *testing.T) {
	broken := errors.New("device gone")

	var (
		mu     sync.Mutex
		faults []error
	)
	c := NewPiped("faulty")
	require.NoError(t, c.Attach(Streams{
		Stdout: &brokenReader{data: "before\n", err: broken},
		Fault: func(stream Stream, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, Out, stream)
			faults = append(faults, err)
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	line, err := c.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before", line)
	_, err = c.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, c.Detach(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], broken)
}

func TestPipedWriteReachesInput(t *testing.T) {
	p := newPipes()
	c := NewPiped("input")
	require.NoError(t, c.Attach(p.streams("")))

	got := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(p.stdinR)
		got <- string(b)
	}()

	require.NoError(t, c.WriteLine("hello"))
	require.NoError(t, c.CloseInput())

	select {
	case s := <-got:
		assert.Equal(t, "hello\n", s)
	case <-time.After(5 * time.Second):
		t.Fatal("input never closed")
	}

	p.finish()
	require.NoError(t, c.Detach(context.Background()))
}

func TestWriteWithoutAttachFails(t *testing.T) {
	c := NewPiped("idle")
	_, err := c.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestReadLineTimeout(t *testing.T) {
	p := newPipes()
	c := NewPiped("slow")
	require.NoError(t, c.Attach(p.streams("")))

	_, err := c.ReadLineTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)

	p.finish()
	require.NoError(t, c.Detach(context.Background()))
}

func TestRedirectedErrorStreamEndsImmediately(t *testing.T) {
	outR, outW := io.Pipe()
	c := NewPiped("merged")
	require.NoError(t, c.Attach(Streams{Stdout: outR}))

	_, err := c.Error().ReadLine(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	outW.Close()
	require.NoError(t, c.Detach(context.Background()))
}

func TestTapSeesEveryLine(t *testing.T) {
	p := newPipes()
	var mu sync.Mutex
	var seen []string

	s := p.streams("")
	s.Tap = func(stream Stream, line string) {
		mu.Lock()
		seen = append(seen, stream.String()+":"+line)
		mu.Unlock()
	}

	c := NewNull("null")
	require.NoError(t, c.Attach(s))
	io.WriteString(p.stdoutW, "a\n")
	io.WriteString(p.stderrW, "b\n")
	p.finish()
	require.NoError(t, c.Detach(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"out:a", "err:b"}, seen)
}

func TestSystemPrefixesLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := newPipes()
	c := NewSystemWriters("sys", &stdout, &stderr)
	require.NoError(t, c.Attach(p.streams("web:42")))

	io.WriteString(p.stdoutW, "ready\n")
	io.WriteString(p.stderrW, "warning\n")
	p.finish()
	require.NoError(t, c.Detach(context.Background()))

	assert.Equal(t, "[web:42:out] ready\n", stdout.String())
	assert.Equal(t, "[web:42:err] warning\n", stderr.String())
}

func TestDetachBoundedByContext(t *testing.T) {
	p := newPipes()
	c := NewPiped("stuck")
	require.NoError(t, c.Attach(p.streams("")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Detach(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "did not drain"))

	// The console is reusable afterwards.
	again := newPipes()
	require.NoError(t, c.Attach(again.streams("")))
	again.finish()
	require.NoError(t, c.Detach(context.Background()))
}

func TestLinesRing(t *testing.T) {
	b := NewLines(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Write(s)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"b", "c", "d"}, b.Tail(0))
	assert.Equal(t, []string{"d"}, b.Tail(1))
}

func TestTerminalSizeDefaults(t *testing.T) {
	term := NewTerminal("tty", 0, 0)
	cols, rows := term.TerminalSize()
	assert.Equal(t, uint16(80), cols)
	assert.Equal(t, uint16(24), rows)
	assert.ErrorIs(t, term.Resize(100, 40), ErrNotAttached)
}
