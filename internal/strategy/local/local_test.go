//go:build unix

package local

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
)

func shell(script string, redirect bool) strategy.Command {
	return strategy.Command{
		Executable:  "/bin/sh",
		Args:        []string{"-c", script},
		Env:         append(os.Environ(), "GREETING=hello"),
		RedirectErr: redirect,
	}
}

func waitDone(t *testing.T, u strategy.Unit) {
	t.Helper()
	select {
	case <-u.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("unit did not exit")
	}
}

func TestSpawnCapturesOutput(t *testing.T) {
	s := New()
	u, err := s.Spawn(context.Background(), shell(`echo "$GREETING $$"; echo oops >&2`, false), strategy.Options{})
	require.NoError(t, err)

	streams := u.Streams()
	require.NotNil(t, streams.Stderr)

	out, err := io.ReadAll(streams.Stdout)
	require.NoError(t, err)
	errOut, err := io.ReadAll(streams.Stderr)
	require.NoError(t, err)

	waitDone(t, u)
	assert.NoError(t, u.Err())

	fields := strings.Fields(string(out))
	require.Len(t, fields, 2)
	assert.Equal(t, "hello", fields[0])
	assert.Equal(t, fields[1], strconv.FormatInt(u.ID(), 10))
	assert.Equal(t, "oops\n", string(errOut))
}

func TestSpawnRedirectsErrorStream(t *testing.T) {
	u, err := New().Spawn(context.Background(), shell(`echo one; echo two >&2`, true), strategy.Options{})
	require.NoError(t, err)
	assert.Nil(t, u.Streams().Stderr)

	out, err := io.ReadAll(u.Streams().Stdout)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(out))
	waitDone(t, u)
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := New().Spawn(context.Background(), strategy.Command{Executable: "definitely-not-a-real-binary"}, strategy.Options{})
	require.Error(t, err)

	var spawnErr *strategy.SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, Name, spawnErr.Strategy)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestTerminateEscalates(t *testing.T) {
	s := New(WithKillGrace(100 * time.Millisecond))
	u, err := s.Spawn(context.Background(), shell(`trap '' TERM; while true; do sleep 1; done`, true), strategy.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, u.Terminate(ctx))
	waitDone(t, u)

	// Terminating an exited process is a no-op.
	assert.NoError(t, u.Terminate(ctx))
}

func TestSpawnOnTerminal(t *testing.T) {
	u, err := New().Spawn(context.Background(), shell(`echo tty`, false), strategy.Options{Terminal: true, Cols: 100, Rows: 30})
	require.NoError(t, err)

	streams := u.Streams()
	assert.Nil(t, streams.Stderr)
	assert.Equal(t, streams.Stdin, streams.Stdout)

	buf := make([]byte, 64)
	n, err := streams.Stdout.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "tty")

	waitDone(t, u)
	streams.Stdout.Close()
}

func TestSpawnHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Spawn(ctx, shell("true", false), strategy.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
