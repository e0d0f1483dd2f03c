package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/control"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

func TestServeAnswersWork(t *testing.T) {
	hub := control.NewHub("127.0.0.1:0")
	t.Cleanup(func() { hub.Close() })

	token := control.NewToken()
	ch, err := hub.Expect(token)
	require.NoError(t, err)

	env := work.StaticEnv{Props: map[string]string{"token": "xyz"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, work.Default(), WithURL(hub.URL(token)), WithEnv(env))
	}()

	envelope, err := work.Default().Encode(work.GetProperty{Key: "token"})
	require.NoError(t, err)

	deliverCtx, deliverCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer deliverCancel()
	reply, err := ch.Deliver(deliverCtx, envelope)
	require.NoError(t, err)

	select {
	case res, ok := <-reply:
		require.True(t, ok)
		var got string
		require.NoError(t, res.Decode(&got))
		assert.Equal(t, "xyz", got)
	case <-deliverCtx.Done():
		t.Fatal("no result")
	}

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeEndsWhenParentHangsUp(t *testing.T) {
	hub := control.NewHub("127.0.0.1:0")
	token := control.NewToken()
	ch, err := hub.Expect(token)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		served <- Serve(context.Background(), nil, WithURL(hub.URL(token)))
	}()

	select {
	case <-ch.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("agent never connected")
	}
	hub.Forget(token)

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	hub.Close()
}

func TestServeWithoutChannel(t *testing.T) {
	t.Setenv(control.EnvURL, "")
	assert.False(t, Enabled())
	assert.ErrorIs(t, Serve(context.Background(), nil), ErrDisabled)
}

func TestEnvReadsProcess(t *testing.T) {
	t.Setenv("APPRUN_AGENT_TEST", "on")
	env := NewEnv()
	assert.Equal(t, "on", env.Getenv("APPRUN_AGENT_TEST"))
	_, ok := env.LookupEnv("APPRUN_AGENT_TEST_MISSING")
	assert.False(t, ok)
}
