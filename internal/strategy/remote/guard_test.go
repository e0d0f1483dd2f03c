package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardTripsAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	g := newGuard(2, time.Minute)
	g.now = func() time.Time { return now }

	var transitions []string
	g.onChange = func(from, to circuit) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	fail := func() error { return errors.New("refused") }
	succeed := func() error { return nil }

	assert.Error(t, g.do(fail))
	assert.Equal(t, closed, g.current())
	assert.Error(t, g.do(fail))
	assert.Equal(t, open, g.current())

	calls := 0
	err := g.do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	now = now.Add(time.Minute)
	assert.Equal(t, halfOpen, g.current())
	assert.NoError(t, g.do(succeed))
	assert.Equal(t, closed, g.current())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestGuardReopensOnFailedProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	g := newGuard(1, time.Second)
	g.now = func() time.Time { return now }

	assert.Error(t, g.do(func() error { return errors.New("x") }))
	now = now.Add(time.Second)

	assert.Error(t, g.do(func() error { return errors.New("still down") }))
	assert.Equal(t, open, g.current())
}

func TestGuardSuccessResetsFailures(t *testing.T) {
	g := newGuard(2, time.Minute)
	fail := func() error { return errors.New("x") }

	assert.Error(t, g.do(fail))
	assert.NoError(t, g.do(func() error { return nil }))
	assert.Error(t, g.do(fail))
	assert.Equal(t, closed, g.current())
}
