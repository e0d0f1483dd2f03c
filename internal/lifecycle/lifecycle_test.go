package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubject struct{}

func (fakeSubject) ID() int64    { return 7 }
func (fakeSubject) Name() string { return "fake" }

func TestDispatchOrderAndFailures(t *testing.T) {
	var order []int
	boom := errors.New("boom")

	interceptors := []Interceptor{
		InterceptorFunc(func(Event) error { order = append(order, 0); return nil }),
		InterceptorFunc(func(Event) error { order = append(order, 1); return boom }),
		nil,
		InterceptorFunc(func(Event) error { order = append(order, 3); panic("bad observer") }),
		InterceptorFunc(func(Event) error { order = append(order, 4); return nil }),
	}

	failures := Dispatch(Event{Kind: Realized, Subject: fakeSubject{}}, interceptors)

	assert.Equal(t, []int{0, 1, 3, 4}, order)
	require.Len(t, failures, 2)

	var first *InterceptorError
	require.ErrorAs(t, failures[0], &first)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, Realized, first.Kind)
	assert.ErrorIs(t, failures[0], boom)

	assert.Contains(t, failures[1].Error(), "panic: bad observer")
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	Dispatch(Event{Kind: Realized, Subject: fakeSubject{}}, []Interceptor{rec})
	Dispatch(Event{Kind: Destroyed, Subject: fakeSubject{}}, []Interceptor{rec})

	assert.Equal(t, 1, rec.Count(Realized))
	assert.Equal(t, 1, rec.Count(Destroyed))
	require.Len(t, rec.Events(), 2)
	assert.Equal(t, int64(7), rec.Events()[0].Subject.ID())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "realized", Realized.String())
	assert.Equal(t, "destroyed", Destroyed.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
