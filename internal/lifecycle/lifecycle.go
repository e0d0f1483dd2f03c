// Package lifecycle defines the synchronous observer mechanism attached to
// an application's state transitions.
//
// Interceptors are registered on a Schema and invoked in registration order
// on the goroutine performing the transition. A failing or panicking
// interceptor never stops the transition or the remaining interceptors; its
// failure is returned to the caller to be surfaced as a warning.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// Kind identifies a lifecycle transition.
type Kind int

const (
	Realized Kind = iota + 1
	Destroyed
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case Realized:
		return "realized"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Subject is the minimal view of an application an interceptor receives.
// Callers that need more can type-assert to the concrete application type.
type Subject interface {
	ID() int64
	Name() string
}

// Event describes one transition.
type Event struct {
	Kind    Kind
	Subject Subject
	Time    time.Time
}

// Interceptor receives lifecycle events.
type Interceptor interface {
	OnLifecycleEvent(Event) error
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(Event) error

// OnLifecycleEvent calls f(e).
func (f InterceptorFunc) OnLifecycleEvent(e Event) error {
	return f(e)
}

// InterceptorError reports the failure of one interceptor.
type InterceptorError struct {
	Index int
	Kind  Kind
	Err   error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("lifecycle interceptor %d failed on %s: %v", e.Index, e.Kind, e.Err)
}

func (e *InterceptorError) Unwrap() error {
	return e.Err
}

// Dispatch invokes every interceptor in order and returns one
// *InterceptorError per failure. Panics are recovered.
func Dispatch(event Event, interceptors []Interceptor) []error {
	var failures []error
	for i, interceptor := range interceptors {
		if interceptor == nil {
			continue
		}
		if err := invoke(interceptor, event); err != nil {
			failures = append(failures, &InterceptorError{Index: i, Kind: event.Kind, Err: err})
		}
	}
	return failures
}

func invoke(interceptor Interceptor, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return interceptor.OnLifecycleEvent(event)
}

// Recorder is an Interceptor that keeps every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnLifecycleEvent records e.
func (r *Recorder) OnLifecycleEvent(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
