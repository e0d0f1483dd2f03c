package deferred

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotAvailable marks a probe result that does not exist yet. Probes
// return it (or wrap it) to be retried rather than fail.
var ErrNotAvailable = errors.New("value not available yet")

type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as "not yet satisfied": the evaluator keeps polling
// instead of failing.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient or wraps
// ErrNotAvailable.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t) || errors.Is(err, ErrNotAvailable)
}

// DeferredTimeoutError reports that the matcher was not satisfied in time.
type DeferredTimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int

	// Last is the most recent probed value; HasLast is false when no probe
	// ever produced one.
	Last    any
	HasLast bool

	Matcher string

	// Cause is the most recent transient probe failure, if any.
	Cause error
}

func (e *DeferredTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "expected value %s within %s", e.Matcher, e.Timeout)
	fmt.Fprintf(&b, " (%d attempts in %s)", e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.HasLast {
		fmt.Fprintf(&b, ", last value: %#v", e.Last)
	} else {
		b.WriteString(", no value observed")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ", last error: %v", e.Cause)
	}
	return b.String()
}

func (e *DeferredTimeoutError) Unwrap() error {
	return e.Cause
}

// ApplicationDestroyedError reports that the subject was destroyed while
// an evaluation was waiting on it.
type ApplicationDestroyedError struct {
	Attempts int
	Last     any
	HasLast  bool
}

func (e *ApplicationDestroyedError) Error() string {
	if e.HasLast {
		return fmt.Sprintf("application destroyed during evaluation (%d attempts, last value: %#v)", e.Attempts, e.Last)
	}
	return fmt.Sprintf("application destroyed during evaluation (%d attempts)", e.Attempts)
}
