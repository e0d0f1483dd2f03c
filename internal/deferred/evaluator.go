package deferred

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// State of an evaluation. Every state but Pending is terminal.
type State int

const (
	Pending State = iota
	Resolved
	TimedOut
	Errored
	Destroyed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Probe produces the current value of what is being waited for.
type Probe[T any] func(ctx context.Context) (T, error)

// Subject is what an evaluation runs against. Done is closed when the
// subject is destroyed. Acquire registers an in-flight evaluation; the
// subject's teardown waits for release.
type Subject interface {
	Done() <-chan struct{}
	Acquire() (release func(), err error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer receives the outcome of every evaluation.
type Observer interface {
	ObserveDeferred(state string, attempts int, elapsed time.Duration)
}

type config struct {
	timeout  time.Duration
	interval time.Duration
	jitter   float64
	subject  Subject
	clock    Clock
	observer Observer
}

// Option configures an evaluation.
type Option func(*config)

// WithTimeout bounds the evaluation. Zero means a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the pause between attempts.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithJitter randomizes each pause by up to the given fraction of the
// interval, in either direction.
func WithJitter(fraction float64) Option {
	return func(c *config) {
		if fraction >= 0 && fraction <= 1 {
			c.jitter = fraction
		}
	}
}

// WithSubject ties the evaluation to a subject whose destruction ends it.
func WithSubject(s Subject) Option {
	return func(c *config) { c.subject = s }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithObserver reports outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// Evaluator polls a probe until its value satisfies a matcher. An
// Evaluator is meant for a single Await.
type Evaluator[T any] struct {
	probe   Probe[T]
	matcher Matcher[T]
	cfg     config

	mu       sync.Mutex
	state    State
	attempts int
}

// New creates an evaluator.
func New[T any](probe Probe[T], matcher Matcher[T], opts ...Option) *Evaluator[T] {
	cfg := config{
		timeout:  defaultTimeout,
		interval: defaultPollInterval,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if matcher == nil {
		matcher = Any[T]()
	}
	return &Evaluator[T]{probe: probe, matcher: matcher, cfg: cfg}
}

// Await is New(probe, matcher, opts...).Await(ctx).
func Await[T any](ctx context.Context, probe Probe[T], matcher Matcher[T], opts ...Option) (T, error) {
	return New(probe, matcher, opts...).Await(ctx)
}

// State returns the current state.
func (e *Evaluator[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Attempts returns how many times the probe ran.
func (e *Evaluator[T]) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Await runs the evaluation. The probe always runs at least once. A probe
// failing with a transient error is retried; any other error ends the
// evaluation as Errored. If the subject is destroyed, Await returns an
// ApplicationDestroyedError; if ctx ends first, ctx's error.
func (e *Evaluator[T]) Await(ctx context.Context) (value T, err error) {
	clock := e.cfg.clock
	start := clock.Now()
	deadline := start.Add(e.cfg.timeout)

	var (
		last    T
		hasLast bool
		cause   error
	)

	finish := func(state State) {
		e.mu.Lock()
		e.state = state
		attempts := e.attempts
		e.mu.Unlock()
		if e.cfg.observer != nil {
			e.cfg.observer.ObserveDeferred(state.String(), attempts, clock.Now().Sub(start))
		}
	}
	destroyed := func() (T, error) {
		finish(Destroyed)
		var zero T
		return zero, &ApplicationDestroyedError{Attempts: e.Attempts(), Last: lastValue(last, hasLast), HasLast: hasLast}
	}

	var done <-chan struct{}
	if s := e.cfg.subject; s != nil {
		release, err := s.Acquire()
		if err != nil {
			return destroyed()
		}
		defer release()
		done = s.Done()
	}

	// Cancel in-flight probes when the subject goes away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	for {
		v, perr := e.attempt(ctx, clock, deadline)

		if isClosed(done) {
			return destroyed()
		}
		if err := ctx.Err(); err != nil {
			finish(Errored)
			var zero T
			return zero, err
		}

		switch {
		case perr == nil:
			last, hasLast, cause = v, true, nil
			if e.matcher.Matches(v) {
				finish(Resolved)
				return v, nil
			}
		case IsTransient(perr):
			cause = perr
		default:
			finish(Errored)
			var zero T
			return zero, perr
		}

		now := clock.Now()
		if !now.Before(deadline) {
			finish(TimedOut)
			var zero T
			return zero, &DeferredTimeoutError{
				Timeout:  e.cfg.timeout,
				Elapsed:  now.Sub(start),
				Attempts: e.Attempts(),
				Last:     lastValue(last, hasLast),
				HasLast:  hasLast,
				Matcher:  e.matcher.String(),
				Cause:    cause,
			}
		}

		pause := e.pause()
		if remaining := deadline.Sub(now); pause > remaining {
			pause = remaining
		}

		select {
		case <-clock.After(pause):
		case <-done:
			return destroyed()
		case <-ctx.Done():
			finish(Errored)
			var zero T
			return zero, ctx.Err()
		}
	}
}

// attempt runs the probe once. Its context lasts at least one poll
// interval so a zero timeout still gets a fair attempt; a probe cut off by
// that bound counts as not yet satisfied.
func (e *Evaluator[T]) attempt(ctx context.Context, clock Clock, deadline time.Time) (T, error) {
	e.mu.Lock()
	e.attempts++
	e.mu.Unlock()

	budget := deadline.Sub(clock.Now())
	if budget < e.cfg.interval {
		budget = e.cfg.interval
	}
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	v, err := e.probe(actx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil {
		err = Transient(err)
	}
	return v, err
}

func (e *Evaluator[T]) pause() time.Duration {
	d := e.cfg.interval
	if e.cfg.jitter > 0 {
		delta := (rand.Float64()*2 - 1) * e.cfg.jitter * float64(d)
		d += time.Duration(delta)
	}
	if d < 0 {
		d = 0
	}
	return d
}

func lastValue[T any](v T, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
