package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/deferred"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Future is the pending outcome of a submitted unit of work.
type Future struct {
	app    *Application
	id     string
	work   string
	reply  <-chan work.Result
	closed <-chan struct{}

	mu      sync.Mutex
	settled bool
	result  work.Result
	err     error
}

// ID returns the submission id.
func (f *Future) ID() string { return f.id }

// Get waits for the outcome. A failure raised by the work is an
// *ExecutionError; destruction of the application while waiting is an
// *ApplicationDestroyedError. A result that already arrived always wins.
func (f *Future) Get(ctx context.Context) (work.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settled {
		return f.result, f.err
	}

	select {
	case res, ok := <-f.reply:
		return f.settle(res, ok)
	case <-f.app.done:
		return f.settleNow()
	case <-f.closed:
		return f.settleNow()
	case <-ctx.Done():
		return work.Result{}, ctx.Err()
	}
}

// Decode waits for the outcome and unmarshals its value into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	res, err := f.Get(ctx)
	if err != nil {
		return err
	}
	return res.Decode(v)
}

// settleNow settles from a result that is already there, if any.
func (f *Future) settleNow() (work.Result, error) {
	select {
	case res, ok := <-f.reply:
		return f.settle(res, ok)
	default:
		return f.settle(work.Result{}, false)
	}
}

func (f *Future) settle(res work.Result, ok bool) (work.Result, error) {
	f.settled = true

	switch {
	case !ok:
		select {
		case <-f.app.done:
			f.err = &ApplicationDestroyedError{}
		default:
			f.err = &ExecutionError{Application: f.app.String(), Work: f.work, SubmissionID: f.id, Err: ErrLost}
		}
	case res.Failed():
		f.err = &ExecutionError{Application: f.app.String(), Work: f.work, SubmissionID: f.id, Message: res.Error}
	default:
		f.result = res
	}
	return f.result, f.err
}

func notAvailable(work string) error {
	return fmt.Errorf("%s returned no value: %w", work, deferred.ErrNotAvailable)
}
