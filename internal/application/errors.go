package application

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/deferred"
)

var (
	ErrNotRunning  = errors.New("application is not running")
	ErrUnsupported = errors.New("application does not accept submitted work")
	ErrLost        = errors.New("connection to the application was lost")

	ErrEvaluationsRunning = errors.New("deferred evaluations still running at teardown")
)

// ApplicationDestroyedError reports that the application was destroyed
// while a caller was waiting on it.
type ApplicationDestroyedError = deferred.ApplicationDestroyedError

// DeferredTimeoutError reports that a deferred evaluation timed out.
type DeferredTimeoutError = deferred.DeferredTimeoutError

// RealizationError reports that an application could not be started. No
// application exists after it.
type RealizationError struct {
	Name       string
	Executable string
	Strategy   string
	Err        error
}

func (e *RealizationError) Error() string {
	return fmt.Sprintf("realize %s (%s via %s): %v", e.Name, e.Executable, e.Strategy, e.Err)
}

func (e *RealizationError) Unwrap() error {
	return e.Err
}

// SubmissionError reports that a unit of work never reached the
// application. It was not executed.
type SubmissionError struct {
	Application string
	Work        string
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s to %s: %v", e.Work, e.Application, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that a delivered unit of work failed inside the
// application, or that its outcome was lost. Message holds the failure
// raised by the work; Err is set when the outcome was lost.
type ExecutionError struct {
	Application  string
	Work         string
	SubmissionID string
	Message      string
	Err          error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execute %s in %s: %v", e.Work, e.Application, e.Err)
	}
	return fmt.Sprintf("execute %s in %s: %s", e.Work, e.Application, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
