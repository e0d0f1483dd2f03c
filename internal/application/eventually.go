package application

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/deferred"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Eventually submits c repeatedly until its result satisfies m. It uses
// the application's default timeout and poll interval unless opts say
// otherwise, and ends with an *ApplicationDestroyedError if the
// application is destroyed meanwhile.
func Eventually[T any](ctx context.Context, a *Application, c work.Callable, m deferred.Matcher[T], opts ...deferred.Option) (T, error) {
	probe := func(ctx context.Context) (T, error) {
		return Call[T](ctx, a, c)
	}
	return deferred.Await(ctx, probe, m, a.deferredOptions(opts)...)
}

// Await polls an arbitrary probe against the application with the same
// defaults as Eventually.
func Await[T any](ctx context.Context, a *Application, probe deferred.Probe[T], m deferred.Matcher[T], opts ...deferred.Option) (T, error) {
	return deferred.Await(ctx, probe, m, a.deferredOptions(opts)...)
}

func (a *Application) deferredOptions(opts []deferred.Option) []deferred.Option {
	base := []deferred.Option{
		deferred.WithTimeout(a.defaultTimeout),
		deferred.WithPollInterval(a.pollInterval),
		deferred.WithSubject(a),
	}
	if a.metrics != nil {
		base = append(base, deferred.WithObserver(a.metrics))
	}
	return append(base, opts...)
}
