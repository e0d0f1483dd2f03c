/*
Package deferred turns "this will be true eventually" into a bounded wait.

An Evaluator repeatedly runs a Probe and checks its value against a
Matcher:

	v, err := deferred.Await(ctx, probe, deferred.Equal("ready"),
		deferred.WithTimeout(5*time.Second),
		deferred.WithSubject(app))

Probe failures marked Transient (or wrapping ErrNotAvailable) mean "not yet"
and are retried. Any other failure ends the wait at once. When the timeout
passes the result is a *DeferredTimeoutError carrying the last value seen;
when the subject is destroyed it is an *ApplicationDestroyedError.

The probe always runs at least once, so a zero timeout still checks the
condition, and a condition already true never sleeps.
*/
package deferred
