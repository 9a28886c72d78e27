// Package retry runs an operation under an explicit retry policy.
//
// The same loop shape serves two callers: the line reconciler, which polls
// a file at a fixed interval for a bounded total wait, and the persistence
// gateway, which backs off exponentially for a bounded number of attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Clock abstracts the two time operations the retry loop needs so tests
// can observe delays without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

// Policy describes when and how long to wait between attempts.
//
// At least one of MaxAttempts or MaxWait should be set; with neither, Do
// retries until the operation succeeds, fails with a non-retryable error,
// or ctx is cancelled.
type Policy struct {
	// MaxAttempts caps the number of calls to the operation (0 = no cap).
	MaxAttempts int

	// MaxWait caps the sum of delays slept between attempts (0 = no cap).
	// A delay that would push the total past MaxWait is not taken.
	MaxWait time.Duration

	// Delay returns the wait after the given failed attempt (1-based).
	// Nil means no wait.
	Delay func(attempt int) time.Duration

	// Retryable reports whether err is worth another attempt.
	// Nil treats every error as retryable.
	Retryable func(err error) bool

	// Clock defaults to Real().
	Clock Clock
}

// Result reports what Do spent.
type Result struct {
	Attempts int
	Waited   time.Duration
}

// ExhaustedError is returned when the policy ran out of attempts or wait
// budget while the operation was still failing with a retryable error.
type ExhaustedError struct {
	Attempts int
	Waited   time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts (%v waited): %v", e.Attempts, e.Waited, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Constant returns a delay function that always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential returns a delay function that waits initial after the first
// failure and doubles on each subsequent failure, never exceeding max.
func Exponential(initial, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// Do calls op until it succeeds or the policy gives up.
//
// A nil error from op ends the loop. A non-retryable error is returned
// unchanged. Running out of attempts or wait budget yields an
// *ExhaustedError wrapping the last error. Cancelling ctx abandons any
// pending wait and returns ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) (Result, error) {
	clock := p.Clock
	if clock == nil {
		clock = Real()
	}

	var res Result
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		err := op(ctx, attempt)
		if err == nil {
			return res, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return res, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return res, &ExhaustedError{Attempts: attempt, Waited: res.Waited, Err: err}
		}

		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempt)
		}
		if p.MaxWait > 0 && res.Waited+d > p.MaxWait {
			return res, &ExhaustedError{Attempts: attempt, Waited: res.Waited, Err: err}
		}

		if d > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-clock.After(d):
			}
			res.Waited += d
		} else if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
}
