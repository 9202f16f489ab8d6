package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrInvalidPolicy reports an unusable retry policy.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures bounded exponential backoff around one remote call.
type Policy struct {
	// MaxAttempts counts the initial call.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Sleep defaults to a context-aware timer when nil.
	Sleep SleepFunc
}

// DefaultPolicy returns three attempts starting at 2s, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1", ErrInvalidPolicy)
	case p.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must be >= 0", ErrInvalidPolicy)
	case p.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be >= 1", ErrInvalidPolicy)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay must be >= initial delay", ErrInvalidPolicy)
	}
	return nil
}

// Result reports what a Do call spent.
type Result struct {
	Attempts int
	Waited   time.Duration
}

// Do calls fn until it succeeds, returns a permanent error, or attempts run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		res     Result
		lastErr error
	)
	schedule := p.schedule()
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return res, err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return res, nil
		}
		if !IsRetryable(lastErr) || attempt == p.MaxAttempts {
			break
		}
		delay := schedule.NextBackOff()
		if err := sleep(ctx, delay); err != nil {
			return res, err
		}
		res.Waited += delay
	}
	return res, lastErr
}

// schedule returns a jitter-free exponential delay sequence for one Do call.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

// Error returns the wrapped message.
func (e permanentError) Error() string { return e.err.Error() }

// Unwrap exposes the wrapped error.
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsRetryable reports whether err should trigger another attempt.
// Context errors and errors marked Permanent are final; errors exposing
// Retryable() bool decide for themselves; anything else is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return true
}
