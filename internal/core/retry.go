package core

import (
	"context"
	"time"

	"github.com/goosewin/prefsim/internal/dataset"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 5 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds how often a batch is attempted and how long to wait
// between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Sleep       SleepFunc
}

// DefaultRetryPolicy returns three attempts five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Interval: DefaultRetryInterval, Sleep: SleepContext}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. onFailure is called after every failed attempt
// with the 1-based attempt number. Do returns the number of attempts made and
// the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onFailure func(attempt int, err error)) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if onFailure != nil {
			onFailure(attempt, lastErr)
		}
		if !Retryable(lastErr) {
			return attempt, lastErr
		}
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		if attempt < p.MaxAttempts && p.Interval > 0 {
			if err := p.Sleep(ctx, p.Interval); err != nil {
				return attempt, err
			}
		}
	}
	return p.MaxAttempts, lastErr
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Retryable reports whether another attempt could succeed. Schema errors are
// final; a cancelled run is detected by Do through its own context.
func Retryable(err error) bool {
	return err != nil && !dataset.IsSchemaError(err)
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
