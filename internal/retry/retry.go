// Package retry runs operations with exponential backoff. Only errors
// marked with Retryable are retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 = until ctx is done
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on a single wait
	Multiplier  float64       // backoff growth per attempt
	Jitter      float64       // 0-1, fraction of the wait randomized

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultConfig returns the dialer's defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }

func (e RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as retryable. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// DoWithResult executes fn with retries and returns its result. The last
// error is returned unwrapped from RetryableError.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = errors.Unwrap(err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, lastErr)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (cfg Config) backoff(attempt int) time.Duration {
	wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}
