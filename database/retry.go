package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/cobrun/geofence/errors"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries).
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay grows after each retry.
	Multiplier float64
	// Jitter randomizes each delay by up to this fraction (0-1).
	Jitter float64
}

// DefaultRetryConfig returns defaults suited to Redis commands.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// ConnectRetryConfig returns the policy used while waiting for Redis at
// startup.
func ConnectRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   10,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	return RetryNotify(ctx, config, fn, nil)
}

// RetryNotify is Retry with a callback before each wait.
func RetryNotify(ctx context.Context, config RetryConfig, fn RetryableFunc, notify func(error, time.Duration)) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, config.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("retry cancelled: %w", ctxErr)
	}
	if attempts > 1 {
		return fmt.Errorf("max retries (%d) exceeded: %w", attempts-1, err)
	}
	return err
}

// RetryWithResult is Retry for functions that return a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// isRetryable reports whether err is worth another attempt. Misses, caller
// cancellation and application errors are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.Code(err) != "" {
		return false
	}

	// Server replies are final unless Redis asks for a retry.
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := err.Error()
		for _, prefix := range []string{"LOADING", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"} {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
		return false
	}

	// Network and pool errors.
	return true
}
