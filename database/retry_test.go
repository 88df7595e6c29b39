package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/cobrun/geofence/errors"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 50*time.Millisecond {
		t.Errorf("expected InitialDelay=50ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 2*time.Second {
		t.Errorf("expected MaxDelay=2s, got %v", config.MaxDelay)
	}
	if config.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", config.Multiplier)
	}
	if config.Jitter != 0.2 {
		t.Errorf("expected Jitter=0.2, got %f", config.Jitter)
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	failure := errors.New("persistent failure")
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Errorf("expected the last failure to be wrapped, got %v", err)
	}
	if err.Error() != "max retries (3) exceeded: persistent failure" {
		t.Errorf("unexpected error message: %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestRetry_NoRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(0), func() error {
		attempts++
		return errors.New("i/o timeout")
	})
	if err == nil || err.Error() != "i/o timeout" {
		t.Errorf("expected the bare error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetry(5)
	config.InitialDelay = 50 * time.Millisecond

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("connection reset by peer")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", context.Canceled},
		{"deadline", fmt.Errorf("hget: %w", context.DeadlineExceeded)},
		{"miss", redis.Nil},
		{"not found", apperrors.NotFound("polygon")},
		{"server reply", redisReply("WRONGTYPE Operation against a key holding the wrong kind of value")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), fastRetry(3), func() error {
				attempts++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetry(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("EOF")
		}
		return "PONG", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "PONG" {
		t.Errorf("expected PONG, got %q", got)
	}
}

func TestRetryNotify(t *testing.T) {
	var waits []time.Duration
	attempts := 0
	err := RetryNotify(context.Background(), fastRetry(2), func() error {
		attempts++
		return errors.New("connection refused")
	}, func(err error, next time.Duration) {
		waits = append(waits, next)
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(waits) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(waits))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"loading", redisReply("LOADING Redis is loading the dataset in memory"), true},
		{"tryagain", redisReply("TRYAGAIN Multiple keys request during rehashing of slot"), true},
		{"wrongtype", redisReply("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
		{"miss", redis.Nil, false},
		{"cancelled", context.Canceled, false},
		{"app error", apperrors.Conflict("exists"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// redisReply is an error reply as go-redis surfaces it.
type redisReply string

func (e redisReply) Error() string { return string(e) }
func (redisReply) RedisError()     {}
