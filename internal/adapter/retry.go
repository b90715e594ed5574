package adapter

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig tunes the exponential-backoff-with-jitter retry loop used by
// the reference HTTP adapter. Defaults match the spec's reference numbers:
// 1s initial delay, 16s cap, x2 multiplier, 10% jitter, 4 retries.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxRetries   int
}

// DefaultRetryConfig returns the reference defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
		MaxRetries:   4,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

// IsRetryable classifies an error as a transient, retryable transport
// failure: network errors and (when provided) HTTP 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 && se.Code < 600
	}
	return false
}

// StatusError wraps a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return "adapter: unexpected status " + itoa(e.Code) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// Retry runs op, retrying on retryable errors using an exponential backoff
// with jitter per cfg, up to cfg.MaxRetries additional attempts. It stops
// immediately (without retrying) on a non-retryable error, and honors ctx
// cancellation between attempts.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	b := cfg.backOff()
	var zero T
	attempt := 0
	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return zero, err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}
