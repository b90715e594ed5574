package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterRetryableFailures(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.MaxRetries = 3

	attempts := 0
	result, err := Retry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &StatusError{Code: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok result, got %q", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	attempts := 0
	_, err := Retry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("validation error")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.MaxRetries = 2

	attempts := 0
	_, err := Retry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", &StatusError{Code: 500}
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", attempts)
	}
}

func TestIsRetryableClassifiesStatusCodes(t *testing.T) {
	if !IsRetryable(&StatusError{Code: 503}) {
		t.Fatalf("expected 503 to be retryable")
	}
	if IsRetryable(&StatusError{Code: 400}) {
		t.Fatalf("expected 400 to not be retryable")
	}
}
