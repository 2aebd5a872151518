package apperr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry_SuccessFirstAttempt(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	result, err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "ok" || attempts != 1 {
		t.Fatalf("expected ok/1 attempt, got %q/%d", result, attempts)
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		if attempts < 3 {
			return "", Upstream(errors.New("timeout"), "transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "", Validation("bad input")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "", Upstream(errors.New("down"), "still down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := WithRetry(ctx, cfg, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		return "", Upstream(errors.New("down"), "still down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
