package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	config := &ReconnectConfig{MaxAttempts: 4, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond}

	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("dial refused")
		}
		return nil
	}, config)

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	config := &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond}

	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("dial refused")
	}, config)

	var exhausted *ReconnectExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ReconnectExhaustedError, got %v", err)
	}
	if attempts != 3 || exhausted.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d (reported %d)", attempts, exhausted.Attempts)
	}
}

func TestReconnect_PerAttemptTimeout(t *testing.T) {
	config := &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1, AttemptTimeout: 20 * time.Millisecond}

	start := time.Now()
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, config)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected hung attempts to be bounded, took %v", elapsed)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, func(ctx context.Context) error {
		called = true
		return nil
	}, DefaultReconnectConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt after cancellation")
	}
}
