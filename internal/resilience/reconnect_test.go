package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleeps returns a Sleep func that records delays instead of waiting.
func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{1200 * time.Millisecond, 2160 * time.Millisecond},
		{2160 * time.Millisecond, 3888 * time.Millisecond},
		{3888 * time.Millisecond, 6998 * time.Millisecond},
		{6998 * time.Millisecond, 12596 * time.Millisecond},
		{12596 * time.Millisecond, 15 * time.Second},
		{15 * time.Second, 15 * time.Second},
	}

	for _, tt := range tests {
		got := NextBackoff(tt.in, 1.8, 15*time.Second)
		if got != tt.want {
			t.Errorf("NextBackoff(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReconnect_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := Reconnect(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, &ReconnectConfig{
		MaxAttempts: 8,
		Backoff:     1200 * time.Millisecond,
		Multiplier:  1.8,
		MaxBackoff:  15 * time.Second,
		Sleep:       recordSleeps(&delays),
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if len(delays) != 0 {
		t.Errorf("Expected no sleeps, got %v", delays)
	}
}

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := Reconnect(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("room offline")
		}
		return nil
	}, &ReconnectConfig{
		MaxAttempts: 8,
		Backoff:     1200 * time.Millisecond,
		Multiplier:  1.8,
		MaxBackoff:  15 * time.Second,
		Sleep:       recordSleeps(&delays),
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []time.Duration{1200 * time.Millisecond, 2160 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("Expected delays %v, got %v", want, delays)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	lastErr := errors.New("attempt failed")

	err := Reconnect(context.Background(), func(ctx context.Context) error {
		return lastErr
	}, &ReconnectConfig{
		MaxAttempts: 8,
		Backoff:     1200 * time.Millisecond,
		Multiplier:  1.8,
		MaxBackoff:  15 * time.Second,
		Sleep:       recordSleeps(&delays),
		OnFailure: func(attempt int, delay time.Duration, err error) {
			attempts = append(attempts, attempt)
		},
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected *ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 8 {
		t.Errorf("Expected 8 attempts, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, lastErr) {
		t.Error("Expected ExhaustedError to wrap the last attempt's error")
	}

	// No sleep after the final attempt.
	want := []time.Duration{
		1200 * time.Millisecond,
		2160 * time.Millisecond,
		3888 * time.Millisecond,
		6998 * time.Millisecond,
		12596 * time.Millisecond,
		15 * time.Second,
		15 * time.Second,
	}
	if len(delays) != len(want) {
		t.Fatalf("Expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
	}

	if len(attempts) != 8 || attempts[0] != 1 || attempts[7] != 8 {
		t.Errorf("Expected OnFailure for attempts 1..8, got %v", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Reconnect(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("failed")
	}, &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Hour,
		Multiplier:  2,
		MaxBackoff:  time.Hour,
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestReconnect_DefaultConfig(t *testing.T) {
	cfg := DefaultReconnectConfig()

	if cfg.MaxAttempts != 8 {
		t.Errorf("Expected 8 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.Backoff != 1200*time.Millisecond {
		t.Errorf("Expected 1.2s backoff, got %v", cfg.Backoff)
	}
	if cfg.MaxBackoff != 15*time.Second {
		t.Errorf("Expected 15s max backoff, got %v", cfg.MaxBackoff)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
