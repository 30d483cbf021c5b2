package resilience

import (
	"context"
	"fmt"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of attempts, the first one included
	Backoff     time.Duration // Delay after the first failed attempt
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration

	// OnFailure is called after every failed attempt. delay is zero when
	// no further attempt will be made.
	OnFailure func(attempt int, delay time.Duration, err error)

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultReconnectConfig returns the live room connection schedule:
// 1.2s growing by 1.8x up to 15s.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 8,
		Backoff:     1200 * time.Millisecond,
		Multiplier:  1.8,
		MaxBackoff:  15 * time.Second,
	}
}

// ExhaustedError is returned when every attempt failed. Err is the last
// attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed to connect after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// ReconnectFunc is a function that attempts to connect
type ReconnectFunc func(ctx context.Context) error

// NextBackoff returns the delay that follows d, truncated to whole
// milliseconds and capped at max.
func NextBackoff(d time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(d) * multiplier).Truncate(time.Millisecond)
	if max > 0 && next > max {
		next = max
	}
	return next
}

// Reconnect attempts to connect with exponential backoff. It returns nil on
// the first success, ctx.Err() when cancelled, or *ExhaustedError.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	backoff := config.Backoff
	if backoff > config.MaxBackoff && config.MaxBackoff > 0 {
		backoff = config.MaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			if config.OnFailure != nil {
				config.OnFailure(attempt, 0, lastErr)
			}
			break
		}

		if config.OnFailure != nil {
			config.OnFailure(attempt, backoff, lastErr)
		}

		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = NextBackoff(backoff, config.Multiplier, config.MaxBackoff)
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleepContext(ctx, d)
}
