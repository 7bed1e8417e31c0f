package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts    int           // Maximum number of reconnection attempts
	Backoff        time.Duration // Backoff duration between attempts
	Multiplier     float64       // Backoff multiplier for exponential backoff
	MaxBackoff     time.Duration // Maximum backoff duration
	AttemptTimeout time.Duration // Deadline applied to each individual attempt
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts:    5,
		Backoff:        1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// ReconnectFunc attempts one reconnection within the given context
type ReconnectFunc func(ctx context.Context) error

// ReconnectExhaustedError reports that every reconnection attempt failed
type ReconnectExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("failed to reconnect after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error {
	return e.Err
}

// Reconnect attempts to reconnect with exponential backoff.
// Each attempt runs under its own AttemptTimeout so a hung dial cannot stall the loop.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = runAttempt(ctx, fn, config.AttemptTimeout)
		if lastErr == nil {
			log.Info().Int("attempt", attempt+1).Msg("Reconnection successful")
			return nil
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts-1 {
			log.Warn().Err(lastErr).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxAttempts).
				Dur("retry_in", backoff).
				Msg("Reconnection attempt failed")

			if err := SleepContext(ctx, backoff); err != nil {
				return err
			}
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return &ReconnectExhaustedError{Attempts: config.MaxAttempts, Err: lastErr}
}

func runAttempt(ctx context.Context, fn ReconnectFunc, timeout time.Duration) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
