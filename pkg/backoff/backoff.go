// Package backoff provides the exponential-backoff retry policy shared by
// the execution backend, webhook delivery, and the workers' storage calls.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config holds configuration for retry with backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// Base is the delay before the second attempt; subsequent delays grow
	// as base * multiplier^(attempt-1).
	Base time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier is applied to the delay after each attempt.
	Multiplier float64

	// Jitter is the fraction of the delay to randomize (0.0 to 1.0).
	Jitter float64
}

// Default returns the default retry configuration.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		Base:        time.Second,
		Max:         time.Minute,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Delay returns the backoff delay preceding the given attempt (attempt 1 has
// no delay). The growth is base * multiplier^(attempt-1), capped at Max.
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(c.Base)
	for i := 2; i < attempt; i++ {
		d *= c.Multiplier
		if time.Duration(d) >= c.Max {
			return c.Max
		}
	}
	if time.Duration(d) > c.Max {
		return c.Max
	}
	return time.Duration(d)
}

// Retry executes the operation with exponential backoff on failure. It
// respects context cancellation and returns the last error if all attempts
// fail.
func Retry(ctx context.Context, config Config, operation func() error) error {
	var lastErr error
	delay := config.Base

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Don't retry on context cancellation
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter > 0 {
			jitter := time.Duration(float64(delay) * config.Jitter * (rand.Float64()*2 - 1))
			if sleep+jitter > 0 {
				sleep += jitter
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.Max {
			delay = config.Max
		}
	}

	return lastErr
}
