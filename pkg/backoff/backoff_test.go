package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_ExponentialGrowth(t *testing.T) {
	cfg := Config{Base: time.Second, Max: time.Minute, Multiplier: 2.0}

	assert.Equal(t, time.Duration(0), cfg.Delay(1))
	assert.Equal(t, time.Second, cfg.Delay(2))
	assert.Equal(t, 2*time.Second, cfg.Delay(3))
	assert.Equal(t, 4*time.Second, cfg.Delay(4))
}

func TestDelay_CappedAtMax(t *testing.T) {
	cfg := Config{Base: time.Second, Max: 3 * time.Second, Multiplier: 2.0}
	assert.Equal(t, 3*time.Second, cfg.Delay(10))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 5, Base: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Base: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_DelayAtLeastBase(t *testing.T) {
	cfg := Config{MaxAttempts: 2, Base: 50 * time.Millisecond, Max: time.Second, Multiplier: 2.0}

	start := time.Now()
	calls := 0
	_ = Retry(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	cfg := Config{MaxAttempts: 10, Base: 50 * time.Millisecond, Max: time.Second, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 10)
}

func TestRetry_DoesNotRetryContextErrors(t *testing.T) {
	cfg := Config{MaxAttempts: 5, Base: time.Millisecond, Max: time.Second, Multiplier: 2.0}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}
