package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxRetries: 2, Delay: time.Millisecond}
}

func TestConfigBuilders(t *testing.T) {
	var hookCalls int
	cfg := DefaultConfig.
		WithMaxRetries(4).
		WithDelay(5 * time.Millisecond).
		WithRetryable(func(err error) bool { return false }).
		WithOnRetry(func(ctx context.Context, err error) { hookCalls++ })

	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.Delay)
	assert.NotNil(t, cfg.Retryable)
	assert.False(t, cfg.Retryable(errors.New("x")))
	cfg.OnRetry(context.Background(), nil)
	assert.Equal(t, 1, hookCalls)

	// Value-receiver builders never mutate the shared default.
	assert.Equal(t, 1, DefaultConfig.MaxRetries)
	assert.Equal(t, time.Second, DefaultConfig.Delay)
	assert.Nil(t, DefaultConfig.Retryable)
	assert.Nil(t, DefaultConfig.OnRetry)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastConfig())

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	failure := errors.New("still broken")
	attempts, err := Do(context.Background(), func(ctx context.Context) error {
		return failure
	}, fastConfig())

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig().WithRetryable(func(err error) bool { return false })

	attempts, err := Do(context.Background(), func(ctx context.Context) error {
		return permanent
	}, cfg)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoRunsOnRetryBetweenAttempts(t *testing.T) {
	var seen []error
	failure := errors.New("boom")
	cfg := fastConfig().WithOnRetry(func(ctx context.Context, err error) {
		seen = append(seen, err)
	})

	attempts, err := Do(context.Background(), func(ctx context.Context) error {
		return failure
	}, cfg)

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 3, attempts)
	// The hook runs before each re-attempt, not after the final failure.
	assert.Len(t, seen, 2)
}

func TestDoHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run on a cancelled context")
		return nil
	}, fastConfig())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestDoReturnsLastErrorWhenCancelledMidRetry(t *testing.T) {
	failure := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, Delay: time.Minute}

	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		defer close(done)
		attempts, err = Do(ctx, func(ctx context.Context) error {
			return failure
		}, cfg)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, attempts)
}
