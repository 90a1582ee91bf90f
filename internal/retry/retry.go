package retry

import (
	"context"
	"time"

	"github.com/TFMV/nestegg/internal/logger"
)

// DefaultConfig retries once with a short fixed delay and treats every
// error as retryable.
var DefaultConfig = Config{
	MaxRetries: 1,
	Delay:      1 * time.Second,
}

// Config configures the retry behavior. Retryable decides whether a
// failure is worth another attempt; a nil Retryable retries everything.
// OnRetry runs before each re-attempt and is used for best-effort
// cleanup of partial state left by the failed attempt.
type Config struct {
	MaxRetries int
	Delay      time.Duration
	Retryable  func(error) bool
	OnRetry    func(ctx context.Context, err error)
}

// WithMaxRetries sets the maximum number of retries
func (c Config) WithMaxRetries(max int) Config {
	c.MaxRetries = max
	return c
}

// WithDelay sets the fixed delay between attempts
func (c Config) WithDelay(d time.Duration) Config {
	c.Delay = d
	return c
}

// WithRetryable sets the retryable-error classifier
func (c Config) WithRetryable(f func(error) bool) Config {
	c.Retryable = f
	return c
}

// WithOnRetry sets the between-attempts hook
func (c Config) WithOnRetry(f func(ctx context.Context, err error)) Config {
	c.OnRetry = f
	return c
}

// Operation represents a retryable operation
type Operation func(ctx context.Context) error

// Do executes an operation, retrying classified-retryable failures up to
// cfg.MaxRetries times with a fixed delay between attempts. It returns
// the number of attempts made alongside the final error (nil on success).
func Do(ctx context.Context, op Operation, cfg Config) (int, error) {
	l := logger.FromContext(ctx)

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return attempts, lastErr
			}
			return attempts, ctx.Err()
		}

		attempts++
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				l.Info().
					Int("attempts", attempts).
					Msg("operation succeeded after retries")
			}
			return attempts, nil
		}

		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return attempts, err
		}

		l.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("maxRetries", cfg.MaxRetries).
			Msg("operation failed, retrying")

		if cfg.OnRetry != nil {
			cfg.OnRetry(ctx, err)
		}

		timer := time.NewTimer(cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, lastErr
		case <-timer.C:
		}
	}

	return attempts, lastErr
}
