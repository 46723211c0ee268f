package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/onehubexpress/search/internal/config"
)

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func RetryConfigFrom(c config.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts: c.MaxAttempts,
		InitialWait: c.InitialWait,
		MaxWait:     c.MaxWait,
		Multiplier:  c.Multiplier,
	}
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// backOff is deterministic: no jitter and no elapsed-time limit, so the
// attempt count alone bounds the loop.
func (c RetryConfig) backOff(ctx context.Context) backoff.BackOffContext {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = backoff.DefaultMaxInterval
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialWait,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         maxWait,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.attempts()-1)), ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Retry runs fn until it succeeds, returns a Permanent error, the attempts
// run out or ctx is done. A Permanent error is returned still marked so
// callers such as the circuit breaker can tell it apart.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		n       int
		lastErr error
	)
	err := backoff.Retry(func() error {
		n++
		lastErr = fn()
		return lastErr
	}, cfg.backOff(ctx))

	switch {
	case err == nil:
		return nil
	case IsPermanent(lastErr):
		return lastErr
	case ctx.Err() != nil:
		return fmt.Errorf("retry aborted after %d attempts: %w", n, lastErr)
	default:
		return fmt.Errorf("all %d retry attempts failed: %w", n, lastErr)
	}
}
