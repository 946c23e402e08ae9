// Package retry provides retry policies with exponential backoff for gamesync.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// Config holds configuration for retry logic.
// The delay before retry n (0-based) is BaseDelay * 2^n. MaxDelay and
// JitterPercent are only applied when non-zero.
type Config struct {
	MaxRetries    uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// InventoryDefaults returns the retry budget for the Steam inventory API
func InventoryDefaults() *Config {
	return &Config{
		MaxRetries: 5,
		BaseDelay:  time.Second,
	}
}

// StoreDefaults returns the retry budget for store page queries
func StoreDefaults() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// ItemWriteDefaults returns the retry budget for a single record write
func ItemWriteDefaults() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// PostgreSQLDefaults returns sensible defaults for PostgreSQL operations
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxRetries:    10,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// EtcdDefaults returns sensible defaults for etcd operations
func EtcdDefaults() *Config {
	return &Config{
		MaxRetries:    15, // etcd can take longer to recover
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 15,
	}
}

// CreateBackoff creates a fresh backoff strategy from config.
// Backoffs are stateful, so every operation needs its own.
func (c *Config) CreateBackoff() retry.Backoff {
	base := c.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.NewExponential(base)
	backoff = retry.WithMaxRetries(c.MaxRetries, backoff)
	if c.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	}
	if c.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	}
	return backoff
}

// WithOperation performs a general operation with retry logic.
// Errors tagged with a non-retryable syncerr kind are returned immediately.
func WithOperation(ctx context.Context, logger logrus.FieldLogger, config *Config, operation func() error, operationName string) error {
	backoff := config.CreateBackoff()
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := operation()
		if err == nil {
			return nil
		}
		if kind := syncerr.KindOf(err); kind != syncerr.KindUnknown && !kind.Retryable() {
			return err
		}
		if logger != nil {
			logger.WithError(err).
				WithField("operation", operationName).
				Warn("Operation failed, retrying...")
		}
		return retry.RetryableError(err)
	})
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
