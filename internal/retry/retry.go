// Package retry wraps exponential backoff for connecting to external
// backends at startup.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

// Config configures startup retries.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 retries until ctx is done
}

// DefaultConfig returns the retry settings used for backend connections.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

// Connect calls op until it succeeds, the elapsed budget runs out, or ctx is
// cancelled. Each failed attempt is logged with the backend name.
func Connect(ctx context.Context, cfg Config, name string, logger zerolog.Logger, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = cfg.MaxElapsed

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("backend", name).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("backend not reachable, retrying")
	})
	if err != nil {
		return fmt.Errorf("connect %s after %d attempts: %w", name, attempts, err)
	}
	return nil
}
