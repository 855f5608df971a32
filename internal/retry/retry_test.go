package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      200 * time.Millisecond,
	}
}

func TestConnect_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Connect(context.Background(), fastConfig(), "test", zerolog.Nop(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnect_GivesUp(t *testing.T) {
	boom := errors.New("down")
	err := Connect(context.Background(), fastConfig(), "redis", zerolog.Nop(), func(context.Context) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestConnect_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig()
	cfg.MaxElapsed = 0
	err := Connect(ctx, cfg, "postgres", zerolog.Nop(), func(context.Context) error {
		return errors.New("down")
	})
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 250*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.MaxInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxElapsed)
}
