package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamba9016/vente/internal/broker"
	"github.com/Bamba9016/vente/internal/config"
	"github.com/Bamba9016/vente/internal/retry"
	"github.com/Bamba9016/vente/internal/store"
)

func quickRetry() retry.Config {
	return retry.Config{InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxElapsed: 100 * time.Millisecond}
}

func TestOpenStore_Bolt(t *testing.T) {
	ctx := context.Background()
	st, err := OpenStore(ctx, config.Store{Driver: "bolt", BoltPath: filepath.Join(t.TempDir(), "rt.db")}, quickRetry(), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &store.Bolt{}, st)
	assert.NoError(t, st.Ping(ctx))
}

func TestOpenStore_Unknown(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Store{Driver: "sqlite"}, quickRetry(), zerolog.Nop())
	assert.ErrorContains(t, err, "sqlite")
}

func TestOpenTransport_Memory(t *testing.T) {
	tr, err := OpenTransport(context.Background(), config.Broker{Driver: "memory"}, quickRetry(), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &broker.MemoryBroker{}, tr.Broker)
	assert.NoError(t, tr.Close())
}

func TestOpenTransport_Redis(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	tr, err := OpenTransport(ctx, config.Broker{
		Driver:        "redis",
		RedisAddr:     srv.Addr(),
		Prefix:        "t:",
		MembershipTTL: time.Minute,
	}, quickRetry(), zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Directory.Add(ctx, "like_1", "m1"))
	assert.True(t, srv.Exists("t:members:like_1"))
	assert.NoError(t, tr.Broker.Ping(ctx))
}

func TestOpenTransport_RedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := OpenTransport(context.Background(), config.Broker{Driver: "redis", RedisAddr: addr}, quickRetry(), zerolog.Nop())
	assert.ErrorContains(t, err, "connect redis")
}
