package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, b Broker, within time.Duration) (Delivery, bool) {
	t.Helper()
	select {
	case d, ok := <-b.Deliveries():
		return d, ok
	case <-time.After(within):
		return Delivery{}, false
	}
}

func TestMemoryBus_DeliversToSubscribedNodes(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a, b, c := bus.Node(), bus.Node(), bus.Node()
	t.Cleanup(func() { a.Close(); b.Close(); c.Close() })

	require.NoError(t, a.Subscribe(ctx, "like_1"))
	require.NoError(t, b.Subscribe(ctx, "like_1"))
	require.NoError(t, c.Subscribe(ctx, "like_2"))

	require.NoError(t, c.Publish(ctx, "like_1", []byte(`{"n":1}`)))

	for _, node := range []*MemoryBroker{a, b} {
		d, ok := receive(t, node, time.Second)
		require.True(t, ok)
		assert.Equal(t, "like_1", d.Topic)
		assert.JSONEq(t, `{"n":1}`, string(d.Data))
	}
	_, ok := receive(t, c, 20*time.Millisecond)
	assert.False(t, ok, "node subscribed to another topic must not receive")
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryBroker()
	t.Cleanup(func() { n.Close() })

	require.NoError(t, n.Subscribe(ctx, "chat_1_2", "like_3"))
	assert.Equal(t, []string{"chat_1_2", "like_3"}, n.Topics())

	require.NoError(t, n.Unsubscribe(ctx, "chat_1_2"))
	require.NoError(t, n.Publish(ctx, "chat_1_2", []byte("x")))
	_, ok := receive(t, n, 20*time.Millisecond)
	assert.False(t, ok)
}

func TestMemoryBroker_Close(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryBroker()
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.ErrorIs(t, n.Publish(ctx, "t", nil), ErrClosed)
	assert.ErrorIs(t, n.Ping(ctx), ErrClosed)
	_, ok := <-n.Deliveries()
	assert.False(t, ok)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()

	require.NoError(t, d.Add(ctx, "like_1", "b"))
	require.NoError(t, d.Add(ctx, "like_1", "a"))
	require.NoError(t, d.Add(ctx, "like_1", "a"))
	members, err := d.Members(ctx, "like_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, d.Remove(ctx, "like_1", "zzz"))
	require.NoError(t, d.Remove(ctx, "like_1", "a"))
	require.NoError(t, d.Remove(ctx, "like_1", "b"))
	members, err = d.Members(ctx, "like_1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	sub := NewRedisBroker(ctx, client, RedisOptions{}, zerolog.Nop())
	pub := NewRedisBroker(ctx, client, RedisOptions{}, zerolog.Nop())
	t.Cleanup(func() { sub.Close(); pub.Close() })

	require.NoError(t, sub.Ping(ctx))
	require.NoError(t, sub.Subscribe(ctx, "chat_3_9"))

	// SUBSCRIBE and PUBLISH travel on different connections, so publish until
	// the subscription is live.
	var got Delivery
	require.Eventually(t, func() bool {
		if err := pub.Publish(ctx, "chat_3_9", []byte(`{"content":"hi"}`)); err != nil {
			return false
		}
		d, ok := receive(t, sub, 50*time.Millisecond)
		got = d
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "chat_3_9", got.Topic)
	assert.JSONEq(t, `{"content":"hi"}`, string(got.Data))
}

func TestRedisBroker_PublishFailsWhenServerDown(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	b := NewRedisBroker(ctx, client, RedisOptions{Prefix: "test:"}, zerolog.Nop())
	t.Cleanup(func() { b.Close() })

	srv.Close()
	err := b.Publish(ctx, "like_1", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish like_1")
}

func TestRedisDirectory(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	d := NewRedisDirectory(client, RedisOptions{Prefix: "test:", MembershipTTL: time.Minute})

	require.NoError(t, d.Add(ctx, "publication_10", "m1"))
	require.NoError(t, d.Add(ctx, "publication_10", "m2"))
	require.NoError(t, d.Add(ctx, "publication_10", "m1"))

	members, err := d.Members(ctx, "publication_10")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)
	assert.True(t, srv.Exists("test:members:publication_10"))
	assert.Equal(t, time.Minute, srv.TTL("test:members:publication_10"))
	score, err := srv.ZScore("test:members:publication_10", "m1")
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Now().Add(time.Minute).UnixMilli()), score, float64(5*time.Second/time.Millisecond))

	require.NoError(t, d.Remove(ctx, "publication_10", "m1"))
	members, err = d.Members(ctx, "publication_10")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, members)
}

func TestRedisDirectory_UnrefreshedMemberExpires(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	d := NewRedisDirectory(client, RedisOptions{Prefix: "test:", MembershipTTL: time.Minute})
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	// another instance added this member, then crashed without leaving
	require.NoError(t, d.Add(ctx, "like_42", "crashed-member"))
	for elapsed := time.Duration(0); elapsed < 5*time.Minute; elapsed += 30 * time.Second {
		require.NoError(t, d.Add(ctx, "like_42", "live-member"))
		clock = clock.Add(30 * time.Second)
		srv.FastForward(30 * time.Second)
	}

	members, err := d.Members(ctx, "like_42")
	require.NoError(t, err)
	assert.Equal(t, []string{"live-member"}, members)

	// the key goes away once nobody refreshes it
	clock = clock.Add(2 * time.Minute)
	srv.FastForward(2 * time.Minute)
	assert.False(t, srv.Exists("test:members:like_42"))
	members, err = d.Members(ctx, "like_42")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisDirectory_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	d := NewRedisDirectory(client, RedisOptions{Prefix: "test:"})
	clock := time.Now()
	d.now = func() time.Time { return clock }

	require.NoError(t, d.Add(ctx, "chat_3_9", "m1"))
	clock = clock.Add(24 * time.Hour)
	members, err := d.Members(ctx, "chat_3_9")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
}
