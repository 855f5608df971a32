package broker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultPrefix namespaces every key and channel the service touches.
	DefaultPrefix = "realtime:"

	redisChannelSize = 1024
)

// RedisOptions configures the Redis broker and directory.
type RedisOptions struct {
	Prefix        string
	MembershipTTL time.Duration
}

func (o RedisOptions) prefix() string {
	if o.Prefix == "" {
		return DefaultPrefix
	}
	return o.Prefix
}

// RedisBroker relays Redis pub/sub messages for the subscribed topics. One
// PubSub connection is shared by all topics of the process; topics are
// added and removed as groups gain their first or lose their last local
// member.
type RedisBroker struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	out     chan Delivery
	done    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

// NewRedisBroker starts relaying messages from client. The caller keeps
// ownership of client.
func NewRedisBroker(ctx context.Context, client *redis.Client, opts RedisOptions, logger zerolog.Logger) *RedisBroker {
	b := &RedisBroker{
		client:  client,
		pubsub:  client.Subscribe(ctx),
		channel: opts.prefix() + "group:",
		out:     make(chan Delivery, redisChannelSize),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "redis_broker").Logger(),
	}
	go b.relay()
	return b
}

func (b *RedisBroker) channelName(topic string) string {
	return b.channel + topic
}

func (b *RedisBroker) relay() {
	defer close(b.out)

	msgs := b.pubsub.Channel(redis.WithChannelSize(redisChannelSize))
	for msg := range msgs {
		topic := strings.TrimPrefix(msg.Channel, b.channel)
		select {
		case b.out <- Delivery{Topic: topic, Data: []byte(msg.Payload)}:
		case <-b.done:
			return
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, b.channelName(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, b.channelNames(topics)...); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.logger.Debug().Strs("topics", topics).Msg("subscribed")
	return nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, b.channelNames(topics)...); err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	b.logger.Debug().Strs("topics", topics).Msg("unsubscribed")
	return nil
}

func (b *RedisBroker) channelNames(topics []string) []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = b.channelName(t)
	}
	return names
}

func (b *RedisBroker) Deliveries() <-chan Delivery {
	return b.out
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close stops the relay. The Redis client itself is not closed.
func (b *RedisBroker) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
	})
	return err
}

// RedisDirectory keeps one sorted set per topic, each member scored by the
// time its entry expires. Add renews a single member, so members of an
// instance that died without leaving expire even while other instances keep
// refreshing theirs. The key itself expires a TTL after the last Add.
type RedisDirectory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisDirectory(client *redis.Client, opts RedisOptions) *RedisDirectory {
	return &RedisDirectory{
		client: client,
		prefix: opts.prefix() + "members:",
		ttl:    opts.MembershipTTL,
		now:    time.Now,
	}
}

func (d *RedisDirectory) key(topic string) string {
	return d.prefix + topic
}

func (d *RedisDirectory) expiry() float64 {
	if d.ttl <= 0 {
		return math.Inf(1)
	}
	return float64(d.now().Add(d.ttl).UnixMilli())
}

func (d *RedisDirectory) Add(ctx context.Context, topic, memberID string) error {
	pipe := d.client.TxPipeline()
	pipe.ZAdd(ctx, d.key(topic), redis.Z{Score: d.expiry(), Member: memberID})
	if d.ttl > 0 {
		pipe.Expire(ctx, d.key(topic), d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add member %s: %w", topic, err)
	}
	return nil
}

func (d *RedisDirectory) Remove(ctx context.Context, topic, memberID string) error {
	if err := d.client.ZRem(ctx, d.key(topic), memberID).Err(); err != nil {
		return fmt.Errorf("redis remove member %s: %w", topic, err)
	}
	return nil
}

// Members drops expired entries before listing the rest.
func (d *RedisDirectory) Members(ctx context.Context, topic string) ([]string, error) {
	now := strconv.FormatInt(d.now().UnixMilli(), 10)
	pipe := d.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, d.key(topic), "-inf", now)
	ids := pipe.ZRange(ctx, d.key(topic), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis members %s: %w", topic, err)
	}
	return ids.Val(), nil
}
