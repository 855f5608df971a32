// Package app opens the backends selected by the configuration.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Bamba9016/vente/internal/broker"
	"github.com/Bamba9016/vente/internal/config"
	"github.com/Bamba9016/vente/internal/retry"
	"github.com/Bamba9016/vente/internal/store"
)

// OpenStore opens the event store named by cfg.Driver. Postgres is retried
// with rc until reachable.
func OpenStore(ctx context.Context, cfg config.Store, rc retry.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DSN, rc, logger)
	case "bolt":
		return store.OpenBolt(cfg.BoltPath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Transport is the broker and directory pair of one process.
type Transport struct {
	Broker    broker.Broker
	Directory broker.Directory
	client    *redis.Client
}

// Close stops the broker, then the redis client if there is one.
func (t *Transport) Close() error {
	err := t.Broker.Close()
	if t.client != nil {
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// OpenTransport builds the fan-out transport named by cfg.Driver. The memory
// driver only reaches sessions of this process.
func OpenTransport(ctx context.Context, cfg config.Broker, rc retry.Config, logger zerolog.Logger) (*Transport, error) {
	switch cfg.Driver {
	case "memory":
		return &Transport{
			Broker:    broker.NewMemoryBroker(),
			Directory: broker.NewMemoryDirectory(),
		}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		err := retry.Connect(ctx, rc, "redis", logger, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		opts := broker.RedisOptions{Prefix: cfg.Prefix, MembershipTTL: cfg.MembershipTTL}
		return &Transport{
			Broker:    broker.NewRedisBroker(ctx, client, opts, logger),
			Directory: broker.NewRedisDirectory(client, opts),
			client:    client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
