// Package broker is the fan-out transport between server processes.
//
// A Broker moves opaque payloads between every process subscribed to a topic.
// A Directory tracks which connection handles are members of a topic across
// processes. Both come in an in-process flavour for single-instance
// deployments and tests, and a Redis flavour for multi-instance deployments.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker: closed")

// Delivery is one message received on a subscribed topic.
type Delivery struct {
	Topic string
	Data  []byte
}

// Broker publishes to topics and delivers messages for the topics this
// process is subscribed to.
type Broker interface {
	// Publish hands data to the transport. It does not wait for remote
	// subscribers to receive it.
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error
	// Deliveries is closed when the broker is closed.
	Deliveries() <-chan Delivery
	Ping(ctx context.Context) error
	Close() error
}

// Directory is the cross-process view of group membership.
type Directory interface {
	Add(ctx context.Context, topic, memberID string) error
	Remove(ctx context.Context, topic, memberID string) error
	Members(ctx context.Context, topic string) ([]string, error)
}
