package broker

import (
	"context"
	"sort"
	"sync"
)

const memoryBufferSize = 1024

// Bus is an in-process stand-in for a shared pub/sub server. Every Node
// created from the same Bus sees the messages the others publish.
type Bus struct {
	mu    sync.RWMutex
	nodes map[*MemoryBroker]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{nodes: make(map[*MemoryBroker]struct{})}
}

// Node attaches a new broker to the bus.
func (b *Bus) Node() *MemoryBroker {
	n := &MemoryBroker{
		bus:    b,
		topics: make(map[string]struct{}),
		out:    make(chan Delivery, memoryBufferSize),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.nodes[n] = struct{}{}
	b.mu.Unlock()
	return n
}

func (b *Bus) targets(topic string) []*MemoryBroker {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*MemoryBroker
	for n := range b.nodes {
		if n.subscribed(topic) {
			out = append(out, n)
		}
	}
	return out
}

// MemoryBroker is one process attached to a Bus.
type MemoryBroker struct {
	bus *Bus

	topicsMu sync.RWMutex
	topics   map[string]struct{}

	sendMu sync.RWMutex
	closed bool
	out    chan Delivery
	done   chan struct{}
	once   sync.Once
}

// NewMemoryBroker returns a broker on a private bus, for single-instance
// deployments.
func NewMemoryBroker() *MemoryBroker {
	return NewBus().Node()
}

func (n *MemoryBroker) subscribed(topic string) bool {
	n.topicsMu.RLock()
	defer n.topicsMu.RUnlock()
	_, ok := n.topics[topic]
	return ok
}

// Publish delivers data to every node on the bus subscribed to topic.
// Targets are snapshotted before sending so a slow consumer never holds the
// bus lock.
func (n *MemoryBroker) Publish(ctx context.Context, topic string, data []byte) error {
	if n.isClosed() {
		return ErrClosed
	}
	payload := append([]byte(nil), data...)
	for _, target := range n.bus.targets(topic) {
		if err := target.deliver(ctx, Delivery{Topic: topic, Data: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (n *MemoryBroker) deliver(ctx context.Context, d Delivery) error {
	n.sendMu.RLock()
	defer n.sendMu.RUnlock()
	if n.closed {
		return nil
	}
	select {
	case n.out <- d:
		return nil
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *MemoryBroker) Subscribe(_ context.Context, topics ...string) error {
	if n.isClosed() {
		return ErrClosed
	}
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()
	for _, t := range topics {
		n.topics[t] = struct{}{}
	}
	return nil
}

func (n *MemoryBroker) Unsubscribe(_ context.Context, topics ...string) error {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()
	for _, t := range topics {
		delete(n.topics, t)
	}
	return nil
}

// Topics lists the topics this node is subscribed to, sorted.
func (n *MemoryBroker) Topics() []string {
	n.topicsMu.RLock()
	defer n.topicsMu.RUnlock()
	out := make([]string, 0, len(n.topics))
	for t := range n.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (n *MemoryBroker) Deliveries() <-chan Delivery {
	return n.out
}

func (n *MemoryBroker) Ping(context.Context) error {
	if n.isClosed() {
		return ErrClosed
	}
	return nil
}

func (n *MemoryBroker) isClosed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// Close detaches the node from the bus and closes its delivery channel.
func (n *MemoryBroker) Close() error {
	n.once.Do(func() {
		n.bus.mu.Lock()
		delete(n.bus.nodes, n)
		n.bus.mu.Unlock()

		close(n.done)
		n.sendMu.Lock()
		n.closed = true
		close(n.out)
		n.sendMu.Unlock()
	})
	return nil
}

// MemoryDirectory is a Directory shared by the nodes of one process or one
// test.
type MemoryDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{members: make(map[string]map[string]struct{})}
}

func (d *MemoryDirectory) Add(_ context.Context, topic, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[topic]
	if !ok {
		set = make(map[string]struct{})
		d.members[topic] = set
	}
	set[memberID] = struct{}{}
	return nil
}

func (d *MemoryDirectory) Remove(_ context.Context, topic, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[topic]
	if !ok {
		return nil
	}
	delete(set, memberID)
	if len(set) == 0 {
		delete(d.members, topic)
	}
	return nil
}

func (d *MemoryDirectory) Members(_ context.Context, topic string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.members[topic]))
	for id := range d.members[topic] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
