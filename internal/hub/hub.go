// Package hub is the group registry and broadcast router.
//
// A Hub keeps the members of each group that are connected to this process
// and relays every message published to a group, by any process, to those
// members. Cross-process delivery goes through a broker.Broker; the hub
// subscribes to a group's topic when the group gains its first local member
// and unsubscribes when it loses the last one.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Bamba9016/vente/internal/broker"
	"github.com/Bamba9016/vente/internal/metrics"
)

// ErrMemberGone is returned by Member.Deliver when the connection behind the
// handle is already closed.
var ErrMemberGone = errors.New("hub: member gone")

// Member is a connection handle. Deliver must not block: a member that
// cannot accept the payload right away returns an error and the hub moves on.
type Member interface {
	ID() string
	Deliver(kind string, payload []byte) error
}

// Envelope is what travels on the broker.
type Envelope struct {
	Kind    string          `json:"kind"`
	Group   string          `json:"group"`
	Origin  string          `json:"origin"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// Hub is safe for concurrent use.
type Hub struct {
	instance string
	broker   broker.Broker
	dir      broker.Directory
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	// joinMu serializes membership changes and the backend calls they make.
	// dispatch never takes it.
	joinMu sync.Mutex
	mu     sync.RWMutex
	groups map[string]map[string]Member
}

// New creates a hub. Run must be started for members to receive anything.
func New(b broker.Broker, dir broker.Directory, logger zerolog.Logger, m *metrics.Metrics) *Hub {
	id := uuid.NewString()
	return &Hub{
		instance: id,
		broker:   b,
		dir:      dir,
		logger:   logger.With().Str("component", "hub").Str("instance", id).Logger(),
		metrics:  m,
		groups:   make(map[string]map[string]Member),
	}
}

// Instance identifies this process on the broker.
func (h *Hub) Instance() string {
	return h.instance
}

// Join adds m to group. Joining twice is a no-op.
//
// Directory and broker calls run under joinMu, never under mu.
func (h *Hub) Join(ctx context.Context, group string, m Member) error {
	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	h.mu.RLock()
	members, subscribed := h.groups[group]
	_, dup := members[m.ID()]
	h.mu.RUnlock()
	if dup {
		return nil
	}

	if err := h.dir.Add(ctx, group, m.ID()); err != nil {
		return fmt.Errorf("join %s: %w", group, err)
	}
	if !subscribed {
		if err := h.broker.Subscribe(ctx, group); err != nil {
			if rmErr := h.dir.Remove(ctx, group, m.ID()); rmErr != nil {
				h.logger.Warn().Err(rmErr).Str("group", group).Msg("rollback directory entry")
			}
			return fmt.Errorf("join %s: %w", group, err)
		}
	}

	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]Member)
		h.groups[group] = members
		h.metrics.Groups.Inc()
	}
	members[m.ID()] = m
	n := len(members)
	h.mu.Unlock()

	h.logger.Debug().Str("group", group).Str("member", m.ID()).Int("local_members", n).Msg("joined")
	return nil
}

// Leave removes m from group. Leaving a group m is not in is a no-op. The
// local membership is always dropped; backend errors are returned after.
func (h *Hub) Leave(ctx context.Context, group string, m Member) error {
	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	h.mu.Lock()
	members, ok := h.groups[group]
	if ok {
		_, ok = members[m.ID()]
	}
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(members, m.ID())
	n := len(members)
	if n == 0 {
		delete(h.groups, group)
		h.metrics.Groups.Dec()
	}
	h.mu.Unlock()

	var errs []error
	if n == 0 {
		if err := h.broker.Unsubscribe(ctx, group); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.dir.Remove(ctx, group, m.ID()); err != nil {
		errs = append(errs, err)
	}

	h.logger.Debug().Str("group", group).Str("member", m.ID()).Int("local_members", n).Msg("left")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("leave %s: %w", group, err)
	}
	return nil
}

// MembersOf lists the IDs of every member of group across all processes.
func (h *Hub) MembersOf(ctx context.Context, group string) ([]string, error) {
	return h.dir.Members(ctx, group)
}

// LocalMembers returns the members of group connected to this process.
func (h *Hub) LocalMembers(group string) []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Member, 0, len(h.groups[group]))
	for _, m := range h.groups[group] {
		out = append(out, m)
	}
	return out
}

// Publish sends payload, tagged with kind, to every member of group. It
// returns once the broker accepted the message. Failures are not retried.
func (h *Hub) Publish(ctx context.Context, group, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	data, err := json.Marshal(Envelope{
		Kind:    kind,
		Group:   group,
		Origin:  h.instance,
		SentAt:  time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := h.broker.Publish(ctx, group, data); err != nil {
		return fmt.Errorf("publish %s to %s: %w", kind, group, err)
	}
	h.metrics.Published.WithLabelValues(kind).Inc()
	return nil
}

// Run delivers broker messages to local members until ctx is done or the
// broker closes.
func (h *Hub) Run(ctx context.Context) error {
	deliveries := h.broker.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			h.dispatch(d)
		}
	}
}

func (h *Hub) dispatch(d broker.Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil {
		h.logger.Warn().Err(err).Str("topic", d.Topic).Msg("dropping undecodable envelope")
		return
	}

	members := h.LocalMembers(d.Topic)
	failed := 0
	for _, m := range members {
		if err := m.Deliver(env.Kind, env.Payload); err != nil {
			failed++
			h.metrics.DeliveryFailures.Inc()
			h.logger.Debug().Err(err).Str("group", d.Topic).Str("member", m.ID()).Msg("delivery failed")
			continue
		}
		h.metrics.Delivered.Inc()
	}

	if failed > 0 {
		h.logger.Info().
			Str("group", d.Topic).
			Str("kind", env.Kind).
			Int("members", len(members)).
			Int("failed", failed).
			Msg("partial delivery")
	}
}

// Refresh re-registers every local member in the directory, renewing
// membership that would otherwise expire. Holding joinMu keeps a member that
// leaves meanwhile from being added back.
func (h *Hub) Refresh(ctx context.Context) error {
	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	h.mu.RLock()
	snapshot := make(map[string][]string, len(h.groups))
	for group, members := range h.groups {
		for id := range members {
			snapshot[group] = append(snapshot[group], id)
		}
	}
	h.mu.RUnlock()

	var errs []error
	for group, ids := range snapshot {
		for _, id := range ids {
			if err := h.dir.Add(ctx, group, id); err != nil {
				errs = append(errs, fmt.Errorf("refresh %s in %s: %w", id, group, err))
			}
		}
	}
	return errors.Join(errs...)
}

// KeepAlive calls Refresh every interval until ctx is done.
func (h *Hub) KeepAlive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Refresh(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("membership refresh failed")
			}
		}
	}
}

// Close removes every local member from every group, so the directory does
// not keep members of a stopped process.
func (h *Hub) Close(ctx context.Context) error {
	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	h.mu.Lock()
	groups := h.groups
	h.groups = make(map[string]map[string]Member)
	h.mu.Unlock()

	var errs []error
	for group, members := range groups {
		for id := range members {
			if err := h.dir.Remove(ctx, group, id); err != nil {
				errs = append(errs, err)
			}
		}
		if err := h.broker.Unsubscribe(ctx, group); err != nil {
			errs = append(errs, err)
		}
		h.metrics.Groups.Dec()
	}
	return errors.Join(errs...)
}
