// Package session runs one websocket connection: it joins the connection's
// group, handles inbound frames strictly in arrival order, and pushes group
// broadcasts back to the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Bamba9016/vente/internal/hub"
	"github.com/Bamba9016/vente/internal/metrics"
	"github.com/Bamba9016/vente/internal/protocol"
	"github.com/Bamba9016/vente/internal/store"
)

// ErrSlowConsumer is returned by Deliver when the send buffer is full. The
// session is closed when it happens.
var ErrSlowConsumer = errors.New("session: send buffer full")

// State of a session.
type State int32

const (
	Connecting State = iota
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds per-connection limits and timeouts.
type Config struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	RatePerSecond   float64
	RateBurst       int
	HandleTimeout   time.Duration
	LeaveTimeout    time.Duration
}

// DefaultConfig mirrors the defaults of the config package.
func DefaultConfig() Config {
	return Config{
		SendBuffer:      256,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 64 * 1024,
		RatePerSecond:   10,
		RateBurst:       20,
		HandleTimeout:   5 * time.Second,
		LeaveTimeout:    5 * time.Second,
	}
}

// Broadcaster is the part of the hub a session uses.
type Broadcaster interface {
	Join(ctx context.Context, group string, m hub.Member) error
	Leave(ctx context.Context, group string, m hub.Member) error
	Publish(ctx context.Context, group, kind string, payload any) error
}

// Channel is the behaviour of one channel kind.
type Channel interface {
	// Name labels logs and metrics.
	Name() string
	// Group is computed from route parameters only.
	Group() string
	// OnJoin runs once after the session joined its group.
	OnJoin(ctx context.Context, s *Session)
	// Handle processes one inbound frame. A returned *Failure is reported
	// to the client; the session stays open.
	Handle(ctx context.Context, s *Session, data []byte) error
}

// Session is also the hub.Member of its connection.
type Session struct {
	id        string
	conn      *websocket.Conn
	channel   Channel
	principal *store.User
	hub       Broadcaster
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	limiter   *rate.Limiter

	state atomic.Int32
	group string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an upgraded connection. principal is nil for anonymous
// connections.
func New(conn *websocket.Conn, ch Channel, principal *store.User, b Broadcaster, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Session {
	id := uuid.NewString()
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	lc := logger.With().Str("session_id", id).Str("channel", ch.Name()).Str("group", ch.Group())
	if principal != nil {
		lc = lc.Int64("user_id", principal.ID)
	}
	s := &Session{
		id:        id,
		conn:      conn,
		channel:   ch,
		principal: principal,
		hub:       b,
		cfg:       cfg,
		logger:    lc.Logger(),
		metrics:   m,
		limiter:   rate.NewLimiter(limit, cfg.RateBurst),
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(Connecting))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Principal is nil for anonymous sessions.
func (s *Session) Principal() *store.User { return s.principal }

func (s *Session) Logger() *zerolog.Logger { return &s.logger }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run joins the group and serves the connection until the client goes away
// or ctx is cancelled. The group is left on the way out.
func (s *Session) Run(ctx context.Context) error {
	group := s.channel.Group()
	if err := s.hub.Join(ctx, group, s); err != nil {
		s.logger.Error().Err(err).Msg("join failed")
		s.closeWith(websocket.CloseTryAgainLater, "unable to join")
		return fmt.Errorf("join %s: %w", group, err)
	}
	s.group = group
	s.state.CompareAndSwap(int32(Connecting), int32(Joined))

	s.metrics.Connections.WithLabelValues(s.channel.Name()).Inc()
	defer s.metrics.Connections.WithLabelValues(s.channel.Name()).Dec()
	s.logger.Info().Msg("session joined")

	go s.writePump()
	go func() {
		select {
		case <-ctx.Done():
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
		case <-s.done:
		}
	}()

	s.channel.OnJoin(ctx, s)
	s.readPump(ctx)
	s.Close()

	leaveCtx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaveTimeout)
	defer cancel()
	if err := s.leave(leaveCtx); err != nil {
		s.logger.Warn().Err(err).Msg("leave failed")
	}
	s.logger.Info().Msg("session closed")
	return nil
}

func (s *Session) leave(ctx context.Context) error {
	if s.group == "" {
		return nil
	}
	return s.hub.Leave(ctx, s.group, s)
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) && s.State() != Closed {
				s.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg []byte) {
	name := s.channel.Name()
	if !s.limiter.Allow() {
		s.metrics.Inbound.WithLabelValues(name, metrics.ResultRateLimited).Inc()
		s.SendError("too many messages, slow down")
		return
	}

	start := time.Now()
	result := metrics.ResultOK
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("handler panic")
			result = metrics.ResultPersistError
			s.SendError("internal error")
		}
		s.metrics.Inbound.WithLabelValues(name, result).Inc()
		s.metrics.HandleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandleTimeout)
	defer cancel()

	err := s.channel.Handle(hctx, s, msg)
	if err == nil {
		return
	}

	var f *Failure
	if !errors.As(err, &f) {
		f = &Failure{Result: metrics.ResultPersistError, Message: "internal error", Err: err}
	}
	result = f.Result
	ev := s.logger.Warn()
	if f.Result == metrics.ResultMalformed || f.Result == metrics.ResultRejected {
		ev = s.logger.Debug()
	}
	ev.Err(f.Err).Str("result", f.Result).Msg(f.Message)
	s.SendError(f.Message)
}

// Publish broadcasts to a group through the hub.
func (s *Session) Publish(ctx context.Context, group, kind string, payload any) error {
	return s.hub.Publish(ctx, group, kind, payload)
}

// Deliver queues a broadcast for this connection without blocking.
func (s *Session) Deliver(_ string, payload []byte) error {
	if s.State() == Closed {
		return hub.ErrMemberGone
	}
	select {
	case <-s.done:
		return hub.ErrMemberGone
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		s.logger.Warn().Int("buffer", cap(s.send)).Msg("slow consumer, closing")
		s.abandon(websocket.ClosePolicyViolation, "too slow")
		return ErrSlowConsumer
	}
}

// SendError reports a failure to this client only.
func (s *Session) SendError(message string) {
	data, err := json.Marshal(protocol.ErrorFrame{Error: message})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn().Str("error", message).Msg("dropping error frame, send buffer full")
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close moves the session to Closed and closes the connection. Safe to call
// more than once and from any goroutine.
func (s *Session) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *Session) closeWith(code int, text string) {
	if s.markClosed() {
		s.closeConn(code, text)
	}
}

// abandon marks the session closed right away and sends the close frame from
// another goroutine. The writer may hold the connection for up to WriteWait,
// and Deliver runs on the hub's dispatch loop.
func (s *Session) abandon(code int, text string) {
	if s.markClosed() {
		go s.closeConn(code, text)
	}
}

func (s *Session) markClosed() bool {
	first := false
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		close(s.done)
		first = true
	})
	return first
}

func (s *Session) closeConn(code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = s.conn.Close()
}
