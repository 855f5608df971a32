// Package server is the session supervisor: it routes websocket handshakes,
// resolves the principal and the referenced entities, upgrades the
// connection and runs one session per client until shutdown.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Bamba9016/vente/internal/metrics"
	"github.com/Bamba9016/vente/internal/session"
	"github.com/Bamba9016/vente/internal/store"
)

// Identifier resolves the user behind a handshake request.
type Identifier interface {
	Resolve(r *http.Request) (store.User, error)
}

// Pinger is anything /readyz should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	HandshakeTimeout time.Duration
	// AllowedOrigins lists accepted Origin values. Empty allows same-host
	// origins only, "*" allows all.
	AllowedOrigins []string
	// AnonymousWatch lets clients without credentials watch like counters.
	AnonymousWatch bool
	Session        session.Config
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store    store.Store
	Hub      session.Broadcaster
	Broker   Pinger
	Auth     Identifier
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type Server struct {
	Deps
	opts     Options
	upgrader websocket.Upgrader
	router   *mux.Router

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
	wg       sync.WaitGroup
}

func New(deps Deps, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Deps:     deps,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session.Session]struct{}),
	}
	s.Logger = deps.Logger.With().Str("component", "server").Logger()
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      checkOrigin(opts.AllowedOrigins),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)

	handle := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodGet)
		r.HandleFunc(path+"/", h).Methods(http.MethodGet)
	}
	handle("/ws/likes/{postId}", s.channel("like", s.openLike))
	handle("/ws/chat/{userId}", s.channel("chat", s.openChat))
	handle("/ws/publication/{postId}/comments", s.channel("comments", s.openComments))
	handle("/ws/notifications", s.channel("notifications", s.openNotifications))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Handler serves websocket routes, health checks and metrics.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) track(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session with a going-away frame and waits for them
// to leave their groups, or for ctx to expire. New handshakes are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.sessions)
	s.cancel()
	s.mu.Unlock()
	s.Logger.Info().Int("sessions", n).Msg("closing sessions")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]Pinger{"store": s.Store, "broker": s.Broker}
	for name, p := range checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.Logger.Warn().Err(err).Str("check", name).Msg("not ready")
			http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
