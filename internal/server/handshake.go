package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Bamba9016/vente/internal/auth"
	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/session"
	"github.com/Bamba9016/vente/internal/store"
)

// refusal ends a handshake before the upgrade.
type refusal struct {
	status int
	reason string
	err    error
}

func (r *refusal) Error() string {
	if r.err != nil {
		return r.reason + ": " + r.err.Error()
	}
	return r.reason
}

func (r *refusal) Unwrap() error { return r.err }

func refuse(status int, reason string, err error) *refusal {
	return &refusal{status: status, reason: reason, err: err}
}

// lookupFailed maps a store lookup error to a refusal.
func lookupFailed(what string, err error) *refusal {
	if errors.Is(err, store.ErrNotFound) {
		return refuse(http.StatusNotFound, what+" not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return refuse(http.StatusGatewayTimeout, "handshake timed out", err)
	}
	return refuse(http.StatusServiceUnavailable, "lookup failed", err)
}

// opener validates the route of one channel kind and builds its Channel.
// principal is nil when the request carried no credentials.
type opener func(ctx context.Context, r *http.Request, principal *store.User) (session.Channel, error)

// channel is the handshake shared by every websocket route: identify,
// validate, check entities, upgrade, then run the session until it ends.
func (s *Server) channel(name string, open opener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.Logger.With().Str("request_id", RequestIDFromContext(r.Context())).Logger()

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.HandshakeTimeout)
		defer cancel()

		ch, principal, err := s.prepare(ctx, r, open)
		if err != nil {
			var rf *refusal
			if !errors.As(err, &rf) {
				rf = refuse(http.StatusInternalServerError, "handshake failed", err)
			}
			s.Metrics.Handshakes.WithLabelValues(name, strconv.Itoa(rf.status)).Inc()
			logger.Debug().Err(rf.err).Str("channel", name).Int("status", rf.status).Msg(rf.reason)
			http.Error(w, rf.reason, rf.status)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already written the HTTP error
			s.Metrics.Handshakes.WithLabelValues(name, "upgrade_failed").Inc()
			logger.Debug().Err(err).Str("channel", name).Msg("upgrade failed")
			return
		}
		cancel()

		sess := session.New(conn, ch, principal, s.Hub, s.opts.Session, logger, s.Metrics)
		if !s.track(sess) {
			sess.Close()
			s.Metrics.Handshakes.WithLabelValues(name, "shutting_down").Inc()
			return
		}
		defer s.untrack(sess)

		s.Metrics.Handshakes.WithLabelValues(name, "ok").Inc()
		if err := sess.Run(s.ctx); err != nil {
			logger.Warn().Err(err).Msg("session ended")
		}
	}
}

func (s *Server) prepare(ctx context.Context, r *http.Request, open opener) (session.Channel, *store.User, error) {
	var principal *store.User
	u, err := s.Auth.Resolve(r.WithContext(ctx))
	switch {
	case err == nil:
		principal = &u
	case errors.Is(err, auth.ErrUnauthenticated):
	case errors.Is(err, context.DeadlineExceeded):
		return nil, nil, refuse(http.StatusGatewayTimeout, "handshake timed out", err)
	default:
		return nil, nil, refuse(http.StatusServiceUnavailable, "identification failed", err)
	}

	ch, err := open(ctx, r, principal)
	if err != nil {
		return nil, nil, err
	}
	return ch, principal, nil
}

func requireUser(principal *store.User) error {
	if principal == nil {
		return refuse(http.StatusUnauthorized, "authentication required", auth.ErrUnauthenticated)
	}
	return nil
}

func routeID(r *http.Request, key string) (int64, error) {
	id, err := group.ParseID(mux.Vars(r)[key])
	if err != nil {
		return 0, refuse(http.StatusBadRequest, "invalid "+key, err)
	}
	return id, nil
}

func (s *Server) openLike(ctx context.Context, r *http.Request, principal *store.User) (session.Channel, error) {
	if !s.opts.AnonymousWatch {
		if err := requireUser(principal); err != nil {
			return nil, err
		}
	}
	postID, err := routeID(r, "postId")
	if err != nil {
		return nil, err
	}
	post, err := s.Store.PostByID(ctx, postID)
	if err != nil {
		return nil, lookupFailed("publication", err)
	}
	return &session.LikeChannel{Post: post, Store: s.Store}, nil
}

func (s *Server) openChat(ctx context.Context, r *http.Request, principal *store.User) (session.Channel, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	otherID, err := routeID(r, "userId")
	if err != nil {
		return nil, err
	}
	if otherID == principal.ID {
		return nil, refuse(http.StatusBadRequest, "cannot chat with yourself", nil)
	}
	other, err := s.Store.UserByID(ctx, otherID)
	if err != nil {
		return nil, lookupFailed("user", err)
	}
	return &session.ChatChannel{Self: *principal, Other: other, Store: s.Store}, nil
}

func (s *Server) openComments(ctx context.Context, r *http.Request, principal *store.User) (session.Channel, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	postID, err := routeID(r, "postId")
	if err != nil {
		return nil, err
	}
	post, err := s.Store.PostByID(ctx, postID)
	if err != nil {
		return nil, lookupFailed("publication", err)
	}
	return &session.CommentChannel{Post: post, Self: *principal, Store: s.Store}, nil
}

func (s *Server) openNotifications(_ context.Context, _ *http.Request, principal *store.User) (session.Channel, error) {
	if err := requireUser(principal); err != nil {
		return nil, err
	}
	return &session.NotificationChannel{Self: *principal}, nil
}
