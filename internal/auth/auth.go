// Package auth resolves the principal behind a websocket handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Bamba9016/vente/internal/store"
)

// ErrUnauthenticated is returned when the request carries no valid
// credentials or names a user that does not exist.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultCookieName is where browsers carry the session token.
const DefaultCookieName = "token"

// UserLookup is the part of the store the resolver needs.
type UserLookup interface {
	UserByID(ctx context.Context, id int64) (store.User, error)
}

// Resolver maps ambient request credentials (bearer header, cookie or
// ?token= query parameter) to a user. Tokens are HS256 JWTs whose subject
// is the numeric user id.
type Resolver struct {
	secret []byte
	cookie string
	users  UserLookup
}

func NewResolver(secret, cookie string, users UserLookup) (*Resolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if cookie == "" {
		cookie = DefaultCookieName
	}
	return &Resolver{secret: []byte(secret), cookie: cookie, users: users}, nil
}

// Resolve returns the user behind r or ErrUnauthenticated. Store failures
// other than a missing user are returned as is.
func (v *Resolver) Resolve(r *http.Request) (store.User, error) {
	token := v.tokenFrom(r)
	if token == "" {
		return store.User{}, ErrUnauthenticated
	}

	userID, err := v.subject(token)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	u, err := v.users.UserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, userID)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return u, nil
}

func (v *Resolver) tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(v.cookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func (v *Resolver) subject(tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("token verification failed: %w", err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not a user id", claims.Subject)
	}
	return id, nil
}

// Mint signs a token for userID, valid for ttl. Used by the CLI and tests.
func (v *Resolver) Mint(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
