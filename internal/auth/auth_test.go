package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamba9016/vente/internal/store"
)

const secret = "test-secret-32-bytes-long-xxxxx"

type users map[int64]store.User

func (u users) UserByID(_ context.Context, id int64) (store.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

type brokenUsers struct{}

func (brokenUsers) UserByID(context.Context, int64) (store.User, error) {
	return store.User{}, errors.New("db down")
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(secret, "", users{7: {ID: 7, Username: "yao"}})
	require.NoError(t, err)
	return r
}

func TestNewResolver_RequiresSecret(t *testing.T) {
	_, err := NewResolver("", "", users{})
	assert.Error(t, err)
}

func TestResolve_TokenSources(t *testing.T) {
	r := newResolver(t)
	token, err := r.Mint(7, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		apply func(*http.Request)
	}{
		{name: "bearer", apply: func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }},
		{name: "cookie", apply: func(req *http.Request) { req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token}) }},
		{name: "query", apply: func(req *http.Request) { req.URL.RawQuery = "token=" + token }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/chat/9", nil)
			tt.apply(req)
			u, err := r.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, int64(7), u.ID)
			assert.Equal(t, "yao", u.Username)
		})
	}
}

func TestResolve_Failures(t *testing.T) {
	r := newResolver(t)

	expired, err := r.Mint(7, -time.Minute)
	require.NoError(t, err)
	unknown, err := r.Mint(99, time.Hour)
	require.NoError(t, err)
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "7"}).SignedString([]byte("another-secret"))
	require.NoError(t, err)
	notNumeric, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "yao"}).SignedString([]byte(secret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"none":        "",
		"garbage":     "not-a-jwt",
		"expired":     expired,
		"unknown":     unknown,
		"bad secret":  other,
		"non numeric": notNumeric,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			_, err := r.Resolve(req)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestResolve_StoreFailureIsNotUnauthenticated(t *testing.T) {
	r, err := NewResolver(secret, "session", brokenUsers{})
	require.NoError(t, err)
	token, err := r.Mint(7, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	_, err = r.Resolve(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}
