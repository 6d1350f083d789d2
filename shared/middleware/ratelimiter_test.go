package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/middleware/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, user *domain.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/discussions/D1/replies", nil)
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserClaimsKey, user))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	byUser := func(r *http.Request) (string, error) { return GetUserIDFromContext(r) }

	t.Run("blocks request exceeding rate limit", func(t *testing.T) {
		rl := ratelimiter.New(1, 1, time.Minute)
		defer rl.Stop()
		handler := RateLimit(rl, byUser)(okHandler())
		user := &domain.User{Id: 1}

		assert.Equal(t, http.StatusOK, serve(handler, user).Code)
		w := serve(handler, user)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "Rate limit exceeded, try again later\n", w.Body.String())
	})

	t.Run("users are limited separately", func(t *testing.T) {
		rl := ratelimiter.New(1, 1, time.Minute)
		defer rl.Stop()
		handler := RateLimit(rl, byUser)(okHandler())

		assert.Equal(t, http.StatusOK, serve(handler, &domain.User{Id: 1}).Code)
		assert.Equal(t, http.StatusOK, serve(handler, &domain.User{Id: 2}).Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(handler, &domain.User{Id: 1}).Code)
	})

	t.Run("admin is never limited", func(t *testing.T) {
		rl := ratelimiter.New(1, 1, time.Minute)
		defer rl.Stop()
		handler := RateLimit(rl, byUser)(okHandler())
		admin := &domain.User{Id: 1, Admin: true}

		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusOK, serve(handler, admin).Code)
		}
	})

	t.Run("identity error is reported", func(t *testing.T) {
		rl := ratelimiter.New(1, 1, time.Minute)
		defer rl.Stop()
		handler := RateLimit(rl, func(r *http.Request) (string, error) { return "", errors.New("Test error") })(okHandler())

		assert.Equal(t, http.StatusInternalServerError, serve(handler, nil).Code)
	})

	t.Run("custom handler on limit", func(t *testing.T) {
		rl := ratelimiter.New(1, 1, time.Minute)
		defer rl.Stop()
		called := false
		handler := RateLimitWithHandler(rl, byUser, func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusServiceUnavailable)
		})(okHandler())
		user := &domain.User{Id: 1}

		serve(handler, user)
		require.False(t, called)
		assert.Equal(t, http.StatusServiceUnavailable, serve(handler, user).Code)
		assert.True(t, called)
	})
}

func TestGetUserIDFromContext(t *testing.T) {
	t.Run("returns user id when user exists in context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserClaimsKey, &domain.User{Id: 123}))

		userID, err := GetUserIDFromContext(req)
		assert.NoError(t, err)
		assert.Equal(t, "user_123", userID)
	})

	t.Run("returns error when user not in context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)

		userID, err := GetUserIDFromContext(req)
		assert.Error(t, err)
		assert.Empty(t, userID)
	})
}

func TestGetIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		spoof      bool
		want       string
		wantErr    bool
	}{
		{name: "ipv4 with port", remoteAddr: "192.168.1.100:54321", want: "192.168.1.100"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:8080", want: "2001:db8::1"},
		{name: "no port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarding headers ignored", remoteAddr: "203.0.113.50:12345", spoof: true, want: "203.0.113.50"},
		{name: "not an ip", remoteAddr: "not-an-ip:1234", wantErr: true},
		{name: "empty", remoteAddr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.spoof {
				req.Header.Set("X-Real-IP", "10.0.0.1")
				req.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.3")
			}

			ip, err := GetIP(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid IP address")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip)
		})
	}
}
