package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/pkg/httpretry"
)

// profileServer answers for token "admin-token" (role admin) and
// "user-token" (role user); anything else is a 401.
func profileServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		role := ""
		switch r.Header.Get("Authorization") {
		case "Bearer admin-token":
			role = "admin"
		case "Bearer user-token":
			role = "user"
		case "Bearer shouty-token":
			role = "ADMIN"
		case "Bearer title-token":
			role = "Admin"
		default:
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"role": role, "email": role + "@example.com"}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string, cache ProfileCache) *ProfileClient {
	c := NewProfileClient(config.AuthConfig{ProfileURL: url, TimeoutSeconds: 2, MaxRetries: 2}, cache, nil)
	c.retryOpts = []httpretry.Option{httpretry.WithBaseDelay(time.Millisecond), httpretry.WithMaxDelay(5 * time.Millisecond)}
	return c
}

func TestLookupForwardsBearer(t *testing.T) {
	srv := profileServer(t, nil)
	c := newTestClient(srv.URL, nil)

	p, err := c.Lookup(context.Background(), "admin-token")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Role)
	assert.Equal(t, "admin@example.com", p.Email)

	_, err = c.Lookup(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLookupUpstreamFailures(t *testing.T) {
	t.Run("5xx after retries", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, nil).Lookup(context.Background(), "admin-token")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c := newTestClient(srv.URL, nil)
		c.timeout = 50 * time.Millisecond
		_, err := c.Lookup(context.Background(), "admin-token")
		assert.ErrorIs(t, err, ErrUpstreamTimeout)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, nil).Lookup(context.Background(), "admin-token")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("no user", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, nil).Lookup(context.Background(), "admin-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrMissingToken, http.StatusUnauthorized},
		{ErrInvalidToken, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := BearerToken(r)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrMissingToken, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRequireAdmin(t *testing.T) {
	srv := profileServer(t, nil)
	mw := RequireAdmin(newTestClient(srv.URL, nil), "admin")

	var reached *Profile
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = ProfileFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer user-token", http.StatusForbidden},
		{"upper case role", "Bearer shouty-token", http.StatusForbidden},
		{"title case role", "Bearer title-token", http.StatusForbidden},
		{"admin", "Bearer admin-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = nil
			r := httptest.NewRequest(http.MethodPost, "/api/pricing/upload", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.NotNil(t, reached)
				assert.Equal(t, "admin", reached.Role)
				return
			}
			assert.Nil(t, reached)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRedisProfileCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var hits int32
	srv := profileServer(t, &hits)
	c := newTestClient(srv.URL, NewRedisProfileCache(rdb, time.Minute))

	for i := 0; i < 3; i++ {
		p, err := c.Lookup(context.Background(), "admin-token")
		require.NoError(t, err)
		assert.Equal(t, "admin", p.Role)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, mr.Exists(cacheKey("admin-token")))
	assert.NotContains(t, mr.Keys()[0], "admin-token")

	for i := 0; i < 2; i++ {
		_, err := c.Lookup(context.Background(), "bogus")
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "failures are not cached")

	mr.FastForward(2 * time.Minute)
	_, err := c.Lookup(context.Background(), "admin-token")
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}
