// Package auth authorizes admin requests against the external profile
// service. The caller's bearer token is forwarded unchanged; only a
// profile whose role matches the configured admin role may proceed.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/pkg/httpretry"
	"github.com/ignite/leadgen-site/internal/pkg/httputil"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
)

var (
	ErrMissingToken        = errors.New("missing bearer token")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrForbidden           = errors.New("admin role required")
	ErrUpstreamUnavailable = errors.New("profile service unavailable")
	ErrUpstreamTimeout     = errors.New("profile service timed out")
)

// HTTPStatus maps an auth error to its response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Profile is the subset of the profile service's user record we use.
type Profile struct {
	Role  string `json:"role"`
	Email string `json:"email"`
}

type profileResponse struct {
	User *Profile `json:"user"`
}

// ProfileLookup resolves a bearer token to a profile.
type ProfileLookup interface {
	Lookup(ctx context.Context, token string) (*Profile, error)
}

// ProfileClient calls the profile service with the caller's token.
type ProfileClient struct {
	url        string
	timeout    time.Duration
	maxRetries int
	base       http.RoundTripper
	cache      ProfileCache
	retryOpts  []httpretry.Option
}

// NewProfileClient builds a client for cfg.ProfileURL. cache may be nil. A
// nil base uses http.DefaultTransport.
func NewProfileClient(cfg config.AuthConfig, cache ProfileCache, base http.RoundTripper) *ProfileClient {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProfileClient{
		url:        cfg.ProfileURL,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		base:       base,
		cache:      cache,
	}
}

// Lookup returns the token's profile. The whole exchange, retries
// included, is bounded by the configured timeout.
func (c *ProfileClient) Lookup(ctx context.Context, token string) (*Profile, error) {
	if c.cache != nil {
		if p, ok := c.cache.Get(ctx, token); ok {
			return p, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := &http.Client{Transport: &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   c.base,
	}}
	doer := httpretry.NewRetryClient(client, c.maxRetries, c.retryOpts...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrUpstreamTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, ErrUpstreamTimeout
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("%w: malformed profile: %v", ErrUpstreamUnavailable, err)
	}
	if body.User == nil {
		return nil, ErrInvalidToken
	}

	if c.cache != nil {
		c.cache.Set(ctx, token, body.User)
	}
	return body.User, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

type ctxKey struct{}

// WithProfile stores p on ctx.
func WithProfile(ctx context.Context, p *Profile) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// ProfileFrom returns the authenticated profile, or nil.
func ProfileFrom(ctx context.Context) *Profile {
	p, _ := ctx.Value(ctxKey{}).(*Profile)
	return p
}

// RequireAdmin rejects requests whose token does not resolve to adminRole.
// The role must match exactly; "Admin" is not "admin".
// Nothing downstream runs, and the body is never read, on failure.
func RequireAdmin(lookup ProfileLookup, adminRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				httputil.Unauthorized(w, err.Error())
				return
			}

			profile, err := lookup.Lookup(r.Context(), token)
			if err != nil {
				status := HTTPStatus(err)
				if status >= 500 {
					logger.Warn("profile lookup failed", "error", err, "path", r.URL.Path)
				}
				httputil.Error(w, status, publicMessage(err))
				return
			}
			if profile.Role != adminRole {
				logger.Info("non-admin upload attempt", "email", profile.Email, "role", profile.Role)
				httputil.Forbidden(w, ErrForbidden.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

func publicMessage(err error) string {
	for _, known := range []error{ErrMissingToken, ErrInvalidToken, ErrForbidden, ErrUpstreamTimeout, ErrUpstreamUnavailable} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "authentication failed"
}
