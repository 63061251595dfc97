package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"chansync/internal/config"
)

const (
	permSyncRead  = "sync:read"
	permSyncWrite = "sync:write"

	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

type clientContextKey struct{}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		clients: cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

// Middleware authenticates the caller, checks the route permission and
// applies the caller's rate limit.
func (a *HTTPAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			client, err := a.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error(), nil)
				return
			}
			if err := checkPermissions(client, r); err != nil {
				writeError(w, http.StatusForbidden, codeForbidden, err.Error(), nil)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), clientContextKey{}, client))
		}

		if a.limiter.enabled() {
			if ok, wait := a.limiter.allow(a.clientKey(r)); !ok {
				w.Header().Set("Retry-After", retryAfterSeconds(wait))
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded", nil)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) header() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.header()))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, nil
		}
	}
	return config.APIClientKey{}, errInvalidAPIKey
}

func checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" {
		return nil
	}
	// empty list means allow-all
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		return ""
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return permSyncRead
	}
	return permSyncWrite
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.header())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// clientFromContext returns the authenticated API client, if any.
func clientFromContext(ctx context.Context) (config.APIClientKey, bool) {
	c, ok := ctx.Value(clientContextKey{}).(config.APIClientKey)
	return c, ok
}
