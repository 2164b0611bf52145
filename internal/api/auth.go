package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"rentmarket/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadItems         = "read:items"
	permWriteItems        = "write:items"
	permReadReservations  = "read:reservations"
	permWriteReservations = "write:reservations"
	permReadPayments      = "read:payments"
	permWritePayments     = "write:payments"
	permReadReviews       = "read:reviews"
	permWriteReviews      = "write:reviews"
	permReadIncidents     = "read:incidents"
	permWriteIncidents    = "write:incidents"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// keyAuth checks the API key pair and the per-client token bucket. Both the
// HTTP and the gRPC surface go through it.
type keyAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func newKeyAuth(cfg config.APIConfig) *keyAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &keyAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *keyAuth) headerNames() (apiKey, extra string) {
	apiKey = strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if apiKey == "" {
		apiKey = apiKeyHeaderDefault
	}
	extra = strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderExtra))
	if extra == "" {
		extra = apiExtraHeaderDefault
	}
	return apiKey, extra
}

func (a *keyAuth) authenticate(get func(string) string) (config.APIClientKey, error) {
	keyHeader, extraHeader := a.headerNames()
	apiKey := strings.TrimSpace(get(keyHeader))
	extra := strings.TrimSpace(get(extraHeader))
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

// permitted treats an empty permission list as allow-all.
func permitted(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

type apiClientKey struct{}

func withAPIClient(ctx context.Context, client config.APIClientKey) context.Context {
	return context.WithValue(ctx, apiClientKey{}, client)
}

// clientPermitted checks the client stored by the auth layer; requests that
// skipped key auth carry no client and pass.
func clientPermitted(ctx context.Context, required string) bool {
	client, ok := ctx.Value(apiClientKey{}).(config.APIClientKey)
	if !ok {
		return true
	}
	return permitted(client, required)
}

// AuthInterceptor guards the gRPC surface.
type AuthInterceptor struct {
	auth *keyAuth
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{auth: newKeyAuth(cfg)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.auth.cfg.Enabled {
			return handler(ctx, req)
		}

		if a.auth.cfg.Auth.Enabled {
			client, err := a.auth.authenticate(metadataGetter(ctx))
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			if !permitted(client, requiredPermission(info.FullMethod)) {
				return nil, status.Error(codes.PermissionDenied, errPermissionDenied.Error())
			}
			ctx = withAPIClient(ctx, client)
		}

		if !a.auth.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	keyHeader, _ := a.auth.headerNames()
	if apiKey := metadataGetter(ctx)(keyHeader); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func metadataGetter(ctx context.Context) func(string) string {
	md, _ := metadata.FromIncomingContext(ctx)
	return func(name string) string {
		return first(md.Get(name))
	}
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
// Route permissions are checked per handler against the stored client.
type HTTPAuth struct {
	auth *keyAuth
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{auth: newKeyAuth(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := a.auth.cfg
		if !cfg.Enabled || !cfg.HTTP.Enabled || r.URL.Path == healthPath || r.URL.Path == readyPath {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.Auth.Enabled {
			client, err := a.auth.authenticate(r.Header.Get)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			r = r.WithContext(withAPIClient(r.Context(), client))
		}

		if !a.auth.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	keyHeader, _ := a.auth.headerNames()
	if apiKey := strings.TrimSpace(r.Header.Get(keyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
