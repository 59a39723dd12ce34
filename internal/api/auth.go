package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"tablesync/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permReadJobs        = "read:jobs"
	permWriteJobs       = "write:jobs"
	clientKeyUnknown    = "unknown"
	healthServicePrefix = "/grpc.health.v1.Health/"
)

type AuthInterceptor struct {
	cfg *config.APIConfig

	clientsByAPIKey map[string]config.APIClientKey
	limiter         *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	return &AuthInterceptor{
		cfg:             cfg,
		clientsByAPIKey: m,
		limiter:         newRateLimiter(cfg),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.cfg.Enabled || strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(ctx, info.FullMethod); err != nil {
				return nil, err
			}
		}
		if err := a.checkRateLimit(ctx); err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) headerName() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *AuthInterceptor) checkAuth(ctx context.Context, fullMethod string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	apiKey := first(md.Get(a.headerName()))
	if apiKey == "" {
		return status.Error(codes.Unauthenticated, "missing api key header")
	}

	client, ok := lookupClient(a.clientsByAPIKey, apiKey)
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}

	if err := checkPermissions(client, requiredPermission(fullMethod)); err != nil {
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return nil
}

// lookupClient finds the client owning apiKey, comparing in constant time.
func lookupClient(clients map[string]config.APIClientKey, apiKey string) (config.APIClientKey, bool) {
	for key, client := range clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, true
		}
	}
	return config.APIClientKey{}, false
}

// checkPermissions allows everything when the client lists no permissions.
func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// requiredPermission maps reflection to read access; other services need
// nothing extra beyond a valid key.
func requiredPermission(fullMethod string) string {
	if strings.HasPrefix(fullMethod, "/grpc.reflection.") {
		return permReadJobs
	}
	return ""
}

func (a *AuthInterceptor) checkRateLimit(ctx context.Context) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	if !a.limiter.getLimiter(a.clientKey(ctx)).Allow() {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}

		remote := clientKeyUnknown
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDMetadataKey = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
