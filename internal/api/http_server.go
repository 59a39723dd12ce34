package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tablesync/internal/config"
	"tablesync/internal/domain"
	"tablesync/internal/metrics"
	"tablesync/internal/models"
	"tablesync/internal/scheduler"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Control is the scheduler manager surface exposed over HTTP.
type Control interface {
	Status() scheduler.Status
	Initialized() bool
	Reload(ctx context.Context) error
	Trigger(ctx context.Context, jobID string) error
	UpdateJob(ctx context.Context, jobID string) error
	RemoveJob(ctx context.Context, jobID string) error
}

type LogReader interface {
	GetLogs(ctx context.Context, jobID string, limit int) ([]*models.ExecutionLog, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP handlers. Statuses and DB are
// optional.
type Deps struct {
	Control  Control
	Jobs     domain.JobStore
	Logs     LogReader
	Statuses domain.StatusRepository
	DB       Pinger
}

// HTTPServer exposes the control API.
type HTTPServer struct {
	cfg    *config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{cfg: cfg, deps: deps, log: base}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)
	mux.HandleFunc("GET /api/v1/status", srv.handleStatus)
	mux.HandleFunc("POST /api/v1/reload", srv.handleReload)
	mux.HandleFunc("POST /api/v1/jobs/{id}/run", srv.handleRun)
	mux.HandleFunc("PUT /api/v1/jobs/{id}/schedule", srv.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}/schedule", srv.handleRemoveSchedule)
	mux.HandleFunc("GET /api/v1/jobs/{id}/logs", srv.handleLogs)
	mux.HandleFunc("GET /api/v1/jobs/{id}/status", srv.handleJobStatus)
	mux.HandleFunc("GET /api/v1/deadletters", srv.handleDeadLetters)

	handler := srv.loggingMiddleware(corsMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     *config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

var errPermissionDenied = errors.New("permission denied")

func (a *HTTPAuth) headerName() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return errors.New("missing api key header")
	}

	client, ok := lookupClient(a.clients, apiKey)
	if !ok {
		return errors.New("invalid api key")
	}
	return checkPermissions(client, requiredPermissionHTTP(r))
}

func requiredPermissionHTTP(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		return ""
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return permReadJobs
	}
	return permWriteJobs
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}
	if !a.limiter.getLimiter(a.clientKey(r)).Allow() {
		return errors.New("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDMetadataKey))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDMetadataKey, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
