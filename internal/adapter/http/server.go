package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/forecast"
	"github.com/couchcryptid/iso-visibility-service/internal/notify"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/httprate"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ForecastService answers visibility queries.
type ForecastService interface {
	GetForecast(ctx context.Context, req forecast.Request) (*forecast.Result, error)
}

// ObjectLister lists the objects forecasts can be requested for.
type ObjectLister interface {
	Objects(ctx context.Context) ([]domain.Object, error)
}

// NotificationPolicy decides and records notification sends.
type NotificationPolicy interface {
	CanSend(ctx context.Context, userID string, category notify.Category) (notify.Decision, error)
	RecordSend(ctx context.Context, userID string, category notify.Category) (int, error)
}

// PreferenceStore reads and writes notification preferences.
type PreferenceStore interface {
	Preferences(ctx context.Context, userID string) (notify.Preferences, error)
	UpsertPreferences(ctx context.Context, p notify.Preferences, now time.Time) error
}

// CacheAdmin clears forecast caches.
type CacheAdmin interface {
	ClearAll(ctx context.Context) (int, error)
	ClearStale(ctx context.Context) (int, error)
}

// Deps are the services behind the API routes.
type Deps struct {
	Forecasts          ForecastService
	Objects            ObjectLister
	Notifications      NotificationPolicy
	Preferences        PreferenceStore
	Cache              CacheAdmin
	Ready              sharedobs.ReadinessChecker
	Clock              clockwork.Clock
	RateLimitPerMinute int
}

// Server exposes the visibility API plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the API, /healthz, /readyz, and
// /metrics routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      requestID(accessLog(logger, mux)),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	limit := func(h http.HandlerFunc) http.Handler { return h }
	if deps.RateLimitPerMinute > 0 {
		limiter := httprate.LimitByIP(deps.RateLimitPerMinute, time.Minute)
		limit = func(h http.HandlerFunc) http.Handler { return limiter(h) }
	}

	mux.HandleFunc("GET /api/v1/objects", s.handleListObjects)
	mux.Handle("GET /api/v1/objects/{id}/visibility", limit(s.handleVisibility))

	mux.HandleFunc("GET /api/v1/users/{userID}/notification-preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/v1/users/{userID}/notification-preferences", s.handlePutPreferences)
	mux.HandleFunc("GET /api/v1/users/{userID}/notifications/{category}", s.handleCanSend)
	mux.HandleFunc("POST /api/v1/users/{userID}/notifications/{category}/sent", s.handleRecordSend)

	mux.HandleFunc("DELETE /api/v1/cache", s.handleClearCache)
	mux.HandleFunc("POST /api/v1/cache/sweep", s.handleSweepCache)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
