package http

import (
	"compress/flate"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/cobrun/geofence/health"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/telemetry"
)

// RouterConfig holds the collaborators of the HTTP router.
type RouterConfig struct {
	Handler        *Handler
	Checker        *health.Checker
	Logger         *logging.Logger
	Tracer         trace.Tracer
	Metrics        *telemetry.HTTPMetrics
	RateLimiter    *RateLimiter
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes   int64
}

// NewRouter builds the service router: health probes at /health and the
// polygon API under /v1.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.DefaultTracer()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger))
	r.Use(Recoverer(logger))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(cfg.MaxBodyBytes))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}
	r.Use(telemetry.TracingMiddleware(tracer, RoutePattern))
	if cfg.Metrics != nil {
		r.Use(telemetry.MetricsMiddleware(cfg.Metrics, RoutePattern))
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(flate.DefaultCompression, "application/json", "application/geo+json"))

	if cfg.Checker != nil {
		r.Get("/health", cfg.Checker.Ready())
		r.Get("/health/live", cfg.Checker.Live())
		r.Get("/health/ready", cfg.Checker.Ready())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			cfg.Handler.Routes(r)
		}
	})
	return r
}
