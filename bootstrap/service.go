// Package bootstrap wires the geofence service together from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cobrun/geofence/config"
	"github.com/cobrun/geofence/database"
	"github.com/cobrun/geofence/health"
	httpserver "github.com/cobrun/geofence/http"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/polygons"
	"github.com/cobrun/geofence/resilience"
	"github.com/cobrun/geofence/telemetry"
)

// Service holds all initialized components of the geofence service.
type Service struct {
	Config   *config.Config
	Logger   *logging.Logger
	Store    polygons.Store
	Polygons *polygons.Service
	Checker  *health.Checker
	Handler  http.Handler
	Server   *httpserver.Server

	closers []func(context.Context) error
}

// Initialize loads configuration from the environment and builds the service.
func Initialize(ctx context.Context, serviceName string) (*Service, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}).WithService(serviceName)
	return New(ctx, cfg, logger)
}

// New builds the service from cfg. Resources opened before a failure are
// released.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (svc *Service, err error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.InfoContext(ctx, "starting service",
		"environment", cfg.Environment,
		"version", cfg.Version,
		"store", cfg.StoreBackend,
	)

	tracer := telemetry.DefaultTracer()
	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracingProvider(ctx, telemetry.TracingConfig{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.Version,
			Environment:    cfg.Environment,
			Endpoint:       cfg.OTLPEndpoint,
			SampleRate:     cfg.TraceSampleRate,
			Insecure:       cfg.OTLPInsecure,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, tp.Shutdown)
		tracer = tp.Tracer()
	}

	mp, err := telemetry.NewMetricsProvider(ctx, telemetry.MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, mp.Shutdown)

	httpMetrics, err := telemetry.NewHTTPMetrics(mp.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create http metrics: %w", err)
	}
	validationMetrics, err := telemetry.NewValidationMetrics(mp.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create validation metrics: %w", err)
	}

	s.Checker = health.NewChecker(cfg.Version)

	if err := s.openStore(ctx, tracer, mp); err != nil {
		return nil, err
	}
	s.Checker.Register("store", health.StoreCheck(s.Store), health.Critical(), health.Timeout(2*time.Second))

	validator := polygons.NewValidator(polygons.ValidatorConfig{
		Options: polygons.Options{
			Workers:       cfg.EngineWorkers,
			WrapLongitude: cfg.EngineWrapLongitude,
			MaxVertices:   cfg.EngineMaxVertices,
		},
		Logger:  logger,
		Metrics: validationMetrics,
		Tracer:  tracer,
	})
	s.Polygons = polygons.NewService(polygons.ServiceConfig{
		Store:     s.Store,
		Validator: validator,
		Audit:     logging.NewAudit(logger, cfg.ServiceName, cfg.Environment),
		Logger:    logger,
	})

	var limiter *httpserver.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpserver.NewRateLimiter(httpserver.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			KeyFunc:           httpserver.IPKeyFunc,
			ExcludeFunc:       httpserver.ExcludeHealth,
			OnLimitExceeded: func(r *http.Request, key string) {
				logger.DebugContext(r.Context(), "rate limit exceeded", "client", key, "path", r.URL.Path)
			},
		})
	}

	s.Handler = httpserver.NewRouter(httpserver.RouterConfig{
		Handler:        httpserver.NewHandler(s.Polygons, logger),
		Checker:        s.Checker,
		Logger:         logger,
		Tracer:         tracer,
		Metrics:        httpMetrics,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.WriteTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	s.Server = httpserver.NewServer(httpserver.ServerConfigFrom(cfg), s.Handler, logger)

	return s, nil
}

func (s *Service) openStore(ctx context.Context, tracer trace.Tracer, mp *telemetry.MetricsProvider) error {
	cfg := s.Config
	if cfg.StoreBackend != config.StoreRedis {
		s.Store = polygons.NewMemoryStore()
		return nil
	}

	client, err := database.NewRedisClient(ctx, database.RedisConfigFrom(cfg), database.ConnectRetryConfig(), s.Logger)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error { return client.Close() })
	s.Logger.InfoContext(ctx, "connected to redis", "addr", cfg.RedisAddr())

	storeMetrics, err := telemetry.NewStoreMetrics(mp.Meter(), "redis")
	if err != nil {
		return fmt.Errorf("failed to create store metrics: %w", err)
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig("redis")
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
	breakerCfg.Timeout = cfg.BreakerOpenTimeout
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		s.Logger.Warn("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg)

	s.Store = database.NewRedisStore(client.Client(), database.RedisStoreConfig{
		KeyPrefix: cfg.RedisKeyPrefix,
		Retry:     database.DefaultRetryConfig(),
		Breaker:   breaker,
		Tracer:    tracer,
		Metrics:   storeMetrics,
		Logger:    s.Logger,
	})
	s.Checker.Register("store_circuit", BreakerCheck(breaker))
	return nil
}

// BreakerCheck reports an open circuit as unhealthy.
func BreakerCheck(cb *resilience.CircuitBreaker) health.CheckFunc {
	return func(ctx context.Context) error {
		snap := cb.Snapshot()
		if snap.State == resilience.StateOpen.String() {
			return &health.CheckError{
				Component: snap.Name,
				Message:   fmt.Sprintf("circuit open since %s", snap.OpenedAt.Format(time.RFC3339)),
			}
		}
		return nil
	}
}

// Run serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.Server.Run(ctx)
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
