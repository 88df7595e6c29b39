// Package config provides environment-driven configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds service and engine configuration.
type Config struct {
	// Service identification
	ServiceName string
	Environment string
	Version     string

	// HTTP server
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxBodyBytes       int64

	// Logging
	LogLevel  string
	LogFormat string

	// Polygon store
	StoreBackend   string
	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKeyPrefix string

	// Store circuit breaker
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Telemetry
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSampleRate float64

	// Engine
	EngineWorkers       int
	EngineWrapLongitude bool
	EngineMaxVertices   int
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName:        serviceName,
		Environment:        getEnv("ENVIRONMENT", "development"),
		Version:            getEnv("VERSION", "0.0.1"),
		Port:               getEnvInt("PORT", 8080),
		ReadTimeout:        getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:        getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", "*"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "json")),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnvInt("REDIS_PORT", 6379),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisTLS:       getEnvBool("REDIS_TLS", false),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "geofence"),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		OTLPInsecure:    getEnvBool("OTLP_INSECURE", false),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 1.0),

		EngineWorkers:       getEnvInt("ENGINE_WORKERS", runtime.GOMAXPROCS(0)),
		EngineWrapLongitude: getEnvBool("ENGINE_WRAP_LONGITUDE", false),
		EngineMaxVertices:   getEnvInt("ENGINE_MAX_VERTICES", 10000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisHost == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis store"))
		}
		if c.RedisKeyPrefix == "" {
			errs = append(errs, errors.New("REDIS_KEY_PREFIX must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StoreRedis, c.StoreBackend))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst))
	}
	if c.MaxBodyBytes < 1024 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be at least 1024, got %d", c.MaxBodyBytes))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATE must be in [0, 1], got %v", c.TraceSampleRate))
	}
	if c.EngineWorkers < 1 {
		errs = append(errs, fmt.Errorf("ENGINE_WORKERS must be at least 1, got %d", c.EngineWorkers))
	}
	if c.EngineMaxVertices < 3 {
		errs = append(errs, fmt.Errorf("ENGINE_MAX_VERTICES must be at least 3, got %d", c.EngineMaxVertices))
	}

	return errors.Join(errs...)
}

// RedisAddr returns host:port for the Redis store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// envOr parses the variable key with parse. Unset, empty and unparsable
// values yield def.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envOr(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvInt(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

func getEnvBool(key string, def bool) bool {
	return envOr(key, def, strconv.ParseBool)
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	return envOr(key, def, time.ParseDuration)
}

func getEnvFloat(key string, def float64) float64 {
	return envOr(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// getEnvSlice splits a comma separated variable, dropping blank items. The
// default is split the same way.
func getEnvSlice(key, def string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
