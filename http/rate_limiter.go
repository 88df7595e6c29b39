package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cobrun/geofence/errors"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64
	// BurstSize is the bucket capacity.
	BurstSize int
	// KeyFunc extracts the rate limit key from the request.
	KeyFunc func(r *http.Request) string
	// ExcludeFunc exempts requests from limiting, e.g. health probes.
	ExcludeFunc func(r *http.Request) bool
	// OnLimitExceeded is called for each refused request.
	OnLimitExceeded func(r *http.Request, key string)
	// IdleTTL is how long an unused key's limiter is kept.
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig returns production defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		KeyFunc:           IPKeyFunc,
		IdleTTL:           10 * time.Minute,
	}
}

// IPKeyFunc keys on the client IP. It expects RealIP to have run, so
// RemoteAddr already reflects X-Forwarded-For / X-Real-IP.
func IPKeyFunc(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ExcludeHealth exempts the health endpoints.
func ExcludeHealth(r *http.Request) bool {
	return r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/health/")
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per key.
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
}

// NewRateLimiter creates a rate limiter. Zero fields take the defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.KeyFunc == nil {
		config.KeyFunc = defaults.KeyFunc
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	return &RateLimiter{
		config:   config,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastGC) >= rl.config.IdleTTL {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.config.IdleTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow reports whether r may proceed, consuming a token when it may.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	if rl.config.ExcludeFunc != nil && rl.config.ExcludeFunc(r) {
		return true
	}

	key := rl.config.KeyFunc(r)
	if rl.limiter(key).AllowN(rl.now(), 1) {
		return true
	}
	if rl.config.OnLimitExceeded != nil {
		rl.config.OnLimitExceeded(r, key)
	}
	return false
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Middleware refuses requests over the limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))

		if !rl.Allow(r) {
			retry := int(math.Ceil(1 / rl.config.RequestsPerSecond))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			Error(w, r, errors.RateLimited("too many requests"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
