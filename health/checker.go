// Package health reports whether the service can take validation traffic.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultTimeout bounds a check registered without Timeout.
const DefaultTimeout = 5 * time.Second

// CheckFunc probes one dependency. A nil error means it is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	critical bool
	timeout  time.Duration
}

// Option configures a registered check.
type Option func(*check)

// Critical marks a check whose failure makes the service unhealthy. Failing
// non-critical checks only degrade it.
func Critical() Option {
	return func(c *check) { c.critical = true }
}

// Timeout bounds a single run of the check.
func Timeout(d time.Duration) Option {
	return func(c *check) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Result is the outcome of one check.
type Result struct {
	Name       string  `json:"name"`
	Status     Status  `json:"status"`
	Critical   bool    `json:"critical"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Report aggregates all check results.
type Report struct {
	Status        Status   `json:"status"`
	Version       string   `json:"version,omitempty"`
	CheckedAt     string   `json:"checked_at"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Checks        []Result `json:"checks,omitempty"`
}

// Checker runs the registered checks.
type Checker struct {
	version string
	started time.Time
	now     func() time.Time

	mu     sync.RWMutex
	checks []check
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
}

// Register adds a check. Checks report in registration order.
func (c *Checker) Register(name string, fn CheckFunc, opts ...Option) {
	ch := check{name: name, fn: fn, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&ch)
	}

	c.mu.Lock()
	c.checks = append(c.checks, ch)
	c.mu.Unlock()
}

// Run executes every check concurrently, each under its own timeout.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, ch := range checks {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = ch.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	now := c.now()
	return Report{
		Status:        aggregate(results),
		Version:       c.version,
		CheckedAt:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(c.started).Seconds()),
		Checks:        results,
	}
}

func (ch check) run(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, ch.timeout)
	defer cancel()

	start := time.Now()
	err := ch.fn(ctx)
	res := Result{
		Name:       ch.name,
		Status:     StatusHealthy,
		Critical:   ch.critical,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	return res
}

func aggregate(results []Result) Status {
	status := StatusHealthy
	for _, r := range results {
		if r.Status == StatusHealthy {
			continue
		}
		if r.Critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

// Live answers liveness probes without running checks.
func (c *Checker) Live() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "alive",
			"uptime_seconds": int64(c.now().Sub(c.started).Seconds()),
		})
	}
}

// Ready runs the checks and answers 503 when a critical one fails. A
// degraded service still takes traffic.
func (c *Checker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Pinger is implemented by polygon stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck reports whether the polygon store answers.
func StoreCheck(store Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return &CheckError{Component: "store", Message: err.Error()}
		}
		return nil
	}
}

// CheckError is a failed check attributed to a component.
type CheckError struct {
	Component string
	Message   string
}

func (e *CheckError) Error() string {
	if e.Component == "" {
		return e.Message
	}
	return e.Component + ": " + e.Message
}
