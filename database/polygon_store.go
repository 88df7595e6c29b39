package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/polygons"
	"github.com/cobrun/geofence/resilience"
	"github.com/cobrun/geofence/telemetry"
)

const storeBackend = "redis"

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string
	Retry     RetryConfig
	Breaker   *resilience.CircuitBreaker
	Tracer    trace.Tracer
	Metrics   *telemetry.StoreMetrics
	Logger    *logging.Logger
}

// RedisStore persists polygon records in Redis. Records live as JSON in a
// hash keyed by id; a sorted set scored by a sequence counter keeps
// insertion order.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	retry   RetryConfig
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	metrics *telemetry.StoreMetrics
	logger  *logging.Logger
}

// NewRedisStore creates a store on client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "geofence"
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(storeBackend))
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.DefaultTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &RedisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

func (s *RedisStore) recordsKey() string { return s.prefix + ":polygons" }
func (s *RedisStore) orderKey() string   { return s.prefix + ":polygons:order" }
func (s *RedisStore) seqKey() string     { return s.prefix + ":polygons:seq" }

// Breaker returns the circuit breaker guarding the store.
func (s *RedisStore) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// do runs one store operation behind the breaker, traced and timed.
// Idempotent operations are retried on transient errors.
func (s *RedisStore) do(ctx context.Context, operation, key string, idempotent bool, fn func(context.Context) error) error {
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return telemetry.WrapStoreOperation(ctx, s.tracer, storeBackend, operation, key, func(ctx context.Context) error {
			if !idempotent {
				return fn(ctx)
			}
			return Retry(ctx, s.retry, func() error { return fn(ctx) })
		})
	})
	s.metrics.RecordOperation(ctx, operation, time.Since(start), err)
	return s.translate(ctx, operation, err)
}

// translate maps backend errors onto application errors. Errors that already
// carry a code pass through.
func (s *RedisStore) translate(ctx context.Context, operation string, err error) error {
	if err == nil || apperrors.Code(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "polygon store "+operation+" timed out")
	}
	s.logger.ErrorContext(ctx, "polygon store operation failed",
		"operation", operation,
		"error", err.Error(),
	)
	return apperrors.Wrap(err, apperrors.CodeUnavailable, "polygon store is unavailable")
}

// List returns every record in insertion order. Entries whose JSON cannot be
// decoded are logged and left out.
func (s *RedisStore) List(ctx context.Context) ([]*polygons.Record, error) {
	var out []*polygons.Record
	err := s.do(ctx, "list", s.recordsKey(), true, func(ctx context.Context) error {
		ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
		if err != nil {
			return err
		}
		out = make([]*polygons.Record, 0, len(ids))
		if len(ids) == 0 {
			return nil
		}

		values, err := s.client.HMGet(ctx, s.recordsKey(), ids...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Order entry without a record: a concurrent delete.
				continue
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping unreadable polygon record",
					"polygon_id", ids[i],
					"error", err.Error(),
				)
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the record with id.
func (s *RedisStore) Get(ctx context.Context, id string) (*polygons.Record, error) {
	var rec *polygons.Record
	err := s.do(ctx, "get", id, true, func(ctx context.Context) error {
		raw, err := s.client.HGet(ctx, s.recordsKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			return apperrors.NotFound("polygon")
		}
		if err != nil {
			return err
		}
		rec, err = decodeRecord(raw)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "stored polygon record is unreadable")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put inserts or replaces rec. A replaced record keeps its position.
func (s *RedisStore) Put(ctx context.Context, rec *polygons.Record) error {
	if rec == nil || rec.ID == "" {
		return apperrors.BadRequest("polygon record needs an id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode polygon record")
	}

	return s.do(ctx, "put", rec.ID, true, func(ctx context.Context) error {
		seq, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.recordsKey(), rec.ID, payload)
			pipe.ZAddNX(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: rec.ID})
			return nil
		})
		return err
	})
}

// Delete removes the record with id. It is not retried: a retry after a lost
// reply would report NOT_FOUND for a delete that succeeded.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.do(ctx, "delete", id, false, func(ctx context.Context) error {
		var removed *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.HDel(ctx, s.recordsKey(), id)
			pipe.ZRem(ctx, s.orderKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		if removed.Val() == 0 {
			return apperrors.NotFound("polygon")
		}
		return nil
	})
}

// Ping checks that Redis answers. It bypasses the breaker so readiness
// reports the backend itself.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "polygon store is unavailable")
	}
	return nil
}

func decodeRecord(raw string) (*polygons.Record, error) {
	var rec polygons.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode polygon record: %w", err)
	}
	if rec.ID == "" {
		return nil, errors.New("decode polygon record: missing id")
	}
	return &rec, nil
}

var _ polygons.Store = (*RedisStore)(nil)
