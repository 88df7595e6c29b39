package polygons

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/geo"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/telemetry"
)

// CorpusEntry is one accepted polygon as supplied by the persistence layer.
type CorpusEntry struct {
	ID       string
	Name     string
	Geometry geo.Source
}

// Request is a single validation call. The corpus is read but never
// modified. Entries whose id equals ID or ExcludeID are not compared.
type Request struct {
	Name      string
	ID        string
	Source    geo.Source
	Corpus    []CorpusEntry
	ExcludeID string
}

// Options tune the engine.
type Options struct {
	// Workers bounds parallel corpus clipping. Zero means GOMAXPROCS.
	Workers int
	// WrapLongitude shifts longitudes above 180 by -360 before
	// normalization and flags the polygon as crossing the antimeridian.
	WrapLongitude bool
	// MaxVertices caps distinct candidate vertices. Zero means unlimited.
	MaxVertices int
}

// ValidatorConfig holds the validator's collaborators. Nil collaborators
// fall back to no-op implementations.
type ValidatorConfig struct {
	Options Options
	Logger  *logging.Logger
	Metrics *telemetry.ValidationMetrics
	Tracer  trace.Tracer
}

// Validator runs the validation state machine. It holds no per-call state
// and is safe for concurrent use.
type Validator struct {
	opts    Options
	logger  *logging.Logger
	metrics *telemetry.ValidationMetrics
	tracer  trace.Tracer
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.DefaultTracer()
	}
	return &Validator{
		opts:    cfg.Options,
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  tracer,
	}
}

// Validate decides whether the candidate in req is admissible.
//
// Rejections are reported in the Result, not as errors. The error return is
// reserved for cancellation of ctx and internal failures of the clipping
// engine, in which case no Result is produced.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "polygon.validate",
		trace.WithAttributes(
			attribute.String("polygon.name", req.Name),
			attribute.String("polygon.source", req.Source.Kind().String()),
			attribute.Int("polygon.corpus_size", len(req.Corpus)),
		),
	)
	defer span.End()

	logger := v.logger.WithPolygon(req.Name, req.ID)

	res, err := v.run(ctx, req, logger)
	if err != nil {
		telemetry.FailSpan(span, err)
		logger.WithError(err).ErrorContext(ctx, "polygon validation aborted")
		return nil, err
	}

	outcome := "valid"
	if !res.Valid {
		outcome = string(res.Reason)
	}
	span.SetAttributes(telemetry.OutcomeAttributes(outcome, res.Stage.String(), len(res.Intersections), len(res.Skipped))...)
	span.SetStatus(codes.Ok, "")

	v.metrics.RecordValidation(ctx, outcome, time.Since(start), len(req.Corpus), len(res.Intersections))
	v.metrics.RecordSkipped(ctx, len(res.Skipped))

	logger.InfoContext(ctx, "polygon validated",
		"outcome", outcome,
		"stage", res.Stage.String(),
		"conflicts", len(res.Intersections),
		"skipped", len(res.Skipped),
		"duration", time.Since(start),
	)
	return res, nil
}

func (v *Validator) run(ctx context.Context, req Request, logger *logging.Logger) (*Result, error) {
	// Received -> Decoded
	sctx, span := v.stage(ctx, StageDecoded)
	decoded, err := req.Source.Decode()
	if err != nil {
		span.End()
		return v.reject(sctx, logger, invalid(StageDecoded, asAppError(err, apperrors.CodeMalformedGeometry))), nil
	}
	span.SetAttributes(attribute.Int("geometry.srid", decoded.SRID))
	span.End()

	// Decoded -> Normalized
	sctx, span = v.stage(ctx, StageNormalized)
	polygon, err := v.normalize(req.ID, req.Name, decoded.Ring, v.opts.MaxVertices)
	if err != nil {
		span.End()
		return v.reject(sctx, logger, invalid(StageNormalized, asAppError(err, apperrors.CodeInvalidCoordinate))), nil
	}
	span.SetAttributes(telemetry.PolygonAttributes(req.Name, req.ID, len(polygon.Ring)-1)...)
	span.End()

	// Normalized -> SelfIntersectionChecked
	sctx, span = v.stage(ctx, StageSelfIntersectionChecked)
	kinks := geo.FindSelfIntersections(polygon.Ring)
	span.SetAttributes(attribute.Int("polygon.kinks", len(kinks)))
	span.End()
	if len(kinks) > 0 {
		res := invalid(StageSelfIntersectionChecked, apperrors.SelfIntersection(len(kinks)))
		res.Polygon = polygon
		res.Kinks = kinks
		return v.reject(sctx, logger, res), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// SelfIntersectionChecked -> CorpusChecked
	sctx, span = v.stage(ctx, StageCorpusChecked)
	defer span.End()

	members, positions, skipped := v.decodeCorpus(sctx, req, logger)
	records, err := geo.IntersectWithCorpus(sctx, polygon, members, geo.IntersectOptions{
		ExcludeID: req.ExcludeID,
		Workers:   v.opts.Workers,
		Skip: func(m int, err error) {
			member := members[m]
			appErr := asAppError(err, apperrors.CodeInternal)
			skipped = append(skipped, SkippedEntry{Index: positions[m], ID: member.ID, Name: member.Name, Err: appErr})
			logger.WarnContext(sctx, "skipping unclippable corpus polygon",
				"corpus_index", positions[m],
				"corpus_id", member.ID,
				"corpus_name", member.Name,
				"error", appErr.Error(),
			)
		},
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	sort.Slice(skipped, func(a, b int) bool { return skipped[a].Index < skipped[b].Index })
	for i := range records {
		records[i].Index = positions[records[i].Index]
	}
	span.SetAttributes(
		attribute.Int("corpus.members", len(members)),
		attribute.Int("corpus.skipped", len(skipped)),
		attribute.Int("corpus.conflicts", len(records)),
	)

	if len(records) > 0 {
		res := invalid(StageCorpusChecked, apperrors.CorpusOverlap(len(records)))
		res.Polygon = polygon
		res.Intersections = records
		res.Skipped = skipped
		return v.reject(sctx, logger, res), nil
	}

	// CorpusChecked -> Decided
	res := valid(polygon)
	res.Skipped = skipped
	return res, nil
}

// normalize applies optional longitude wrapping and builds the polygon.
func (v *Validator) normalize(id, name string, raw geo.Ring, maxVertices int) (*geo.Polygon, error) {
	coords := []geo.Coordinate(raw)
	wrapped := false
	if v.opts.WrapLongitude {
		coords, wrapped = geo.WrapLongitudes(coords)
	}

	ring, err := geo.NormalizeWithOptions(coords, geo.NormalizeOptions{MaxVertices: maxVertices})
	if err != nil {
		return nil, err
	}
	return &geo.Polygon{
		ID:                  id,
		Name:                name,
		Ring:                ring,
		CrossesAntimeridian: wrapped || geo.CrossesAntimeridian(ring),
	}, nil
}

// decodeCorpus resolves corpus entries to polygons. Excluded entries are
// dropped silently; undecodable ones are reported as skipped. positions maps
// each member back to its index in req.Corpus.
func (v *Validator) decodeCorpus(ctx context.Context, req Request, logger *logging.Logger) ([]*geo.Polygon, []int, []SkippedEntry) {
	members := make([]*geo.Polygon, 0, len(req.Corpus))
	positions := make([]int, 0, len(req.Corpus))
	var skipped []SkippedEntry

	for i, entry := range req.Corpus {
		if entry.ID != "" && (entry.ID == req.ExcludeID || entry.ID == req.ID) {
			continue
		}

		decoded, err := entry.Geometry.Decode()
		var member *geo.Polygon
		if err == nil {
			member, err = v.normalize(entry.ID, entry.Name, decoded.Ring, 0)
		}
		if err != nil {
			appErr := asAppError(err, apperrors.CodeMalformedGeometry)
			skipped = append(skipped, SkippedEntry{Index: i, ID: entry.ID, Name: entry.Name, Err: appErr})
			logger.WarnContext(ctx, "skipping undecodable corpus polygon",
				"corpus_index", i,
				"corpus_id", entry.ID,
				"corpus_name", entry.Name,
				"error", appErr.Error(),
			)
			continue
		}

		members = append(members, member)
		positions = append(positions, i)
	}
	return members, positions, skipped
}

func (v *Validator) stage(ctx context.Context, s Stage) (context.Context, trace.Span) {
	return v.tracer.Start(ctx, fmt.Sprintf("polygon.stage.%s", s))
}

func (v *Validator) reject(ctx context.Context, logger *logging.Logger, res *Result) *Result {
	logger.DebugContext(ctx, "polygon rejected",
		"stage", res.Stage.String(),
		"reason", string(res.Reason),
		"error", res.Err.Error(),
	)
	return res
}

// asAppError returns err as an AppError, wrapping foreign errors with code.
func asAppError(err error, code string) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(err, code, err.Error())
}
