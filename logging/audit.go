package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Action is a change to the stored corpus.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionRejected Action = "rejected"
)

// PolygonEvent describes one audited write. Reason, Stage and Conflicts are
// only set for rejections.
type PolygonEvent struct {
	Action              Action
	ID                  string
	Name                string
	CrossesAntimeridian bool
	Skipped             int
	Reason              string
	Stage               string
	Conflicts           []string
}

// Audit writes one "polygon audit" record per corpus write so that accepted
// and refused writes can be reconstructed from the logs alone.
type Audit struct {
	logger      *slog.Logger
	service     string
	environment string
	now         func() time.Time
	newID       func() string
}

// NewAudit writes audit records through logger. A nil logger falls back to
// slog.Default.
func NewAudit(logger *Logger, service, environment string) *Audit {
	base := slog.Default()
	if logger != nil {
		base = logger.Logger
	}
	return &Audit{
		logger:      base.With(slog.Bool("audit", true)),
		service:     service,
		environment: environment,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Record logs ev. Rejections log at warn.
func (a *Audit) Record(ctx context.Context, ev PolygonEvent) {
	level, outcome := slog.LevelInfo, "success"
	if ev.Action == ActionRejected {
		level, outcome = slog.LevelWarn, "failure"
	}

	polygon := []any{slog.String("name", ev.Name)}
	if ev.ID != "" {
		polygon = append(polygon, slog.String("id", ev.ID))
	}
	if ev.CrossesAntimeridian {
		polygon = append(polygon, slog.Bool("crosses_antimeridian", true))
	}

	attrs := []slog.Attr{
		slog.String("event_id", a.newID()),
		slog.String("action", string(ev.Action)),
		slog.String("outcome", outcome),
		slog.Time("at", a.now().UTC()),
		slog.Group("polygon", polygon...),
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason), slog.String("stage", ev.Stage))
	}
	if len(ev.Conflicts) > 0 {
		attrs = append(attrs, slog.Any("conflicts", ev.Conflicts))
	}
	if ev.Skipped > 0 {
		attrs = append(attrs, slog.Int("skipped", ev.Skipped))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	if a.service != "" {
		attrs = append(attrs, slog.String("service", a.service))
	}
	if a.environment != "" {
		attrs = append(attrs, slog.String("environment", a.environment))
	}

	a.logger.LogAttrs(ctx, level, "polygon audit", attrs...)
}
