// Package polygons sequences the geometry engine into accept/reject decisions
// and manages the accepted polygon records the decisions are made against.
package polygons

import (
	apperrors "github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/geo"
)

// Stage is a step of the validation state machine. Stages are entered
// strictly in order; a failure while entering a stage ends the run.
type Stage int

const (
	StageReceived Stage = iota
	StageDecoded
	StageNormalized
	StageSelfIntersectionChecked
	StageCorpusChecked
	StageDecided
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDecoded:
		return "decoded"
	case StageNormalized:
		return "normalized"
	case StageSelfIntersectionChecked:
		return "self_intersection_checked"
	case StageCorpusChecked:
		return "corpus_checked"
	case StageDecided:
		return "decided"
	}
	return "unknown"
}

// Reason is the typed cause of a rejection. Values equal the error codes of
// the matching AppError.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMalformedGeometry    Reason = apperrors.CodeMalformedGeometry
	ReasonInsufficientVertices Reason = apperrors.CodeInsufficientVertices
	ReasonInvalidCoordinate    Reason = apperrors.CodeInvalidCoordinate
	ReasonSelfIntersection     Reason = apperrors.CodeSelfIntersection
	ReasonCorpusOverlap        Reason = apperrors.CodeCorpusOverlap
)

// SkippedEntry is a corpus entry left out of the overlap check because its
// geometry could not be decoded, normalized or clipped against the candidate.
type SkippedEntry struct {
	Index int                 `json:"index"`
	ID    string              `json:"id,omitempty"`
	Name  string              `json:"name"`
	Err   *apperrors.AppError `json:"error"`
}

// Result is the outcome of one validation.
//
// Valid results carry the normalized Polygon with its antimeridian flag.
// Invalid results carry Reason, the Stage that failed and the AppError
// describing it; Polygon is also set when the failure came after
// normalization. Kinks are set for self-intersections and Intersections,
// in corpus order, for overlaps.
type Result struct {
	Valid         bool                     `json:"is_valid"`
	Stage         Stage                    `json:"-"`
	Reason        Reason                   `json:"reason,omitempty"`
	Err           *apperrors.AppError      `json:"-"`
	Polygon       *geo.Polygon             `json:"polygon,omitempty"`
	Kinks         []geo.Kink               `json:"kinks,omitempty"`
	Intersections []geo.IntersectionRecord `json:"intersections,omitempty"`
	Skipped       []SkippedEntry           `json:"skipped,omitempty"`
}

// AsError returns the rejection as an error, or nil for a valid result.
func (r *Result) AsError() error {
	if r == nil || r.Valid || r.Err == nil {
		return nil
	}
	return r.Err
}

// Message returns the human readable rejection message.
func (r *Result) Message() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Message
}

func valid(p *geo.Polygon) *Result {
	return &Result{Valid: true, Stage: StageDecided, Polygon: p}
}

func invalid(stage Stage, err *apperrors.AppError) *Result {
	return &Result{Stage: stage, Reason: Reason(err.Code), Err: err}
}
