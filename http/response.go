package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/telemetry"
)

// ContentTypeGeoJSON is the media type of GeoJSON documents.
const ContentTypeGeoJSON = "application/geo+json"

// JSON writes data as application/json.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, "application/json", status, data)
}

// GeoJSON writes a Feature or FeatureCollection.
func GeoJSON(w http.ResponseWriter, status int, data any) {
	write(w, ContentTypeGeoJSON, status, data)
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// write ignores encode failures: the status line is already out.
func write(w http.ResponseWriter, contentType string, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes err in the standard error envelope. Context cancellation is
// reported as a timeout; other foreign errors are logged and hidden behind an
// internal error.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ErrorWithExtra(w, r, err, nil)
}

// ErrorWithExtra is Error with a structured payload in error.extra.
func ErrorWithExtra(w http.ResponseWriter, r *http.Request, err error, extra any) {
	ctx := r.Context()
	switch {
	case errors.Code(err) != "":
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		err = errors.Wrap(err, errors.CodeTimeout, "request timed out")
	default:
		logging.FromContext(ctx).WithError(err).ErrorContext(ctx, "request failed")
		err = errors.InternalWrap(err, "An internal error occurred")
	}

	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		telemetry.SetSpanError(ctx, err)
	}
	errors.WriteErrorWithExtra(w, err, telemetry.TraceID(ctx), extra)
}
