// Package validation checks request payloads with go-playground/validator
// and the geofence specific tags.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/cobrun/geofence/errors"
)

// MaxNameLength bounds polygon names.
const MaxNameLength = 255

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared validator. Field errors are reported under
// their JSON names.
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		for tag, fn := range customTags {
			_ = validate.RegisterValidation(tag, fn)
		}
	})
	return validate
}

var customTags = map[string]validator.Func{
	"longitude":     func(fl validator.FieldLevel) bool { return inRange(fl.Field().Float(), 180) },
	"latitude":      func(fl validator.FieldLevel) bool { return inRange(fl.Field().Float(), 90) },
	"geometry_text": validateGeometryText,
	"polygon_name":  validatePolygonName,
}

// messages are the field messages per failing tag.
var messages = map[string]string{
	"required":      "is required",
	"longitude":     "must be a longitude between -180 and 180",
	"latitude":      "must be a latitude between -90 and 90",
	"geometry_text": "must be WKT polygon text or a GeoJSON object",
	"polygon_name":  fmt.Sprintf("must be non-empty and at most %d characters", MaxNameLength),
	"min":           "must have at least %s elements",
}

func message(tag, param string) string {
	msg, ok := messages[tag]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, param)
	}
	return msg
}

func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

// wktPolygon matches POLYGON text with an optional SRID=n; or EPSG:n; prefix.
var wktPolygon = regexp.MustCompile(`(?is)^\s*((srid\s*=\s*\d+|epsg:\d+)\s*;)?\s*polygon\b`)

func validateGeometryText(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if strings.HasPrefix(s, "{") {
		return json.Valid([]byte(s))
	}
	return wktPolygon.MatchString(s)
}

func validatePolygonName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.TrimSpace(s) != "" && utf8.RuneCountInString(s) <= MaxNameLength
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors lists the rejected fields of a payload.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Details flattens the errors into an AppError details map.
func (fe FieldErrors) Details() map[string]string {
	details := make(map[string]string, len(fe))
	for _, e := range fe {
		details[e.Field] = e.Message
	}
	return details
}

// ParseFieldErrors converts validator errors. Other errors yield nil.
func ParseFieldErrors(err error) FieldErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, FieldError{Field: e.Field(), Message: message(e.Tag(), e.Param())})
	}
	return out
}

// ValidateStruct validates s and returns its field errors, or nil.
func ValidateStruct(s any) FieldErrors {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}
	if fe := ParseFieldErrors(err); len(fe) > 0 {
		return fe
	}
	return FieldErrors{{Field: "body", Message: err.Error()}}
}

// ValidateVar validates a single value against tag.
func ValidateVar(field any, tag string) error {
	return GetValidator().Var(field, tag)
}

// ValidateName checks a polygon name against the polygon_name rule.
func ValidateName(name string) error {
	if err := ValidateVar(name, "polygon_name"); err != nil {
		return apperrors.ValidationWithDetails("invalid polygon name", map[string]string{
			"name": message("polygon_name", ""),
		})
	}
	return nil
}

type point struct {
	Lng float64 `json:"lng" validate:"longitude"`
	Lat float64 `json:"lat" validate:"latitude"`
}

// ParsePoint reads the lng and lat query parameters. Missing, unparsable and
// out of range values are reported per parameter.
func ParsePoint(q url.Values) (lng, lat float64, err error) {
	details := map[string]string{}
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if lngErr != nil {
		details["lng"] = message("longitude", "")
	}
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	if latErr != nil {
		details["lat"] = message("latitude", "")
	}
	for field, msg := range ValidateStruct(point{Lng: lng, Lat: lat}).Details() {
		details[field] = msg
	}
	if len(details) > 0 {
		return 0, 0, apperrors.ValidationWithDetails("invalid query point", details)
	}
	return lng, lat, nil
}

// DecodeAndValidate decodes a JSON request body into dst and validates it.
// On failure it writes the error response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		apperrors.WriteErrorWithStatus(w, http.StatusUnsupportedMediaType,
			apperrors.CodeBadRequest, "Content-Type must be application/json")
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
				apperrors.CodeBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		apperrors.WriteError(w, apperrors.BadRequest("invalid JSON body"), "")
		return false
	}

	if fe := ValidateStruct(dst); fe != nil {
		apperrors.WriteError(w, apperrors.ValidationWithDetails("request validation failed", fe.Details()), "")
		return false
	}
	return true
}
