package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/geo"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/polygons"
	"github.com/cobrun/geofence/validation"
)

// Handler serves the polygon API.
type Handler struct {
	service *polygons.Service
	logger  *logging.Logger
}

// NewHandler creates a polygon API handler.
func NewHandler(service *polygons.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{service: service, logger: logger}
}

// Routes registers the polygon endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/validate", h.Validate)
	r.Route("/polygons", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/locate", h.Locate)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// polygonRequest carries a candidate in exactly one of three forms: a GeoJSON
// geometry (or geometry text given as a JSON string) in polygon, WKT/EWKT in
// wkt, or raw [lng, lat] pairs in coordinates.
type polygonRequest struct {
	Name        string          `json:"name" validate:"polygon_name"`
	ID          string          `json:"id,omitempty"`
	Polygon     json.RawMessage `json:"polygon,omitempty"`
	WKT         string          `json:"wkt,omitempty" validate:"omitempty,geometry_text"`
	Coordinates [][]float64     `json:"coordinates,omitempty" validate:"omitempty,dive,min=2"`
}

func (req *polygonRequest) source() (geo.Source, error) {
	var sources []geo.Source

	if raw := bytes.TrimSpace(req.Polygon); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] == '"' {
			var text string
			if err := json.Unmarshal(raw, &text); err != nil {
				return geo.Source{}, errors.BadRequest("polygon must be a GeoJSON object or geometry text")
			}
			sources = append(sources, geo.FromText(text))
		} else {
			sources = append(sources, geo.FromGeoJSON(raw))
		}
	}
	if req.WKT != "" {
		sources = append(sources, geo.FromText(req.WKT))
	}
	if req.Coordinates != nil {
		coords, err := geo.CoordinatesFromPairs(req.Coordinates)
		if err != nil {
			return geo.Source{}, err
		}
		sources = append(sources, geo.FromCoordinates(coords))
	}

	if len(sources) != 1 {
		return geo.Source{}, errors.BadRequest("exactly one of polygon, wkt or coordinates is required")
	}
	return sources[0], nil
}

type validationResponse struct {
	Valid               bool               `json:"is_valid"`
	Reason              string             `json:"reason,omitempty"`
	Message             string             `json:"message,omitempty"`
	Details             map[string]string  `json:"details,omitempty"`
	Polygon             json.RawMessage    `json:"polygon,omitempty"`
	CrossesAntimeridian bool               `json:"crosses_antimeridian"`
	Kinks               []geo.Kink         `json:"kinks,omitempty"`
	Intersections       []intersectionView `json:"intersections,omitempty"`
	Skipped             []skippedView      `json:"skipped,omitempty"`
}

type intersectionView struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name"`
	Area         float64         `json:"area"`
	Intersection json.RawMessage `json:"intersection"`
}

type skippedView struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newValidationResponse(res *polygons.Result) (*validationResponse, error) {
	resp := &validationResponse{
		Valid:  res.Valid,
		Reason: string(res.Reason),
		Kinks:  res.Kinks,
	}
	if res.Err != nil {
		resp.Message = res.Err.Message
		resp.Details = res.Err.Details
	}
	if res.Polygon != nil {
		data, err := geo.EncodeGeoJSON(res.Polygon.Ring)
		if err != nil {
			return nil, err
		}
		resp.Polygon = data
		resp.CrossesAntimeridian = res.Polygon.CrossesAntimeridian
	}

	views, err := intersectionViews(res.Intersections)
	if err != nil {
		return nil, err
	}
	resp.Intersections = views

	for _, s := range res.Skipped {
		view := skippedView{Index: s.Index, ID: s.ID, Name: s.Name}
		if s.Err != nil {
			view.Code = s.Err.Code
			view.Message = s.Err.Message
		}
		resp.Skipped = append(resp.Skipped, view)
	}
	return resp, nil
}

func intersectionViews(records []geo.IntersectionRecord) ([]intersectionView, error) {
	if len(records) == 0 {
		return nil, nil
	}
	views := make([]intersectionView, len(records))
	for i, rec := range records {
		data, err := geo.EncodeGeoJSON(rec.Rings...)
		if err != nil {
			return nil, err
		}
		views[i] = intersectionView{ID: rec.ID, Name: rec.Name, Area: rec.Area, Intersection: data}
	}
	return views, nil
}

// rejection builds the error.extra payload of a rejected write.
func rejection(res *polygons.Result) any {
	if res == nil || (len(res.Kinks) == 0 && len(res.Intersections) == 0) {
		return nil
	}
	extra := map[string]any{}
	if len(res.Kinks) > 0 {
		extra["kinks"] = res.Kinks
	}
	if views, err := intersectionViews(res.Intersections); err == nil && len(views) > 0 {
		extra["intersections"] = views
	}
	return extra
}

func feature(rec *polygons.Record) (*geojson.Feature, error) {
	ring, err := rec.Ring()
	if err != nil {
		return nil, err
	}
	return geo.EncodeFeature(rec.ID, ring, map[string]interface{}{
		"id":                   rec.ID,
		"name":                 rec.Name,
		"crosses_antimeridian": rec.CrossesAntimeridian,
	})
}

func (h *Handler) collection(r *http.Request, records []*polygons.Record) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(records))}
	for _, rec := range records {
		f, err := feature(rec)
		if err != nil {
			logging.FromContext(r.Context()).WithPolygon(rec.Name, rec.ID).WithError(err).
				WarnContext(r.Context(), "skipping undecodable stored polygon")
			continue
		}
		fc.Features = append(fc.Features, f)
	}
	return fc
}

// Validate checks a candidate against the stored polygons without saving it.
// Rejections are reported in the body with status 200.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}
	src, err := req.source()
	if err != nil {
		Error(w, r, err)
		return
	}

	res, err := h.service.Validate(r.Context(), req.Name, req.ID, src)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp, err := newValidationResponse(res)
	if err != nil {
		Error(w, r, err)
		return
	}
	OK(w, resp)
}

// Create validates and stores a new polygon.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}
	src, err := req.source()
	if err != nil {
		Error(w, r, err)
		return
	}

	rec, res, err := h.service.Create(r.Context(), req.Name, src)
	if err != nil {
		ErrorWithExtra(w, r, err, rejection(res))
		return
	}

	f, err := feature(rec)
	if err != nil {
		Error(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/polygons/"+rec.ID)
	GeoJSON(w, http.StatusCreated, f)
}

// Get returns one stored polygon as a GeoJSON Feature.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, r, err)
		return
	}

	f, err := feature(rec)
	if err != nil {
		Error(w, r, err)
		return
	}
	GeoJSON(w, http.StatusOK, f)
}

// List returns all stored polygons as a GeoJSON FeatureCollection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	GeoJSON(w, http.StatusOK, h.collection(r, records))
}

// Locate returns the stored polygons containing the lng/lat query point.
func (h *Handler) Locate(w http.ResponseWriter, r *http.Request) {
	lng, lat, err := validation.ParsePoint(r.URL.Query())
	if err != nil {
		Error(w, r, err)
		return
	}

	records, err := h.service.Locate(r.Context(), geo.C(lng, lat))
	if err != nil {
		Error(w, r, err)
		return
	}
	GeoJSON(w, http.StatusOK, h.collection(r, records))
}

// Update replaces a stored polygon.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}
	src, err := req.source()
	if err != nil {
		Error(w, r, err)
		return
	}

	rec, res, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.Name, src)
	if err != nil {
		ErrorWithExtra(w, r, err, rejection(res))
		return
	}

	f, err := feature(rec)
	if err != nil {
		Error(w, r, err)
		return
	}
	GeoJSON(w, http.StatusOK, f)
}

// Delete removes a stored polygon.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	NoContent(w)
}
