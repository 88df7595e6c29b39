// Package testing provides helpers shared by the geofence test suites.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestContext creates a context with a timeout for testing.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// PolygonBody is the JSON body accepted by the validate and write endpoints.
// Exactly one geometry field is expected to be set.
type PolygonBody struct {
	Name        string          `json:"name,omitempty"`
	ID          string          `json:"id,omitempty"`
	WKT         string          `json:"wkt,omitempty"`
	Polygon     json.RawMessage `json:"polygon,omitempty"`
	Coordinates [][]float64     `json:"coordinates,omitempty"`
}

// Request builds an API request for a test.
type Request struct {
	method string
	path   string
	body   any
	header http.Header
}

// NewRequest starts a request for method and path.
func NewRequest(method, path string) *Request {
	return &Request{method: method, path: path, header: http.Header{}}
}

// ValidateRequest is a POST /v1/validate with body.
func ValidateRequest(body PolygonBody) *Request {
	return NewRequest(http.MethodPost, "/v1/validate").JSON(body)
}

// CreateRequest is a POST /v1/polygons with body.
func CreateRequest(body PolygonBody) *Request {
	return NewRequest(http.MethodPost, "/v1/polygons").JSON(body)
}

// JSON sets a body that is marshalled when the request is built.
func (r *Request) JSON(body any) *Request {
	r.body = body
	return r
}

// Header sets a request header.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// Build returns the http.Request. A JSON body gets an application/json
// Content-Type unless one was set.
func (r *Request) Build(t *testing.T) *http.Request {
	t.Helper()
	var req *http.Request
	if r.body == nil {
		req = httptest.NewRequest(r.method, r.path, nil)
	} else {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		req = httptest.NewRequest(r.method, r.path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range r.header {
		req.Header[key] = values
	}
	return req
}

// Response is a recorded response with assertion helpers.
type Response struct {
	*httptest.ResponseRecorder
	t *testing.T
}

// Do serves req on h and records the response.
func Do(t *testing.T, h http.Handler, req *Request) *Response {
	t.Helper()
	resp := &Response{ResponseRecorder: httptest.NewRecorder(), t: t}
	h.ServeHTTP(resp, req.Build(t))
	return resp
}

// Status asserts the status code.
func (r *Response) Status(want int) *Response {
	r.t.Helper()
	if r.Code != want {
		r.t.Errorf("expected status %d, got %d: %s", want, r.Code, r.Body.String())
	}
	return r
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) *Response {
	r.t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		r.t.Fatalf("failed to decode JSON: %v: %s", err, r.Body.String())
	}
	return r
}

type conflictView struct {
	Name string `json:"name"`
}

type responseView struct {
	Valid         *bool          `json:"is_valid"`
	Reason        string         `json:"reason"`
	Intersections []conflictView `json:"intersections"`
	Error         *struct {
		Code  string `json:"code"`
		Extra struct {
			Intersections []conflictView `json:"intersections"`
		} `json:"extra"`
	} `json:"error"`
}

func (r *Response) view() responseView {
	r.t.Helper()
	var v responseView
	r.Decode(&v)
	return v
}

// ErrorCode asserts the error envelope carries code.
func (r *Response) ErrorCode(want string) *Response {
	r.t.Helper()
	v := r.view()
	switch {
	case v.Error == nil:
		r.t.Errorf("expected error code %s, got no error envelope: %s", want, r.Body.String())
	case v.Error.Code != want:
		r.t.Errorf("expected error code %s, got %s", want, v.Error.Code)
	}
	return r
}

// Verdict asserts is_valid and, for rejections, the reason of a validate
// response.
func (r *Response) Verdict(valid bool, reason string) *Response {
	r.t.Helper()
	v := r.view()
	if v.Valid == nil {
		r.t.Errorf("response has no is_valid: %s", r.Body.String())
		return r
	}
	if *v.Valid != valid || v.Reason != reason {
		r.t.Errorf("expected is_valid=%v reason=%q, got is_valid=%v reason=%q", valid, reason, *v.Valid, v.Reason)
	}
	return r
}

// Conflicts asserts the names of the conflicting polygons, in order, from
// either a validate response or a rejected write.
func (r *Response) Conflicts(names ...string) *Response {
	r.t.Helper()
	v := r.view()
	views := v.Intersections
	if v.Error != nil {
		views = v.Error.Extra.Intersections
	}
	got := make([]string, len(views))
	for i, c := range views {
		got[i] = c.Name
	}
	if len(got) != len(names) {
		r.t.Errorf("expected conflicts %v, got %v", names, got)
		return r
	}
	for i := range names {
		if got[i] != names[i] {
			r.t.Errorf("expected conflicts %v, got %v", names, got)
			break
		}
	}
	return r
}
