package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/validation"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"generated when missing", "", false},
		{"token kept", "req-42_a.b", true},
		{"uuid kept", "0b6f2c1e-8a54-4bd5-9a8e-1d1f0c9a7e11", true},
		{"newline replaced", "abc\ninjected", false},
		{"spaces replaced", "not a token", false},
		{"overlong replaced", strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/polygons", nil)
			if tt.inbound != "" {
				req.Header.Set(HeaderRequestID, tt.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			assert.Equal(t, got, seen)
			if tt.keep {
				assert.Equal(t, tt.inbound, got)
			} else {
				assert.NotEqual(t, tt.inbound, got)
				assert.Regexp(t, requestIDPattern, got)
			}
		})
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}

func TestCORS(t *testing.T) {
	const editor = "https://editor.example.com"

	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		preflight   bool
		code        int
		allowOrigin string
		allowMethod bool
	}{
		{"no origin passes through", []string{editor}, http.MethodGet, "", false, http.StatusOK, "", false},
		{"allowed origin echoed", []string{editor}, http.MethodGet, editor, false, http.StatusOK, editor, false},
		{"wildcard", []string{"*"}, http.MethodGet, editor, false, http.StatusOK, "*", false},
		{"unknown origin gets no headers", []string{editor}, http.MethodGet, "https://evil.example.com", false, http.StatusOK, "", false},
		{"preflight", []string{editor}, http.MethodOptions, editor, true, http.StatusNoContent, editor, true},
		{"preflight from unknown origin", []string{editor}, http.MethodOptions, "https://evil.example.com", true, http.StatusForbidden, "", false},
		{"options without preflight header", []string{editor}, http.MethodOptions, editor, false, http.StatusOK, editor, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.allowed)(okHandler)

			req := httptest.NewRequest(tt.method, "/v1/validate", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.allowMethod {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderRequestID)
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
			}
			if tt.origin != "" {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		lines = append(lines, m)
	}
	return lines
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"success", "/v1/polygons", http.StatusCreated, "INFO"},
		{"client error", "/v1/polygons", http.StatusConflict, "WARN"},
		{"server error", "/v1/polygons", http.StatusServiceUnavailable, "ERROR"},
		{"health probe", "/health/live", http.StatusOK, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			logger := logging.NewLoggerWithWriter(buf, "debug")

			r := chi.NewRouter()
			r.Use(RequestID)
			r.Use(AccessLog(logger))
			r.Handle(tt.path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logging.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set(HeaderRequestID, "req-1")
			r.ServeHTTP(httptest.NewRecorder(), req)

			lines := logLines(t, buf)
			require.Len(t, lines, 2)
			assert.Equal(t, "req-1", lines[0]["request_id"], "handler logger carries the request id")

			access := lines[1]
			assert.Equal(t, "request completed", access["msg"])
			assert.Equal(t, tt.level, access["level"])
			assert.Equal(t, float64(tt.status), access["status"])
			assert.Equal(t, tt.path, access["route"])
			assert.Equal(t, "req-1", access["request_id"])
		})
	}
}

func TestAccessLog_ImplicitOK(t *testing.T) {
	buf := new(bytes.Buffer)
	h := AccessLog(logging.NewLoggerWithWriter(buf, "info"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/polygons", nil))

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(http.StatusOK), lines[0]["status"])
	assert.Equal(t, float64(2), lines[0]["bytes"])
}

func TestRecoverer(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := logging.NewLoggerWithWriter(buf, "info")
	h := RequestID(Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ring index out of range")
	})))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/validate", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "ring index")

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "panic recovered", lines[0]["msg"])
	assert.Equal(t, "ring index out of range", lines[0]["error"])
	assert.NotEmpty(t, lines[0]["request_id"])
}

func TestRecoverer_ReraisesAbort(t *testing.T) {
	h := Recoverer(logging.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMaxBodySize(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}
	h := MaxBodySize(32)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if validation.DecodeAndValidate(w, r, &p) {
			w.WriteHeader(http.StatusOK)
		}
	}))

	tests := []struct {
		name    string
		body    string
		chunked bool
		code    int
	}{
		{"fits", `{"name":"zone"}`, false, http.StatusOK},
		{"declared too large", `{"name":"` + strings.Repeat("z", 64) + `"}`, false, http.StatusRequestEntityTooLarge},
		{"streamed too large", `{"name":"` + strings.Repeat("z", 64) + `"}`, true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.chunked {
				body = io.MultiReader(body)
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/validate", body)
			req.Header.Set("Content-Type", "application/json")
			if tt.chunked {
				req.ContentLength = -1
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusRequestEntityTooLarge {
				assert.Contains(t, w.Body.String(), "32 bytes")
			}
		})
	}
}

func TestMaxBodySize_DefaultLimit(t *testing.T) {
	var limited bool
	h := MaxBodySize(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.Copy(io.Discard, r.Body)
		limited = err != nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, DefaultMaxBodyBytes+1)))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, limited)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Get("/v1/polygons/{id}", func(w http.ResponseWriter, r *http.Request) {
		pattern = RoutePattern(r)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/polygons/abc", nil))

	assert.Equal(t, "/v1/polygons/{id}", pattern)
	assert.Empty(t, RoutePattern(httptest.NewRequest(http.MethodGet, "/", nil)))
}
