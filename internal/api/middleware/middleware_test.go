package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/spaces", "/api/v1/spaces"},
		{"/api/v1/spaces/42", "/api/v1/spaces/{id}"},
		{"/api/v1/spaces/42/files", "/api/v1/spaces/{id}/files"},
		{"/api/v1/spaces/42/release", "/api/v1/spaces/{id}/release"},
		{"/api/v1/spaces/metadata", "/api/v1/spaces/metadata"},
		{"/api/v1/files/7", "/api/v1/files/{id}"},
		{"/api/v1/transfers/0000A1/finished", "/api/v1/transfers/{namespaceId}/finished"},
		{"/api/v1/link-groups/3", "/api/v1/link-groups/{id}"},
		{"/api/v1/link-groups/atlas-disk", "/api/v1/link-groups/{name}"},
		{"/api/v1/unknown/1", "/api/v1/unknown/1"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("сгенерированный id = %q, заголовок = %q", seen, rec.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-1" {
		t.Errorf("входящий id не сохранён: %q", seen)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("conflict"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/spaces", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=409", "bytes=8", "path=/api/v1/spaces"} {
		if !strings.Contains(out, want) {
			t.Errorf("в логе нет %q: %s", want, out)
		}
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/spaces", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("статус = %d, ожидался 201", rec.Code)
	}
}
