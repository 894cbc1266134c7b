// metrics.go — Prometheus HTTP метрики Space Manager.
// Регистрирует метрики: sm_http_requests_total, sm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Space Manager",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Space Manager в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификаторы в пути на шаблоны
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/spaces/42/files → /api/v1/spaces/{id}/files
// /api/v1/transfers/0000A1/finished → /api/v1/transfers/{namespaceId}/finished
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	// ["", "api", "v1", <ресурс>, <id>, ...]
	if len(segments) < 5 || segments[1] != "api" || segments[2] != "v1" {
		return path
	}

	switch segments[3] {
	case "spaces":
		if segments[4] != "metadata" {
			segments[4] = "{id}"
		}
	case "files":
		segments[4] = "{id}"
	case "transfers":
		segments[4] = "{namespaceId}"
	case "link-groups":
		if isNumeric(segments[4]) {
			segments[4] = "{id}"
		} else {
			segments[4] = "{name}"
		}
	default:
		return path
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
