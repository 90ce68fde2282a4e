package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware provides HTTP telemetry middleware.
type HTTPMiddleware struct {
	telemetry *Telemetry
}

// NewHTTPMiddleware creates a new HTTP middleware for telemetry.
func NewHTTPMiddleware(telemetry *Telemetry) *HTTPMiddleware {
	return &HTTPMiddleware{
		telemetry: telemetry,
	}
}

// Middleware records RED metrics and annotates the server span started by otelhttp.
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.telemetry == nil {
			next.ServeHTTP(w, r)

			return
		}

		ctx := r.Context()
		start := time.Now()

		m.telemetry.IncrementHTTPInFlight(ctx)
		defer m.telemetry.DecrementHTTPInFlight(ctx)

		rw := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		route := routePattern(r)

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rw.statusCode),
			attribute.Int64("http.response_size", rw.bytesWritten),
		)

		if rw.statusCode >= http.StatusBadRequest {
			span.SetAttributes(attribute.Bool("error", true))

			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(rw.statusCode))
			}
		}

		m.telemetry.RecordHTTPRequest(ctx, r.Method, route, getStatusClass(rw.statusCode), duration)
	})
}

// routePattern returns the matched chi route, which keeps the path label bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and bytes written.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)

	return n, err
}

// Flush lets streamed downloads reach the client while being measured.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// getStatusClass returns the status class (2xx, 3xx, 4xx, 5xx) for a given status code.
func getStatusClass(statusCode int) string {
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return "2xx"
	case statusCode >= http.StatusMultipleChoices && statusCode < http.StatusBadRequest:
		return "3xx"
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return "4xx"
	case statusCode >= http.StatusInternalServerError:
		return "5xx"
	default:
		return "unknown"
	}
}
