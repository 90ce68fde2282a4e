package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	status      int
	bytes       int64
	wroteHeader bool
}

// wrapResponseWriter creates a new responseWriter with status defaulted to 200 OK.
func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code and delegates to the underlying ResponseWriter.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return // Prevent multiple WriteHeader calls
	}

	rw.status = code
	rw.wroteHeader = true

	rw.ResponseWriter.WriteHeader(code)
}

// Write captures implicit 200 OK if WriteHeader was not called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)

	return n, err
}

// Flush delegates to the underlying writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPLogging middleware logs HTTP requests with appropriate level based on status code.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		status := wrapped.status

		// request_id is added by logctx.TraceHandler from the context.
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", wrapped.bytes,
			"duration_ms", duration.Milliseconds(),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}
