package rest

import (
	"net/http"
	"runtime/debug"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

// Recoverer turns a panic into the generic 500 JSON response. The cause is
// only logged.
func Recoverer(tel *telemetry.Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}

				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logctx.LoggerFromContext(r.Context()).Error("unhandled panic",
					"panic", rvr,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))

				tel.RecordSystemError(r.Context(), "http", "panic")

				writeError(w, r, http.StatusInternalServerError, unexpectedErrorMessage)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFound is the JSON handler for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not found")
}

// MethodNotAllowed is the JSON handler for known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// Health reports the service as up.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
