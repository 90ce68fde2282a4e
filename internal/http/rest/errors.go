package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/media"
)

const unexpectedErrorMessage = "An unexpected error occurred"

// RequestError is a malformed or incomplete request body.
type RequestError struct {
	Reason string // Human-readable explanation of what is wrong
	Err    error  // Underlying error, if any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type errorResponse struct {
	Error string `json:"error"`
}

// clientMessage returns the message to show for errors the caller caused,
// and false for internal failures.
func clientMessage(err error) (string, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Reason, true
	}

	var engineErr *media.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Message, true
	}

	if errors.Is(err, downloader.ErrNoOutput) {
		return downloader.ErrNoOutput.Error(), true
	}

	return "", false
}

// writeFailure maps err to a 400 with the caller facing message, or to an
// opaque 500. It reports whether the failure was internal.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) bool {
	if msg, ok := clientMessage(err); ok {
		writeError(w, r, http.StatusBadRequest, msg)

		return false
	}

	writeError(w, r, http.StatusInternalServerError, unexpectedErrorMessage)

	return true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
