package media

import "fmt"

// EngineError is a failure reported by the media engine: bad URL, unavailable
// format, network failure. Message is safe to show to the caller.
type EngineError struct {
	Op      string // "extract" or "download"
	Message string // Human-readable message from the engine
	Err     error  // Underlying error, if any
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
