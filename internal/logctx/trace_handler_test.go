package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{})))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON log output")

	return entry
}

// TestTraceHandler_NoSpanContext verifies that logs without span context
// do NOT include trace_id, span_id or request_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf).InfoContext(context.Background(), "test message", "key", "value")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestTraceHandler_WithSpanContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	var buf bytes.Buffer
	newTestLogger(&buf).InfoContext(ctx, "test message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

// TestTraceHandler_WithSDKSpan uses a real SDK tracer, which is what the service runs with.
func TestTraceHandler_WithSDKSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	newTestLogger(&buf).InfoContext(ctx, "inside span")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_WithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")

	var buf bytes.Buffer
	newTestLogger(&buf).InfoContext(ctx, "served")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
}

// TestTraceHandler_Enabled verifies that Enabled delegates to inner handler.
func TestTraceHandler_Enabled(t *testing.T) {
	traceHandler := NewTraceHandler(slog.NewJSONHandler(nil, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	assert.False(t, traceHandler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, traceHandler.Enabled(ctx, slog.LevelWarn))
	assert.True(t, traceHandler.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	traceHandler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	withAttrs := traceHandler.WithAttrs([]slog.Attr{slog.String("component", "tempfiles")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("file")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(context.Background(), "deleted", "path", "/tmp/x")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "tempfiles", entry["component"])
	assert.Equal(t, map[string]any{"path": "/tmp/x"}, entry["file"])
}

// TestTraceHandler_NilHandler verifies that NewTraceHandler panics with nil handler.
func TestTraceHandler_NilHandler(t *testing.T) {
	require.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}
