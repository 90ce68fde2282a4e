package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span and metric attributes must stay bounded. URLs, titles, file paths and
// error messages belong in logs (correlated through trace_id and request_id),
// never in attributes. Safe attributes are operation names ("extract",
// "download"), statuses ("success", "error"), engine names and media types.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentEngineOperation instruments media engine calls.
func (t *Telemetry) InstrumentEngineOperation(ctx context.Context, engine, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "engine_"+operation, "media_engine", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, "engine_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("engine.type", engine),
			attribute.String("engine.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordEngineOperation(ctx, engine, operation, statusOf(err))

	return err
}

// InstrumentDownload instruments a whole download request, engine run included.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	err := t.InstrumentOperation(ctx, "download", "downloader", fn)

	t.RecordDownload(ctx, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
