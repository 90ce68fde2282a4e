package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	extractionsTotal      metric.Int64Counter
	downloadsTotal        metric.Int64Counter
	downloadsActive       metric.Int64UpDownCounter
	downloadDuration      metric.Float64Histogram
	engineOperationsTotal metric.Int64Counter
	engineErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram

	// Temporary file lifecycle
	tempfileDeletions metric.Int64Counter
	tempfilesTracked  metric.Int64UpDownCounter
	tempfilesPending  metric.Int64UpDownCounter

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, adds a periodic OTLP gRPC metric exporter next to Prometheus.
	OTLPEndpoint string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Go runtime metrics (memory, goroutines, GC) come from the contrib instrumentation.
	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("media_downloader")
	}

	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	if t == nil || t.meter == nil {
		return otel.Meter("media_downloader")
	}

	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(ctx, 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, -1)
	}
}

// RecordExtraction records a metadata extraction and the media type it resolved to.
func (t *Telemetry) RecordExtraction(ctx context.Context, status, mediaType string) {
	if t != nil && t.extractionsTotal != nil {
		t.extractionsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("status", status),
				attribute.String("media_type", mediaType),
			),
		)
	}
}

// RecordDownload records download metrics.
func (t *Telemetry) RecordDownload(ctx context.Context, status string, duration time.Duration) {
	if t == nil {
		return
	}

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// IncrementActiveDownloads increments active downloads counter.
func (t *Telemetry) IncrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
	}
}

// DecrementActiveDownloads decrements active downloads counter.
func (t *Telemetry) DecrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, -1)
	}
}

// RecordEngineOperation records media engine operation metrics.
func (t *Telemetry) RecordEngineOperation(ctx context.Context, engine, operation, status string) {
	if t == nil {
		return
	}

	if t.engineOperationsTotal != nil {
		t.engineOperationsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("engine", engine),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if status == "error" && t.engineErrors != nil {
		t.engineErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("engine", engine),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordTempFileDeletion records the outcome of a deletion attempt.
// trigger is "immediate", "sweep", "shutdown" or "reclaim"; result is "deleted", "exhausted" or "failed".
func (t *Telemetry) RecordTempFileDeletion(ctx context.Context, trigger, result string) {
	if t != nil && t.tempfileDeletions != nil {
		t.tempfileDeletions.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("trigger", trigger),
				attribute.String("result", result),
			),
		)
	}
}

// AddTrackedTempFiles moves the tracked files gauge by delta.
func (t *Telemetry) AddTrackedTempFiles(ctx context.Context, delta int64) {
	if t != nil && t.tempfilesTracked != nil {
		t.tempfilesTracked.Add(ctx, delta)
	}
}

// AddPendingTempFiles moves the pending-delete gauge by delta.
func (t *Telemetry) AddPendingTempFiles(ctx context.Context, delta int64) {
	if t != nil && t.tempfilesPending != nil {
		t.tempfilesPending.Add(ctx, delta)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	// The otel prometheus exporter registers with the default registry.
	return promhttp.Handler()
}

// Shutdown flushes and stops the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	if err := t.initializeLifecycleMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.extractionsTotal, err = t.meter.Int64Counter(
		"extractions_total",
		metric.WithDescription("Total number of metadata extractions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create extractions_total counter: %w", err)
	}

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of active downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.engineOperationsTotal, err = t.meter.Int64Counter(
		"engine_operations_total",
		metric.WithDescription("Total number of media engine operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine_operations_total counter: %w", err)
	}

	t.engineErrors, err = t.meter.Int64Counter(
		"engine_errors_total",
		metric.WithDescription("Total number of media engine errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeLifecycleMetrics() error {
	var err error

	t.tempfileDeletions, err = t.meter.Int64Counter(
		"tempfile_deletions_total",
		metric.WithDescription("Temporary file deletion attempts by trigger and result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tempfile_deletions_total counter: %w", err)
	}

	t.tempfilesTracked, err = t.meter.Int64UpDownCounter(
		"tempfiles_tracked",
		metric.WithDescription("Number of temporary files currently tracked"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tempfiles_tracked counter: %w", err)
	}

	t.tempfilesPending, err = t.meter.Int64UpDownCounter(
		"tempfiles_pending",
		metric.WithDescription("Number of temporary files deferred to shutdown cleanup"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tempfiles_pending counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.systemUptime != nil {
				t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
			}
		}
	}
}
