// Package observe provides application-wide observability primitives for
// Kora: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kora metrics.
const meterName = "github.com/korahq/kora"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks end-to-end model call latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// IngestionUnitDuration tracks how long one unit of ingestion work takes.
	IngestionUnitDuration metric.Float64Histogram

	// --- Counters ---

	// DriverRequests counts model driver calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("model", ...), attribute.String("status", ...)
	DriverRequests metric.Int64Counter

	// DriverErrors counts classified driver failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	DriverErrors metric.Int64Counter

	// DocumentsIngested counts documents written to the content index. Use
	// with attribute: attribute.String("service", ...)
	DocumentsIngested metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveIngestions tracks the number of running ingestion workers.
	ActiveIngestions metric.Int64UpDownCounter

	// ProgressListeners tracks connected progress websocket clients.
	ProgressListeners metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// calls routinely run into tens of seconds, so the upper buckets are wide.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("kora.llm.duration",
		metric.WithDescription("End-to-end latency of model driver calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("kora.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestionUnitDuration, err = m.Float64Histogram("kora.ingestion.unit.duration",
		metric.WithDescription("Duration of one ingestion unit of work."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DriverRequests, err = m.Int64Counter("kora.driver.requests",
		metric.WithDescription("Total model driver requests by backend, model, and status."),
	); err != nil {
		return nil, err
	}
	if met.DriverErrors, err = m.Int64Counter("kora.driver.errors",
		metric.WithDescription("Total classified driver failures by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.DocumentsIngested, err = m.Int64Counter("kora.ingestion.documents",
		metric.WithDescription("Total documents written to the content index by service."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("kora.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveIngestions, err = m.Int64UpDownCounter("kora.active_ingestions",
		metric.WithDescription("Number of running ingestion workers."),
	); err != nil {
		return nil, err
	}
	if met.ProgressListeners, err = m.Int64UpDownCounter("kora.progress_listeners",
		metric.WithDescription("Number of connected progress websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kora.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDriverRequest records a driver request counter increment with the
// standard attribute set.
func (m *Metrics) RecordDriverRequest(ctx context.Context, backend, model, status string) {
	m.DriverRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}

// RecordDriverError records a classified driver failure.
func (m *Metrics) RecordDriverError(ctx context.Context, backend, kind string) {
	m.DriverErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordDocumentsIngested records documents written for a service.
func (m *Metrics) RecordDocumentsIngested(ctx context.Context, service string, count int64) {
	m.DocumentsIngested.Add(ctx, count,
		metric.WithAttributes(attribute.String("service", service)),
	)
}
