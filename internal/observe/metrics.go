// Package observe provides application-wide observability primitives for
// the audiohook bridge: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/coraltel/audiohookbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderResponseDuration tracks the model provider's time-to-first-
	// audio-delta latency per response.
	ProviderResponseDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool invocation latency, both built-in
	// call-control tools and MCP data actions.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// FramesReceived counts inbound audio frames read from the carrier.
	FramesReceived metric.Int64Counter

	// FramesSent counts outbound audio frames written to the carrier by the
	// downlink pacer.
	FramesSent metric.Int64Counter

	// PacerDrops counts frames discarded by the downlink pacer because its
	// bounded queue was full.
	PacerDrops metric.Int64Counter

	// BackoffEvents counts provider rate-limit responses that triggered a
	// retry backoff. Use with attribute: attribute.Int("retry_count", ...)
	BackoffEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("code", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live carrier-to-provider bridge
	// sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PacerQueueDepth tracks the total number of frames queued across all
	// active downlink pacers.
	PacerQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProviderResponseDuration, err = m.Float64Histogram("audiohookbridge.provider.response.duration",
		metric.WithDescription("Latency of model-provider responses, from request to first audio delta."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("audiohookbridge.tool_execution.duration",
		metric.WithDescription("Latency of tool execution (built-in call-control and MCP data actions)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("audiohookbridge.provider.requests",
		metric.WithDescription("Total provider API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("audiohookbridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("audiohookbridge.frames.received",
		metric.WithDescription("Total inbound audio frames read from the carrier."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("audiohookbridge.frames.sent",
		metric.WithDescription("Total outbound audio frames written to the carrier."),
	); err != nil {
		return nil, err
	}
	if met.PacerDrops, err = m.Int64Counter("audiohookbridge.pacer.drops",
		metric.WithDescription("Total frames dropped by a downlink pacer's bounded queue."),
	); err != nil {
		return nil, err
	}
	if met.BackoffEvents, err = m.Int64Counter("audiohookbridge.provider.backoff_events",
		metric.WithDescription("Total provider rate-limit responses that triggered a retry backoff."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("audiohookbridge.provider.errors",
		metric.WithDescription("Total provider errors by error code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("audiohookbridge.active_sessions",
		metric.WithDescription("Number of live carrier-to-provider bridge sessions."),
	); err != nil {
		return nil, err
	}
	if met.PacerQueueDepth, err = m.Int64UpDownCounter("audiohookbridge.pacer.queue_depth",
		metric.WithDescription("Total number of frames queued across all active downlink pacers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiohookbridge.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, code string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}

// RecordBackoffEvent is a convenience method that records a provider
// rate-limit backoff.
func (m *Metrics) RecordBackoffEvent(ctx context.Context, retryCount int) {
	m.BackoffEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("retry_count", retryCount)),
	)
}
