// Package observe provides application-wide observability primitives for
// MigraLog: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all MigraLog metrics.
const meterName = "github.com/jhaensel/migralog"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks the length of a voice capture session, from
	// start to finalized transcript.
	CaptureDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ParseDuration tracks transcript-to-draft extraction latency.
	ParseDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end latency from finalized transcript
	// to completed entry draft.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts STT provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// EngineRestarts counts speech-engine restarts issued by the capture
	// controller. Use with attribute:
	//   attribute.String("reason", ...)
	EngineRestarts metric.Int64Counter

	// Drafts counts completed entry drafts. Use with attributes:
	//   attribute.String("entry_type", ...), attribute.Bool("needs_review", ...)
	Drafts metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts STT provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// PipelineFailures counts pipeline runs that ended in a failed trace
	// step. Use with attribute:
	//   attribute.String("step", ...)
	PipelineFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of live capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dictation-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("migralog.capture.duration",
		metric.WithDescription("Length of a voice capture session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("migralog.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ParseDuration, err = m.Float64Histogram("migralog.parse.duration",
		metric.WithDescription("Latency of transcript-to-draft extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("migralog.pipeline.duration",
		metric.WithDescription("End-to-end latency from transcript to entry draft."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("migralog.provider.requests",
		metric.WithDescription("Total STT provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineRestarts, err = m.Int64Counter("migralog.capture.restarts",
		metric.WithDescription("Total speech-engine restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.Drafts, err = m.Int64Counter("migralog.drafts",
		metric.WithDescription("Total completed entry drafts by entry type and review flag."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("migralog.provider.errors",
		metric.WithDescription("Total STT provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFailures, err = m.Int64Counter("migralog.pipeline.failures",
		metric.WithDescription("Total pipeline runs that failed, by step."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("migralog.active_captures",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("migralog.http.request.duration",
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
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordEngineRestart is a convenience method that records an engine restart
// counter increment.
func (m *Metrics) RecordEngineRestart(ctx context.Context, reason string) {
	m.EngineRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDraft is a convenience method that records a completed draft counter
// increment.
func (m *Metrics) RecordDraft(ctx context.Context, entryType string, needsReview bool) {
	m.Drafts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entry_type", entryType),
			attribute.Bool("needs_review", needsReview),
		),
	)
}

// RecordPipelineFailure is a convenience method that records a failed
// pipeline run by the step that failed.
func (m *Metrics) RecordPipelineFailure(ctx context.Context, step string) {
	m.PipelineFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("step", step)),
	)
}
