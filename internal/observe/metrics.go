// Package observe provides application-wide observability primitives for
// murmur: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from the control server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// RecordingDuration tracks how long each recording captured audio. Use
	// with attribute.Bool("automatic", ...).
	RecordingDuration metric.Float64Histogram

	// SubmissionDuration tracks backend round-trip latency. Use with
	// attributes: attribute.String("kind", "audio"|"text"),
	// attribute.String("status", ...).
	SubmissionDuration metric.Float64Histogram

	// NarrationDuration tracks how long each utterance played.
	NarrationDuration metric.Float64Histogram

	// --- Counters ---

	// Recordings counts finished recordings. Use with attributes:
	//   attribute.String("trigger", "silence"|"manual"|"cleanup"),
	//   attribute.String("outcome", "uploaded"|"empty"|"discarded"|"error")
	Recordings metric.Int64Counter

	// Submissions counts backend submissions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Submissions metric.Int64Counter

	// Narrations counts utterances by final status
	// ("completed"|"interrupted"|"error").
	Narrations metric.Int64Counter

	// ProviderRequests counts TTS provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// Errors counts classified user-facing errors. Use with attributes:
	//   attribute.String("stage", "capture"|"audio"|"text"), attribute.String("kind", ...)
	Errors metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings is 1 while the microphone is open, else 0.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network and synthesis latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// recording and narration lengths.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecordingDuration, err = m.Float64Histogram("murmur.recording.duration",
		metric.WithDescription("Length of captured recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SubmissionDuration, err = m.Float64Histogram("murmur.submission.duration",
		metric.WithDescription("Latency of backend submissions by kind and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NarrationDuration, err = m.Float64Histogram("murmur.narration.duration",
		metric.WithDescription("Time spent synthesising and playing an utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("murmur.recordings",
		metric.WithDescription("Finished recordings by trigger and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("murmur.submissions",
		metric.WithDescription("Backend submissions by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.Narrations, err = m.Int64Counter("murmur.narrations",
		metric.WithDescription("Utterances by final status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.Errors, err = m.Int64Counter("murmur.errors",
		metric.WithDescription("User-facing errors by stage and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("murmur.active_recordings",
		metric.WithDescription("Number of open microphone captures."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
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

// RecordRecording records a finished recording.
func (m *Metrics) RecordRecording(ctx context.Context, trigger, outcome string, length time.Duration) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("outcome", outcome),
		),
	)
	m.RecordingDuration.Record(ctx, length.Seconds(),
		metric.WithAttributes(attribute.Bool("automatic", trigger == "silence")),
	)
}

// RecordSubmission records one backend round-trip.
func (m *Metrics) RecordSubmission(ctx context.Context, kind, status string, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.Submissions.Add(ctx, 1, attrs)
	m.SubmissionDuration.Record(ctx, latency.Seconds(), attrs)
}

// RecordNarration records a finished or interrupted utterance.
func (m *Metrics) RecordNarration(ctx context.Context, status string, d time.Duration) {
	m.Narrations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.NarrationDuration.Record(ctx, d.Seconds())
}

// RecordError records a classified user-facing error.
func (m *Metrics) RecordError(ctx context.Context, stage, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
