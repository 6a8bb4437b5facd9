// Package observe provides application-wide observability primitives for
// castvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them to Prometheus for the /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all castvoice metrics.
const meterName = "github.com/MrWong99/castvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks end-to-end orchestrated synthesis latency,
	// including retries and failover. Use with attribute:
	//   attribute.String("outcome", ...)
	SynthesisDuration metric.Float64Histogram

	// ProviderDuration tracks a single adapter call. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts adapter calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Failovers counts switches from one adapter to the next. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("reason", ...)
	Failovers metric.Int64Counter

	// SynthesisOutcomes counts finished synthesis requests. Use with
	// attributes:
	//   attribute.String("outcome", ...), attribute.String("provider", ...)
	SynthesisOutcomes metric.Int64Counter

	// UnmappedVoices counts resolutions that fell back to the default voice.
	// Use with attributes:
	//   attribute.String("archetype", ...), attribute.String("provider", ...)
	UnmappedVoices metric.Int64Counter

	// PlaybackSessions counts finished playback sessions. Use with
	// attributes:
	//   attribute.String("format", ...), attribute.String("end", ...)
	PlaybackSessions metric.Int64Counter

	// EnforcementRuns counts evaluated voice contracts. Use with attribute:
	//   attribute.String("status", ...)
	EnforcementRuns metric.Int64Counter

	// EnforcementScore records contract scores.
	EnforcementScore metric.Float64Histogram

	// --- Error counters ---

	// ProviderErrors counts adapter errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlayback is 1 while an audio session is live.
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote TTS calls, which range from sub-second to job-queue waits.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 90,
}

// scoreBuckets covers the 0–100 contract score.
var scoreBuckets = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("castvoice.synthesis.duration",
		metric.WithDescription("Latency of orchestrated synthesis including retries and failover."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("castvoice.provider.duration",
		metric.WithDescription("Latency of a single TTS adapter call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnforcementScore, err = m.Float64Histogram("castvoice.enforcement.score",
		metric.WithDescription("Voice contract scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("castvoice.provider.requests",
		metric.WithDescription("Total TTS adapter requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Failovers, err = m.Int64Counter("castvoice.synthesis.failovers",
		metric.WithDescription("Total failovers from one adapter to the next."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisOutcomes, err = m.Int64Counter("castvoice.synthesis.outcomes",
		metric.WithDescription("Total synthesis requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UnmappedVoices, err = m.Int64Counter("castvoice.voice.unmapped",
		metric.WithDescription("Voice resolutions that used the default voice handle."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSessions, err = m.Int64Counter("castvoice.playback.sessions",
		metric.WithDescription("Finished playback sessions by format and how they ended."),
	); err != nil {
		return nil, err
	}
	if met.EnforcementRuns, err = m.Int64Counter("castvoice.enforcement.runs",
		metric.WithDescription("Evaluated voice contracts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("castvoice.provider.errors",
		metric.WithDescription("Total TTS adapter errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlayback, err = m.Int64UpDownCounter("castvoice.playback.active",
		metric.WithDescription("Number of live playback sessions (0 or 1)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("castvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordProviderRequest records one adapter call with the standard attribute
// set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one adapter error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFailover records a switch away from provider for reason.
func (m *Metrics) RecordFailover(ctx context.Context, from, reason string) {
	m.Failovers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("reason", reason),
		),
	)
}

// RecordSynthesis records a finished synthesis request and its duration.
func (m *Metrics) RecordSynthesis(ctx context.Context, outcome, provider string, seconds float64) {
	m.SynthesisOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("provider", provider),
		),
	)
	m.SynthesisDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordUnmappedVoice records a resolution that fell back to the default
// voice handle.
func (m *Metrics) RecordUnmappedVoice(ctx context.Context, archetype, provider string) {
	m.UnmappedVoices.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("archetype", archetype),
			attribute.String("provider", provider),
		),
	)
}

// RecordPlayback records a finished playback session.
func (m *Metrics) RecordPlayback(ctx context.Context, format, end string) {
	m.PlaybackSessions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("format", format),
			attribute.String("end", end),
		),
	)
}

// RecordEnforcement records one evaluated contract.
func (m *Metrics) RecordEnforcement(ctx context.Context, status string, score float64) {
	m.EnforcementRuns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.EnforcementScore.Record(ctx, score)
}
