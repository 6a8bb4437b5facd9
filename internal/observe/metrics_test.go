package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumValue returns the value of the data point whose attribute key equals
// value, or -1 when absent.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"castvoice.synthesis.duration", m.SynthesisDuration},
		{"castvoice.provider.duration", m.ProviderDuration},
		{"castvoice.enforcement.score", m.EnforcementScore},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "elevenlabs", "tts", "ok")
	m.RecordProviderRequest(ctx, "elevenlabs", "tts", "ok")
	m.RecordProviderRequest(ctx, "elevenlabs", "tts", "error")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "castvoice.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("status=ok value = %d, want 2", got)
	}
	if got := sumValue(t, rm, "castvoice.provider.requests", "status", "error"); got != 1 {
		t.Errorf("status=error value = %d, want 1", got)
	}
}

func TestSynthesisCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFailover(ctx, "elevenlabs", "unavailable")
	m.RecordSynthesis(ctx, "succeeded", "coqui", 1.5)
	m.RecordSynthesis(ctx, "failed", "", 3)
	m.RecordSynthesis(ctx, "failed", "", 2)
	m.RecordUnmappedVoice(ctx, "default", "fishspeech")
	m.RecordProviderError(ctx, "elevenlabs", "unavailable")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"castvoice.synthesis.failovers", "from", "elevenlabs", 1},
		{"castvoice.synthesis.outcomes", "outcome", "succeeded", 1},
		{"castvoice.synthesis.outcomes", "outcome", "failed", 2},
		{"castvoice.voice.unmapped", "provider", "fishspeech", 1},
		{"castvoice.provider.errors", "kind", "unavailable", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric+"/"+tc.value, func(t *testing.T) {
			if got := sumValue(t, rm, tc.metric, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlaybackAndEnforcement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActivePlayback.Add(ctx, 1)
	m.ActivePlayback.Add(ctx, -1)
	m.ActivePlayback.Add(ctx, 1)
	m.RecordPlayback(ctx, "pcm", "natural")
	m.RecordEnforcement(ctx, "failed", 45)
	m.RecordEnforcement(ctx, "passed", 90)

	rm := collect(t, reader)

	met := findMetric(rm, "castvoice.playback.active")
	if met == nil {
		t.Fatal("castvoice.playback.active not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("castvoice.playback.active has no sum data")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active playback = %d, want 1", got)
	}
	if got := sumValue(t, rm, "castvoice.playback.sessions", "end", "natural"); got != 1 {
		t.Errorf("natural sessions = %d, want 1", got)
	}
	if got := sumValue(t, rm, "castvoice.enforcement.runs", "status", "passed"); got != 1 {
		t.Errorf("passed runs = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "GET /healthz"),
			attribute.String("status", "200"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "castvoice.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
