package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestStartSynthesisSpan(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSynthesisSpan(context.Background(), "synth.Synthesize", "vex", "m-42")
	if CorrelationID(ctx) == "" {
		t.Error("synthesis span has no trace id")
	}
	SetProvider(span, "elevenlabs")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "synth.Synthesize" {
		t.Errorf("name = %q", spans[0].Name)
	}
	want := map[attribute.Key]string{
		AttrCharacterID: "vex",
		AttrMessageID:   "m-42",
		AttrProvider:    "elevenlabs",
	}
	got := spanAttrs(spans[0])
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestSynthesisSpan_NoProviderOnFailure(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSynthesisSpan(context.Background(), "synth.Stream", "ghost", "m-1")
	span.End()

	if _, ok := spanAttrs(exp.GetSpans()[0])[AttrProvider]; ok {
		t.Error("provider attribute set on a span that never picked one")
	}
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "request")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation id %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("outside request")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartSynthesisSpan(context.Background(), "synth.Synthesize", "vex", "m-1")
	defer span.End()
	Logger(ctx).Info("synth: audio produced")
	logged := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %q: %s", want, logged)
		}
	}
}
