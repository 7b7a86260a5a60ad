package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_InstrumentsRecord(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	ctx := context.Background()
	m.FramesIn.Add(ctx, 3)
	m.FramesOut.Add(ctx, 2)
	m.RecordFrameDrop(ctx, "wrong-size")
	m.RecordAuthDecision(ctx, "allowlist", false)
	m.RecordUpstreamError(ctx, "stt", "dial")
	m.BargeIns.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.STTDuration.Record(ctx, 0.42)
	m.TTSDuration.Record(ctx, 0.2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("no scope metrics collected")
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	for _, want := range []string{
		"voicelink.frames.in",
		"voicelink.frames.dropped",
		"voicelink.auth.decisions",
		"voicelink.upstream.errors",
		"voicelink.active_calls",
		"voicelink.stt.duration",
		"voicelink.tts.duration",
	} {
		if !names[want] {
			t.Errorf("metric %q not collected; got %v", want, names)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Fatal("DefaultMetrics returned different instances")
	}
}
