// Package observe provides application-wide observability primitives for the
// voicelink bridge: OpenTelemetry metrics, distributed tracing helpers, and
// the SDK bootstrap that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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
const meterName = "github.com/arens-io/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the bridge.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks time from final audio to final transcript.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks per-chunk speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// AgentDuration tracks agent response generation latency.
	AgentDuration metric.Float64Histogram

	// RealtimeDuration tracks realtime-session turn latency.
	RealtimeDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts accepted inbound audio frames.
	FramesIn metric.Int64Counter

	// FramesOut counts outbound audio frames delivered to the gateway.
	FramesOut metric.Int64Counter

	// FramesDropped counts inbound frames rejected before the pipeline.
	// Use with attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// AuthDecisions counts authorization decisions. Use with attributes:
	//   attribute.String("strategy", ...), attribute.Bool("authorized", ...)
	AuthDecisions metric.Int64Counter

	// BargeIns counts user interruptions of bot playback.
	BargeIns metric.Int64Counter

	// UpstreamErrors counts upstream service failures. Use with attributes:
	//   attribute.String("service", ...), attribute.String("kind", ...)
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveConnections tracks open gateway connections.
	ActiveConnections metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.STTDuration, err = m.Float64Histogram("voicelink.stt.duration",
		metric.WithDescription("Latency from end of user speech to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voicelink.tts.duration",
		metric.WithDescription("Per-chunk speech synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentDuration, err = m.Float64Histogram("voicelink.agent.duration",
		metric.WithDescription("Agent response generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RealtimeDuration, err = m.Float64Histogram("voicelink.realtime.duration",
		metric.WithDescription("Realtime-session turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("voicelink.frames.in",
		metric.WithDescription("Accepted inbound audio frames."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("voicelink.frames.out",
		metric.WithDescription("Outbound audio frames delivered to the gateway."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicelink.frames.dropped",
		metric.WithDescription("Inbound frames rejected before the pipeline, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AuthDecisions, err = m.Int64Counter("voicelink.auth.decisions",
		metric.WithDescription("Authorization decisions by strategy and outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicelink.barge_ins",
		metric.WithDescription("User interruptions of bot playback."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("voicelink.upstream.errors",
		metric.WithDescription("Upstream service failures by service and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voicelink.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("voicelink.active_connections",
		metric.WithDescription("Open gateway connections."),
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

// RecordAuthDecision records one authorization decision.
func (m *Metrics) RecordAuthDecision(ctx context.Context, strategy string, authorized bool) {
	m.AuthDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.Bool("authorized", authorized),
		),
	)
}

// RecordFrameDrop records one rejected inbound frame.
func (m *Metrics) RecordFrameDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordUpstreamError records one upstream service failure.
func (m *Metrics) RecordUpstreamError(ctx context.Context, service, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("kind", kind),
		),
	)
}
