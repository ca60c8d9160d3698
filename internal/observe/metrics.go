// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and provider setup.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/AravindYuvraj/realtime-tutor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// ConnectDuration tracks session connect latency.
	ConnectDuration metric.Float64Histogram

	// ChunkDuration tracks the play time of each scheduled audio chunk.
	ChunkDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts microphone frames delivered to the transport.
	FramesSent metric.Int64Counter

	// FrameDrops counts microphone frames dropped instead of sent. Use with
	// attribute.String("reason", ...): "not_recording" or "send_failed".
	FrameDrops metric.Int64Counter

	// ChunksScheduled counts model audio chunks handed to the playback
	// scheduler.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts inbound audio payloads dropped as malformed.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events applied to the playback timeline.
	Interruptions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transport sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime-audio latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("tutor.session.connect.duration",
		metric.WithDescription("Latency of establishing a live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("tutor.playback.chunk.duration",
		metric.WithDescription("Play time of scheduled audio chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("tutor.capture.frames.sent",
		metric.WithDescription("Total microphone frames delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FrameDrops, err = m.Int64Counter("tutor.capture.frames.dropped",
		metric.WithDescription("Total microphone frames dropped instead of sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("tutor.playback.chunks.scheduled",
		metric.WithDescription("Total model audio chunks handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("tutor.playback.decode.errors",
		metric.WithDescription("Total inbound audio payloads dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("tutor.playback.interruptions",
		metric.WithDescription("Total barge-in events applied to the playback timeline."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutor.active_sessions",
		metric.WithDescription("Number of live transport sessions."),
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

// RecordConnect records one connect attempt with its latency and outcome.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordFrameDrop records one dropped microphone frame with its reason.
func (m *Metrics) RecordFrameDrop(ctx context.Context, reason string) {
	m.FrameDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordChunkScheduled records one scheduled chunk and its play time.
func (m *Metrics) RecordChunkScheduled(ctx context.Context, d time.Duration) {
	m.ChunksScheduled.Add(ctx, 1)
	m.ChunkDuration.Record(ctx, d.Seconds())
}
