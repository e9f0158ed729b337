// Package observe provides application-wide observability primitives for
// loqua: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all loqua metrics.
const meterName = "github.com/loqua-ai/loqua"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FirstTokenLatency tracks the time from turn commit to the first
	// generator token.
	FirstTokenLatency metric.Float64Histogram

	// GenerationDuration tracks full response generation time, commit to done.
	GenerationDuration metric.Float64Histogram

	// BargeInCancelLatency tracks how long an interrupted generation stream
	// took to terminate after cancellation.
	BargeInCancelLatency metric.Float64Histogram

	// --- Counters ---

	// AudioFrames counts inbound audio frames accepted into sessions.
	AudioFrames metric.Int64Counter

	// VADEvents counts voice activity events. Use with attribute:
	//   attribute.String("type", ...)
	VADEvents metric.Int64Counter

	// Commits counts committed user turns. Use with attribute:
	//   attribute.String("pause", ...)
	Commits metric.Int64Counter

	// BargeIns counts user interruptions of an active response.
	BargeIns metric.Int64Counter

	// ForcedDetaches counts generation streams abandoned after exceeding the
	// barge-in cancellation budget.
	ForcedDetaches metric.Int64Counter

	// EventsCoalesced counts transcript partials replaced before delivery
	// under event bus overload.
	EventsCoalesced metric.Int64Counter

	// STTRestarts counts transcriber stream restarts. Use with attribute:
	//   attribute.String("status", ...)
	STTRestarts metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts error events emitted to clients. Use with attribute:
	//   attribute.String("code", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// cancelBuckets covers the barge-in cancellation budget range.
var cancelBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FirstTokenLatency, err = m.Float64Histogram("loqua.generation.first_token_latency",
		metric.WithDescription("Time from turn commit to first generator token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("loqua.generation.duration",
		metric.WithDescription("Full response generation time from commit to done."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeInCancelLatency, err = m.Float64Histogram("loqua.barge_in.cancel_latency",
		metric.WithDescription("Time for an interrupted generation stream to terminate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cancelBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFrames, err = m.Int64Counter("loqua.audio.frames",
		metric.WithDescription("Inbound audio frames accepted into sessions."),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("loqua.vad.events",
		metric.WithDescription("Voice activity events by type."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("loqua.turn.commits",
		metric.WithDescription("Committed user turns by pause classification."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("loqua.barge_in.count",
		metric.WithDescription("User interruptions of an active response."),
	); err != nil {
		return nil, err
	}
	if met.ForcedDetaches, err = m.Int64Counter("loqua.barge_in.forced_detaches",
		metric.WithDescription("Generation streams abandoned after the cancellation budget."),
	); err != nil {
		return nil, err
	}
	if met.EventsCoalesced, err = m.Int64Counter("loqua.events.coalesced",
		metric.WithDescription("Transcript partials replaced before delivery under overload."),
	); err != nil {
		return nil, err
	}
	if met.STTRestarts, err = m.Int64Counter("loqua.stt.restarts",
		metric.WithDescription("Transcriber stream restarts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("loqua.session.errors",
		metric.WithDescription("Error events emitted to clients by code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("loqua.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("loqua.http.request.duration",
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

// RecordVADEvent records a VAD event counter increment by event type.
func (m *Metrics) RecordVADEvent(ctx context.Context, eventType string) {
	m.VADEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordCommit records a committed turn by pause classification.
func (m *Metrics) RecordCommit(ctx context.Context, pauseType string) {
	m.Commits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("pause", pauseType)),
	)
}

// RecordSessionError records an emitted error event by code.
func (m *Metrics) RecordSessionError(ctx context.Context, code string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}

// RecordSTTRestart records a transcriber restart attempt outcome.
func (m *Metrics) RecordSTTRestart(ctx context.Context, status string) {
	m.STTRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
