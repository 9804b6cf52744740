// Package observe provides observability primitives for visacoach:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]; [Handler] serves the scrape endpoint. Tests
// should build a private [Metrics] with [NewMetrics] and a ManualReader
// instead of relying on [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all visacoach metrics.
const meterName = "github.com/MrWong99/visacoach"

// Metrics holds the application's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// ── Audio pipeline ──────────────────────────────────────────────────────

	// FramesEmitted counts frames produced by the accumulator.
	FramesEmitted metric.Int64Counter

	// FramesDropped counts frames evicted from a full frame queue.
	FramesDropped metric.Int64Counter

	// FrameEnergy records the RMS energy of each emitted frame.
	FrameEnergy metric.Float64Histogram

	// ActiveAudioStreams tracks open browser audio websockets.
	ActiveAudioStreams metric.Int64UpDownCounter

	// ── Agent collaborator ──────────────────────────────────────────────────

	// AgentEvents counts events received from the conversational agent.
	// Attributes: kind (turn|mode|error).
	AgentEvents metric.Int64Counter

	// SignedURLRequests counts signed-URL fetches. Attributes: status
	// (ok|error|unconfigured|fallback).
	SignedURLRequests metric.Int64Counter

	// SignedURLDuration tracks signed-URL fetch latency.
	SignedURLDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, to.
	BreakerTransitions metric.Int64Counter

	// ── Sessions ────────────────────────────────────────────────────────────

	// ActiveSessions tracks sessions that have been started but not ended.
	ActiveSessions metric.Int64UpDownCounter

	// TranscriptEntries counts recorded turns. Attributes: role, language.
	TranscriptEntries metric.Int64Counter

	// LanguageSwitches counts recorded Hindi-assistance events.
	LanguageSwitches metric.Int64Counter

	// Reports counts generated feedback reports. Attributes: tier.
	Reports metric.Int64Counter

	// ── HTTP ────────────────────────────────────────────────────────────────

	// HTTPRequestDuration tracks request latency. Attributes: method, route,
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for network calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// energyBuckets are histogram boundaries for normalised RMS energy.
var energyBuckets = []float64{
	0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1,
}

// NewMetrics creates every instrument on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio pipeline.
	if met.FramesEmitted, err = m.Int64Counter("visacoach.audio.frames",
		metric.WithDescription("Audio frames emitted by the accumulator."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("visacoach.audio.frames_dropped",
		metric.WithDescription("Audio frames evicted from a full frame queue."),
	); err != nil {
		return nil, err
	}
	if met.FrameEnergy, err = m.Float64Histogram("visacoach.audio.frame_energy",
		metric.WithDescription("RMS energy of emitted audio frames."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(energyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveAudioStreams, err = m.Int64UpDownCounter("visacoach.audio.active_streams",
		metric.WithDescription("Open browser audio streams."),
	); err != nil {
		return nil, err
	}

	// Agent collaborator.
	if met.AgentEvents, err = m.Int64Counter("visacoach.agent.events",
		metric.WithDescription("Events received from the conversational agent by kind."),
	); err != nil {
		return nil, err
	}
	if met.SignedURLRequests, err = m.Int64Counter("visacoach.agent.signed_url.requests",
		metric.WithDescription("Signed-URL fetches by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SignedURLDuration, err = m.Float64Histogram("visacoach.agent.signed_url.duration",
		metric.WithDescription("Latency of signed-URL fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("visacoach.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("visacoach.sessions.active",
		metric.WithDescription("Interview sessions started and not yet ended."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("visacoach.transcript.entries",
		metric.WithDescription("Transcript entries recorded by role and language."),
	); err != nil {
		return nil, err
	}
	if met.LanguageSwitches, err = m.Int64Counter("visacoach.transcript.language_switches",
		metric.WithDescription("Hindi-assistance events recorded."),
	); err != nil {
		return nil, err
	}
	if met.Reports, err = m.Int64Counter("visacoach.feedback.reports",
		metric.WithDescription("Feedback reports generated by proficiency tier."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("visacoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider]. Panics if instrument creation fails, which does
// not happen with the global provider.
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

// RecordFrame records an emitted frame and its energy.
func (m *Metrics) RecordFrame(ctx context.Context, rms float64) {
	m.FramesEmitted.Add(ctx, 1)
	m.FrameEnergy.Record(ctx, rms)
}

// RecordAgentEvent counts one agent event of the given kind.
func (m *Metrics) RecordAgentEvent(ctx context.Context, kind string) {
	m.AgentEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSignedURL records a signed-URL fetch outcome and its latency in
// seconds.
func (m *Metrics) RecordSignedURL(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.SignedURLRequests.Add(ctx, 1, attrs)
	m.SignedURLDuration.Record(ctx, seconds, attrs)
}

// RecordBreakerTransition counts a breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}

// RecordTranscriptEntry counts one recorded turn.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role, language string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("language", language),
	))
}

// RecordReport counts one generated report.
func (m *Metrics) RecordReport(ctx context.Context, tier string) {
	m.Reports.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordLanguageSwitch counts one Hindi-assistance event.
func (m *Metrics) RecordLanguageSwitch(ctx context.Context, questionID int) {
	m.LanguageSwitches.Add(ctx, 1, metric.WithAttributes(attribute.Int("question_id", questionID)))
}
