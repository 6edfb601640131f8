// Package observe wires OpenTelemetry metrics and the diagnostics HTTP endpoint.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for all dictum metrics.
const meterName = "github.com/rbright/dictum"

// latencyBuckets covers recognition round-trips from tens of milliseconds to
// slow cloud calls (seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds every metric instrument the daemon records. The underlying
// OTel types are safe for concurrent use.
type Metrics struct {
	// Sessions counts finished dictation sessions by outcome
	// (committed, empty, no_match, too_short, canceled, error).
	Sessions metric.Int64Counter

	// FramesCaptured and FramesDropped count capture queue traffic.
	FramesCaptured metric.Int64Counter
	FramesDropped  metric.Int64Counter

	// QueueDepth tracks the capture queue fill level.
	QueueDepth metric.Int64UpDownCounter

	// AudioDuration tracks conditioned capture length in seconds.
	AudioDuration metric.Float64Histogram

	// RecognizeDuration tracks per-attempt recognition latency.
	RecognizeDuration metric.Float64Histogram

	// Attempts counts recognition attempts by service, strategy, and outcome.
	Attempts metric.Int64Counter

	// ServiceResets counts recognizer handle-pool resets.
	ServiceResets metric.Int64Counter

	// ForcedReleases counts watchdog key releases.
	ForcedReleases metric.Int64Counter
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Sessions, err = m.Int64Counter("dictum.sessions",
		metric.WithDescription("Finished dictation sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("dictum.frames.captured",
		metric.WithDescription("Audio frames accepted from the capture stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("dictum.frames.dropped",
		metric.WithDescription("Audio frames discarded because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("dictum.queue.depth",
		metric.WithDescription("Capture queue fill level."),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("dictum.audio.duration",
		metric.WithDescription("Conditioned capture length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("dictum.recognize.duration",
		metric.WithDescription("Recognition attempt latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Attempts, err = m.Int64Counter("dictum.recognize.attempts",
		metric.WithDescription("Recognition attempts by service, strategy, and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ServiceResets, err = m.Int64Counter("dictum.service.resets",
		metric.WithDescription("Recognizer handle-pool resets."),
	); err != nil {
		return nil, err
	}
	if met.ForcedReleases, err = m.Int64Counter("dictum.keys.force_released",
		metric.WithDescription("Keys force-released by the hold watchdog."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns a Metrics instance that records nothing. Collaborators can
// hold it instead of nil-checking.
func Noop() *Metrics {
	m, err := NewMetrics(noopmetric.NewMeterProvider())
	if err != nil {
		panic("observe: build noop metrics: " + err.Error())
	}
	return m
}

// RecordSession increments the session counter for one outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAttempt increments the attempt counter with the standard attribute set.
func (m *Metrics) RecordAttempt(ctx context.Context, service, strategy, outcome string) {
	m.Attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}
