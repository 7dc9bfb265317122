// Package observe holds the OpenTelemetry instruments for the capture,
// classification and actuation pipeline. Every dropped chunk, skipped cycle
// and dropped command is counted here in addition to being logged.
//
// Instruments are created against whatever MeterProvider the caller passes.
// [DefaultMetrics] uses the global provider, which is a no-op unless the
// embedding program installs one. Tests should use [NewMetrics] with an SDK
// provider and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all keyservo metrics.
const meterName = "github.com/petems/keyservo"

// Drop reasons for ChunksDropped.
const (
	ReasonLockTimeout = "lock_timeout"
	ReasonReleased    = "released"
)

// Cycle outcomes for Cycles.
const (
	CycleTriggered   = "triggered"
	CycleIdle        = "idle"
	CycleWaitTimeout = "wait_timeout"
	CycleLockFailed  = "lock_failed"
	CycleClassifier  = "classifier_error"
)

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	ChunksCaptured  metric.Int64Counter
	ChunksDropped   metric.Int64Counter
	ReadTimeouts    metric.Int64Counter
	PartialReads    metric.Int64Counter
	FramesReady     metric.Int64Counter
	FrameOverruns   metric.Int64Counter
	Cycles          metric.Int64Counter
	CommandsQueued  metric.Int64Counter
	CommandsDropped metric.Int64Counter
	Moves           metric.Int64Counter

	// ClassifyDuration tracks classifier latency in seconds.
	ClassifyDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ChunksCaptured, "keyservo.capture.chunks", "Chunks read from the sample source."},
		{&met.ChunksDropped, "keyservo.capture.chunks_dropped", "Chunks discarded before reaching the frame buffer, by reason."},
		{&met.ReadTimeouts, "keyservo.capture.read_timeouts", "Source reads that returned no data."},
		{&met.PartialReads, "keyservo.capture.partial_reads", "Source reads shorter than the requested chunk."},
		{&met.FramesReady, "keyservo.frames.ready", "Frames published as ready."},
		{&met.FrameOverruns, "keyservo.frames.overruns", "Ready frames replaced before the classifier consumed them."},
		{&met.Cycles, "keyservo.classify.cycles", "Classification cycles by outcome."},
		{&met.CommandsQueued, "keyservo.actuator.commands_queued", "Actuator commands accepted by the queue."},
		{&met.CommandsDropped, "keyservo.actuator.commands_dropped", "Actuator commands dropped because the queue was full."},
		{&met.Moves, "keyservo.actuator.moves", "Completed actuator motion sequences."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ClassifyDuration, err = m.Float64Histogram("keyservo.classify.duration",
		metric.WithDescription("Latency of one classifier invocation."),
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

// DefaultMetrics returns the package-level Metrics built on
// [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// RecordDrop counts a dropped chunk.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCycle counts a classification cycle outcome.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string) {
	m.Cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
