// Package observe provides application-wide observability primitives for
// EXSA Engine: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all EXSA Engine
// metrics.
const meterName = "github.com/ahammedyusufb/exsa-engine"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// QueueWaitDuration tracks how long an admitted job sat in the queue
	// before the worker picked it up.
	QueueWaitDuration metric.Float64Histogram

	// TimeToFirstToken tracks the delay between a job starting decode and
	// its first emitted token.
	TimeToFirstToken metric.Float64Histogram

	// JobDuration tracks total decode-loop wall time per job, from dequeue
	// to terminal event.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// JobsAdmitted counts jobs accepted by admission.
	JobsAdmitted metric.Int64Counter

	// JobsRejected counts jobs rejected by admission. Use with attribute:
	//   attribute.String("reason", ...)
	JobsRejected metric.Int64Counter

	// TokensGenerated counts tokens emitted across all jobs.
	TokensGenerated metric.Int64Counter

	// JobOutcomes counts terminal job outcomes. Use with attribute:
	//   attribute.String("reason", ...)
	JobOutcomes metric.Int64Counter

	// ModelSwaps counts lifecycle load/swap attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	ModelSwaps metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the current number of jobs waiting in admission.
	QueueDepth metric.Int64UpDownCounter

	// InFlightJobs tracks the number of jobs currently being decoded (0 or 1
	// for the single-worker core, but modeled as a gauge for the seam).
	InFlightJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// interactive token-generation latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.QueueWaitDuration, err = m.Float64Histogram("exsa.queue.wait.duration",
		metric.WithDescription("Time a job spent in the admission queue before decode started."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstToken, err = m.Float64Histogram("exsa.job.ttft",
		metric.WithDescription("Time from decode start to the first emitted token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("exsa.job.duration",
		metric.WithDescription("Total decode-loop duration per job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.JobsAdmitted, err = m.Int64Counter("exsa.jobs.admitted",
		metric.WithDescription("Total jobs accepted by admission."),
	); err != nil {
		return nil, err
	}
	if met.JobsRejected, err = m.Int64Counter("exsa.jobs.rejected",
		metric.WithDescription("Total jobs rejected by admission, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TokensGenerated, err = m.Int64Counter("exsa.tokens.generated",
		metric.WithDescription("Total tokens generated across all jobs."),
	); err != nil {
		return nil, err
	}
	if met.JobOutcomes, err = m.Int64Counter("exsa.job.outcomes",
		metric.WithDescription("Total terminal job outcomes, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ModelSwaps, err = m.Int64Counter("exsa.model.swaps",
		metric.WithDescription("Total model load/swap attempts, by outcome."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("exsa.queue.depth",
		metric.WithDescription("Current number of jobs waiting in admission."),
	); err != nil {
		return nil, err
	}
	if met.InFlightJobs, err = m.Int64UpDownCounter("exsa.jobs.in_flight",
		metric.WithDescription("Number of jobs currently being decoded."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("exsa.http.request.duration",
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

// RecordJobRejected is a convenience method that records a job rejection
// counter increment with the standard attribute set.
func (m *Metrics) RecordJobRejected(ctx context.Context, reason string) {
	m.JobsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordJobOutcome is a convenience method that records a terminal job
// outcome counter increment.
func (m *Metrics) RecordJobOutcome(ctx context.Context, reason string) {
	m.JobOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordModelSwap is a convenience method that records a model load/swap
// counter increment.
func (m *Metrics) RecordModelSwap(ctx context.Context, outcome string) {
	m.ModelSwaps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
