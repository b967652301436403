package observe

import (
	"context"
	"time"
)

// WorkerRecorder adapts [Metrics] to the worker package's Recorder
// interface, so the decode loop can report observations without importing
// OpenTelemetry directly.
type WorkerRecorder struct {
	metrics *Metrics
	ctx     context.Context
}

// NewWorkerRecorder returns a WorkerRecorder that records against metrics.
// ctx is used as the recording context for every call; it should be a
// long-lived, never-cancelled context (e.g. context.Background()), since
// the worker's per-job contexts may already be done by the time a terminal
// observation is recorded.
func NewWorkerRecorder(metrics *Metrics, ctx context.Context) *WorkerRecorder {
	return &WorkerRecorder{metrics: metrics, ctx: ctx}
}

func (r *WorkerRecorder) ObserveQueueWait(d time.Duration) {
	r.metrics.QueueWaitDuration.Record(r.ctx, d.Seconds())
}

func (r *WorkerRecorder) ObserveTimeToFirstToken(d time.Duration) {
	r.metrics.TimeToFirstToken.Record(r.ctx, d.Seconds())
}

func (r *WorkerRecorder) ObserveJobDuration(d time.Duration) {
	r.metrics.JobDuration.Record(r.ctx, d.Seconds())
}

func (r *WorkerRecorder) IncTokensGenerated(n int) {
	r.metrics.TokensGenerated.Add(r.ctx, int64(n))
}

func (r *WorkerRecorder) IncJobOutcome(reason string) {
	r.metrics.RecordJobOutcome(r.ctx, reason)
}
