// Package worker drives the single long-running inference loop: one
// job at a time, dequeued from admission, tokenized, decoded token by
// token against the active model, and streamed out as it's produced.
// There is exactly one Worker goroutine per process — the backend
// [backend.Context] it drives is not safe for concurrent use, so
// serializing jobs here is what keeps every other package from having
// to know that.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahammedyusufb/exsa-engine/internal/admission"
	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
	"github.com/ahammedyusufb/exsa-engine/internal/sampling"
	"github.com/ahammedyusufb/exsa-engine/internal/template"
	"github.com/ahammedyusufb/exsa-engine/pkg/types"
)

// FinishReason names why generation stopped.
type FinishReason string

const (
	ReasonStopEOS       FinishReason = "stop_eos"
	ReasonStopString    FinishReason = "stop_string"
	ReasonStopMaxTokens FinishReason = "stop_max_tokens"
	ReasonCancelled     FinishReason = "stop_cancelled"
	ReasonError         FinishReason = "stop_error"
)

// Request is one unit of generation work.
type Request struct {
	// Messages is the chat history to render through a template. Empty
	// when Raw is set.
	Messages []types.Message
	// Raw, when non-empty, is used verbatim as the prompt, bypassing
	// template rendering entirely. Only CallerStops apply in this case.
	Raw string
	// TemplateFamily overrides family auto-detection when non-empty.
	TemplateFamily template.Family
	// CallerStops are additional stop strings supplied by the request.
	CallerStops []string
	Sampling    sampling.Params
	MaxTokens   int
}

// Event is one unit of worker output. Exactly one Event in a job's
// stream has Done set to true, and it is always the last.
type Event struct {
	Text   string
	Done   bool
	Reason FinishReason
	Err    error

	TokensGenerated int
	TTFT            time.Duration
}

// Recorder receives timing and outcome observations. Implementations
// must not block meaningfully; the worker calls these inline.
type Recorder interface {
	ObserveQueueWait(d time.Duration)
	ObserveTimeToFirstToken(d time.Duration)
	ObserveJobDuration(d time.Duration)
	IncTokensGenerated(n int)
	IncJobOutcome(reason string)
}

// noopRecorder discards everything; used when no Recorder is configured.
type noopRecorder struct{}

func (noopRecorder) ObserveQueueWait(time.Duration)       {}
func (noopRecorder) ObserveTimeToFirstToken(time.Duration) {}
func (noopRecorder) ObserveJobDuration(time.Duration)     {}
func (noopRecorder) IncTokensGenerated(int)               {}
func (noopRecorder) IncJobOutcome(string)                 {}

// Worker pulls jobs from a queue and drives them against the active
// model one at a time.
type Worker struct {
	queue    *admission.Queue[Request]
	manager  *lifecycle.Manager
	logger   *slog.Logger
	recorder Recorder

	mu    sync.Mutex
	sinks map[uuid.UUID]sink
}

// New constructs a Worker. recorder may be nil, in which case
// observations are discarded.
func New(queue *admission.Queue[Request], manager *lifecycle.Manager, logger *slog.Logger, recorder Recorder) *Worker {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Worker{queue: queue, manager: manager, logger: logger, recorder: recorder, sinks: make(map[uuid.UUID]sink)}
}

// sink pairs a job's event channel with the caller's context, so the
// worker can tell a client disconnecting apart from the process itself
// shutting down.
type sink struct {
	events chan Event
	ctx    context.Context
}

// Submit enqueues req and returns a channel of its [Event]s. callerCtx
// is the submitting request's context: the worker treats its
// cancellation as [ReasonCancelled], distinct from the process-wide
// shutdown context passed to [Worker.Run]. The channel is closed after
// the terminal Done event.
func (w *Worker) Submit(callerCtx context.Context, req Request) (uuid.UUID, <-chan Event, error) {
	job, err := w.queue.Enqueue(req)
	if err != nil {
		return uuid.Nil, nil, err
	}
	s := sink{events: make(chan Event, 8), ctx: callerCtx}
	w.mu.Lock()
	w.sinks[job.ID] = s
	w.mu.Unlock()
	return job.ID, s.events, nil
}

func (w *Worker) takeSink(id uuid.UUID) (sink, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sinks[id]
	if ok {
		delete(w.sinks, id)
	}
	return s, ok
}

// Run dequeues and processes jobs until ctx — the process-wide shutdown
// context — is cancelled. Jobs still waiting in the queue at that point
// receive a terminal event carrying a [apperr.KindShuttingDown] error.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ok := w.queue.Dequeue(ctx.Done())
		if !ok {
			w.mu.Lock()
			for id, s := range w.sinks {
				delete(w.sinks, id)
				s.events <- Event{Done: true, Reason: ReasonError, Err: apperr.New(apperr.KindShuttingDown, "the server is shutting down")}
				close(s.events)
			}
			w.mu.Unlock()
			return
		}
		s, hasSink := w.takeSink(job.ID)
		if !hasSink {
			continue // submitter's Submit call lost the race with shutdown; nothing to write to
		}
		w.process(ctx, s, job)
	}
}

// send delivers ev to sink, but gives up once ctx is cancelled and
// nothing is reading — without this, an abandoned job whose caller has
// stopped listening could block this goroutine forever.
func (w *Worker) send(ctx context.Context, sink chan<- Event, ev Event) {
	select {
	case sink <- ev:
	case <-ctx.Done():
	}
}

// process runs one job end to end, always sending a terminal Done event
// before returning. shutdown is the process-wide context passed to
// [Worker.Run]; s.ctx is the originating request's own context. Either
// ending the job early is reported as a terminal event, but shutdown
// takes a [apperr.KindShuttingDown] error while the caller's own
// cancellation is reported as [ReasonCancelled].
func (w *Worker) process(shutdown context.Context, s sink, job admission.Job[Request]) {
	events := s.events
	defer close(events)

	queueWait := time.Since(job.EnqueuedAt)
	w.recorder.ObserveQueueWait(queueWait)
	start := time.Now()

	if shutdown.Err() != nil {
		w.finish(s.ctx, events, 0, ReasonError, apperr.New(apperr.KindShuttingDown, "the server is shutting down"))
		return
	}

	ref, err := w.manager.Acquire()
	if err != nil {
		w.finish(s.ctx, events, 0, ReasonError, err)
		return
	}
	defer ref.Release()

	ctx := s.ctx
	decodeCtx := ref.Context()
	decodeCtx.Reset()

	status := w.manager.Status()
	prompt, stops := w.render(status.ModelPath, job.Payload)

	tokens, err := decodeCtx.Tokenize(prompt, true)
	if err != nil {
		w.finish(ctx, events, 0, ReasonError, apperr.Wrap(apperr.KindTokenizeError, "failed to tokenize prompt", err))
		return
	}
	if len(tokens) >= decodeCtx.Capacity() {
		w.finish(ctx, events, 0, ReasonError, apperr.New(apperr.KindContextOverflow, "prompt exceeds the model's context window"))
		return
	}

	if err := decodeCtx.Feed(ctx, tokens); err != nil {
		w.finish(ctx, events, 0, ReasonError, apperr.Wrap(apperr.KindBackendError, "failed to evaluate prompt", err))
		return
	}

	maxTokens := job.Payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = decodeCtx.Capacity() - len(tokens)
	}

	eosSet := make(map[int32]bool)
	for _, id := range ref.Model().EOSTokens() {
		eosSet[id] = true
	}

	chain := sampling.NewChain(job.Payload.Sampling, nil)
	utf8buf := &utf8Buffer{}
	stopBuf := newStopBuffer(stops)

	var (
		generated int
		reason    FinishReason
		firstTok  = true
	)

loop:
	for ; generated < maxTokens; generated++ {
		select {
		case <-ctx.Done():
			reason = ReasonCancelled
			break loop
		case <-shutdown.Done():
			w.emitRemainder(ctx, events, utf8buf, stopBuf)
			w.finish(ctx, events, generated, ReasonError, apperr.New(apperr.KindShuttingDown, "the server is shutting down"))
			return
		default:
		}

		logits, err := decodeCtx.Sample(ctx)
		if err != nil {
			w.emitRemainder(ctx, events, utf8buf, stopBuf)
			w.finish(ctx, events, generated, ReasonError, apperr.Wrap(apperr.KindBackendError, "sampling failed", err))
			return
		}
		token := chain.Sample(logits)

		if eosSet[token] {
			reason = ReasonStopEOS
			break loop
		}
		if decodeCtx.Position() >= decodeCtx.Capacity() {
			reason = ReasonStopMaxTokens
			break loop
		}

		piece, err := decodeCtx.DetokenizePiece(token)
		if err != nil {
			w.emitRemainder(ctx, events, utf8buf, stopBuf)
			w.finish(ctx, events, generated, ReasonError, apperr.Wrap(apperr.KindBackendError, "detokenize failed", err))
			return
		}

		if err := decodeCtx.Feed(ctx, []int32{token}); err != nil {
			w.emitRemainder(ctx, events, utf8buf, stopBuf)
			w.finish(ctx, events, generated, ReasonError, apperr.Wrap(apperr.KindBackendError, "failed to evaluate sampled token", err))
			return
		}

		ready := utf8buf.push(piece)
		if ready == "" {
			continue
		}

		emit, matched, _ := stopBuf.push(ready)
		if emit != "" {
			if firstTok {
				w.recorder.ObserveTimeToFirstToken(time.Since(start))
				firstTok = false
			}
			w.send(ctx, events, Event{Text: emit})
		}
		if matched {
			reason = ReasonStopString
			break loop
		}
	}

	if reason == "" {
		reason = ReasonStopMaxTokens
	}
	if reason != ReasonStopString {
		if tail := stopBuf.flush(); tail != "" {
			w.send(ctx, events, Event{Text: tail})
		}
	}
	if tail := utf8buf.flush(); tail != "" {
		w.send(ctx, events, Event{Text: tail})
	}

	w.recorder.ObserveJobDuration(time.Since(start))
	w.recorder.IncTokensGenerated(generated)
	w.recorder.IncJobOutcome(string(reason))

	w.finish(ctx, events, generated, reason, nil)
}

func (w *Worker) emitRemainder(ctx context.Context, events chan<- Event, u *utf8Buffer, s *stopBuffer) {
	if tail := s.flush(); tail != "" {
		w.send(ctx, events, Event{Text: tail})
	}
	if tail := u.flush(); tail != "" {
		w.send(ctx, events, Event{Text: tail})
	}
}

func (w *Worker) finish(ctx context.Context, events chan<- Event, generated int, reason FinishReason, err error) {
	w.send(ctx, events, Event{Done: true, Reason: reason, TokensGenerated: generated, Err: err})
}

func (w *Worker) render(modelPath string, req Request) (prompt string, stops []string) {
	if req.Raw != "" || len(req.Messages) == 0 {
		return req.Raw, dedupeStops(req.CallerStops)
	}
	family := req.TemplateFamily
	if family == "" {
		family = template.DetectFamily(modelPath)
	}
	return template.Render(family, req.Messages, req.CallerStops)
}

func dedupeStops(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

