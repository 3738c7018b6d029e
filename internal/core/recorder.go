package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/store"
)

// Recorder receives call lifecycle writes from the hub.
// Implementations must not block the caller.
type Recorder interface {
	RecordCreated(call store.Call)
	RecordStatus(callID string, status store.CallStatus, reason store.EndReason, at time.Time)
}

type recordOp int

const (
	opCreate recordOp = iota
	opUpdate
)

func (o recordOp) String() string {
	if o == opCreate {
		return "create"
	}
	return "update"
}

type recordJob struct {
	op     recordOp
	call   store.Call
	callID string
	status store.CallStatus
	reason store.EndReason
	at     time.Time
}

// CallRecorder applies call writes to a store on a background worker,
// in submission order, retrying failed writes with linear backoff.
type CallRecorder struct {
	store   store.CallStore
	log     *zerolog.Logger
	metrics *metrics.Metrics
	retries int
	backoff time.Duration
	queue   chan recordJob
	done    chan struct{}
}

// RecorderOption configures a CallRecorder.
type RecorderOption func(*CallRecorder)

// WithRetries sets how many times a failed write is retried.
func WithRetries(retries int, backoff time.Duration) RecorderOption {
	return func(r *CallRecorder) {
		if retries >= 0 {
			r.retries = retries
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// WithRecorderMetrics reports retries and abandoned writes.
func WithRecorderMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *CallRecorder) {
		r.metrics = m
	}
}

// NewCallRecorder creates a recorder. Run must be started for writes to be applied.
func NewCallRecorder(st store.CallStore, logger *zerolog.Logger, opts ...RecorderOption) *CallRecorder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &CallRecorder{
		store:   st,
		log:     logger,
		retries: 3,
		backoff: 200 * time.Millisecond,
		queue:   make(chan recordJob, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordCreated queues the initial record of a call.
func (r *CallRecorder) RecordCreated(call store.Call) {
	r.enqueue(recordJob{op: opCreate, call: call, callID: call.ID})
}

// RecordStatus queues a status change.
func (r *CallRecorder) RecordStatus(callID string, status store.CallStatus, reason store.EndReason, at time.Time) {
	r.enqueue(recordJob{op: opUpdate, callID: callID, status: status, reason: reason, at: at})
}

func (r *CallRecorder) enqueue(job recordJob) {
	select {
	case r.queue <- job:
	default:
		r.log.Error().
			Str("call_id", job.callID).
			Str("op", job.op.String()).
			Msg("call recorder queue full, dropping write")
		r.metrics.PersistFailed(job.op.String())
	}
}

// Run applies queued writes until ctx is canceled, then drains what is left.
func (r *CallRecorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case job := <-r.queue:
			r.apply(ctx, job)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

// Done is closed after Run has returned.
func (r *CallRecorder) Done() <-chan struct{} {
	return r.done
}

func (r *CallRecorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case job := <-r.queue:
			r.apply(ctx, job)
		default:
			return
		}
	}
}

func (r *CallRecorder) apply(ctx context.Context, job recordJob) {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			r.metrics.PersistRetried()
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				// Shutdown: one last try below without waiting.
			}
		}
		if err = r.write(ctx, job); err == nil {
			return
		}
		r.log.Warn().
			Err(err).
			Str("call_id", job.callID).
			Str("op", job.op.String()).
			Int("attempt", attempt+1).
			Msg("call record write failed")
		if ctx.Err() != nil {
			break
		}
	}
	r.log.Error().
		Err(err).
		Str("call_id", job.callID).
		Str("op", job.op.String()).
		Str("status", string(job.status)).
		Msg("giving up on call record write")
	r.metrics.PersistFailed(job.op.String())
}

func (r *CallRecorder) write(ctx context.Context, job recordJob) error {
	switch job.op {
	case opCreate:
		call := job.call
		return r.store.CreateCall(ctx, &call)
	default:
		return r.store.UpdateCallStatus(ctx, job.callID, job.status, job.reason, job.at)
	}
}

var _ Recorder = (*CallRecorder)(nil)
