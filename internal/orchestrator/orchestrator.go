/*
PURPOSE:
  Drives one verification run at a time: builds the run matrix, submits it,
  follows the job over the progress channel, and merges the authoritative
  results once the backend reports completion.

REQUIREMENTS:
  User-specified:
  - An empty selection is rejected before any network call.
  - A failure never leaves the phase in running.
  - Cancellation is optimistic: local state is cancelled immediately and the
    backend request is best-effort.
  - Starting a run never clears earlier results.

  Implementation-discovered:
  - The channel can drop without a terminal event; it is redialled up to
    MaxRetries times before the run fails.
  - A backend that never sends a terminal event is bounded by LivenessTimeout.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/matrix, internal/tracker, internal/progress, internal/results,
    internal/metrics, internal/output

ERROR HANDLING:
  - Validation and submission errors are returned from Start.
  - Everything after submission is reported through the snapshot's Error.

IMPLEMENTATION RULES:
  - One event-loop goroutine per run feeds events into the tracker in order.
  - OnSnapshot may be called from the caller's goroutine and the loop goroutine.

USAGE:
  o := orchestrator.New(opts, state, cp, engine.New(cfg), dialer, coll)
  handle, err := o.Start(ctx)
  snap, err := o.Wait(ctx)
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daryltucker/verification-runner/internal/matrix"
	"github.com/daryltucker/verification-runner/internal/metrics"
	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
	"github.com/daryltucker/verification-runner/internal/progress"
	"github.com/daryltucker/verification-runner/internal/results"
	"github.com/daryltucker/verification-runner/internal/tracker"
)

// InputSource is the read side of the configuration state.
type InputSource interface {
	Inputs() matrix.Selection
}

// Backend is the job API of the evaluation service.
type Backend interface {
	StartVerification(ctx context.Context, req *model.RunMatrixRequest) (model.JobHandle, error)
	CancelVerification(ctx context.Context, jobID string) error
	GetProgress(ctx context.Context, jobID string) (*model.ProgressResponse, error)
}

// Subscriber opens a progress channel for a job.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (progress.Stream, error)
}

var (
	// ErrRunInFlight is returned by Start while another run is live.
	ErrRunInFlight = errors.New("a verification run is already in progress")
	// ErrCancelledDuringSubmit is returned by Start when Cancel won the race
	// against the submission call.
	ErrCancelledDuringSubmit = errors.New("run cancelled during submission")
)

type Options struct {
	// LivenessTimeout fails the run when no event arrives for this long.
	// Zero disables the check.
	LivenessTimeout time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	// CancelTimeout bounds the best-effort cancel request.
	CancelTimeout time.Duration
	OnSnapshot    func(tracker.Snapshot)
}

type Orchestrator struct {
	opts       Options
	inputs     InputSource
	checkpoint model.Checkpoint
	backend    Backend
	subscriber Subscriber
	results    *results.Collection
	machine    *tracker.Machine

	startMu sync.Mutex

	mu     sync.Mutex
	stream progress.Stream
	health progress.Health
	stop   context.CancelFunc
	done   chan struct{}

	pending sync.WaitGroup
}

func New(opts Options, inputs InputSource, cp model.Checkpoint, backend Backend, sub Subscriber, coll *results.Collection) *Orchestrator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 30 * time.Second
	}
	if coll == nil {
		coll = results.NewCollection()
	}
	return &Orchestrator{
		opts:       opts,
		inputs:     inputs,
		checkpoint: cp,
		backend:    backend,
		subscriber: sub,
		results:    coll,
		machine:    tracker.New(),
		health:     progress.HealthClosed,
	}
}

// Results is the collection runs are merged into.
func (o *Orchestrator) Results() *results.Collection { return o.results }

func (o *Orchestrator) Phase() tracker.Phase { return o.machine.Phase() }

func (o *Orchestrator) Snapshot() tracker.Snapshot { return o.machine.Snapshot() }

// ChannelHealth reports the progress channel state, independent of job status.
func (o *Orchestrator) ChannelHealth() progress.Health {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		return o.stream.Health()
	}
	return o.health
}

// Start validates the current selection, submits it and begins following the
// job. It returns once the backend has accepted the job.
func (o *Orchestrator) Start(ctx context.Context) (model.JobHandle, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if o.machine.Live() {
		return model.JobHandle{}, ErrRunInFlight
	}

	req, err := matrix.Build(o.inputs.Inputs(), o.checkpoint)
	if err != nil {
		return model.JobHandle{}, err
	}

	o.waitLoop()
	if err := o.machine.Reset(); err != nil {
		return model.JobHandle{}, fmt.Errorf("%w: %v", ErrRunInFlight, err)
	}
	if err := o.machine.BeginSubmit(); err != nil {
		return model.JobHandle{}, fmt.Errorf("%w: %v", ErrRunInFlight, err)
	}
	o.publish()

	h, err := o.backend.StartVerification(ctx, req)
	if err != nil {
		if serr := o.machine.SubmissionFailed(err); serr != nil {
			// Cancelled while the request was in flight.
			output.Logger.Debug("Submission failed after cancel", "error", err)
		}
		o.publish()
		return model.JobHandle{}, err
	}

	if err := o.machine.Submitted(h); err != nil {
		output.Logger.Warn("Job accepted after the run was cancelled; cancelling it", "job_id", h.JobID)
		o.cancelRemote(ctx, h.JobID)
		return h, ErrCancelledDuringSubmit
	}
	o.publish()

	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.mu.Lock()
	o.stop = stop
	o.done = done
	if o.machine.Phase() == tracker.PhaseCancelled {
		// Cancel ran after acceptance and already sent the backend request.
		o.mu.Unlock()
		stop()
		close(done)
		return h, ErrCancelledDuringSubmit
	}
	o.health = progress.HealthConnecting
	o.mu.Unlock()

	go o.loop(loopCtx, h.JobID, done)
	return h, nil
}

// Cancel forces the live run into cancelled, closes its channel and asks the
// backend to stop the job in the background. It reports whether a run was
// cancelled.
func (o *Orchestrator) Cancel(ctx context.Context) bool {
	jobID, ok := o.machine.Cancel()
	if !ok {
		return false
	}
	metrics.JobsFinished.WithLabelValues(string(tracker.PhaseCancelled)).Inc()
	output.Logger.Info("Verification run cancelled", "job_id", jobID)
	o.publish()

	o.mu.Lock()
	if o.stop != nil {
		o.stop()
	}
	if o.stream != nil {
		_ = o.stream.Close()
	}
	o.mu.Unlock()

	if jobID != "" {
		o.cancelRemote(ctx, jobID)
	}
	return true
}

func (o *Orchestrator) cancelRemote(ctx context.Context, jobID string) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CancelTimeout)
		defer cancel()
		if err := o.backend.CancelVerification(cctx, jobID); err != nil {
			output.Logger.Warn("Cancel request failed", "job_id", jobID, "error", err)
			return
		}
		output.Logger.Debug("Cancel request acknowledged", "job_id", jobID)
	}()
}

// Wait blocks until the current run is final or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) (tracker.Snapshot, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return o.machine.Snapshot(), ctx.Err()
		}
	}
	return o.machine.Snapshot(), nil
}

// Close cancels a live run, stops the event loop and returns to idle.
func (o *Orchestrator) Close() error {
	o.Cancel(context.Background())
	o.waitLoop()
	o.pending.Wait()
	return o.machine.Reset()
}

func (o *Orchestrator) waitLoop() {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.mu.Unlock()
	if done == nil {
		return
	}
	stop()
	<-done
}

func (o *Orchestrator) publish() {
	if o.opts.OnSnapshot != nil {
		o.opts.OnSnapshot(o.machine.Snapshot())
	}
}

func (o *Orchestrator) setStream(s progress.Stream, h progress.Health) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream = s
	o.health = h
}

func (o *Orchestrator) fail(reason string) {
	if o.machine.Fail(reason) {
		metrics.JobsFinished.WithLabelValues(string(tracker.PhaseFailed)).Inc()
		output.Logger.Error("Verification run failed", "reason", reason)
		o.publish()
	}
}
