package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daryltucker/verification-runner/internal/metrics"
	"github.com/daryltucker/verification-runner/internal/output"
	"github.com/daryltucker/verification-runner/internal/progress"
	"github.com/daryltucker/verification-runner/internal/results"
	"github.com/daryltucker/verification-runner/internal/tracker"
)

var errChannelClosed = errors.New("progress channel closed before a terminal event")

// outcome is how one subscription ended.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeStopped
	outcomeLost
)

// loop follows jobID until a terminal phase, the liveness deadline, or stop.
func (o *Orchestrator) loop(ctx context.Context, jobID string, done chan<- struct{}) {
	defer close(done)
	defer o.setStream(nil, progress.HealthClosed)

	var liveness <-chan time.Time
	var timer *time.Timer
	if o.opts.LivenessTimeout > 0 {
		timer = time.NewTimer(o.opts.LivenessTimeout)
		defer timer.Stop()
		liveness = timer.C
	}
	touch := func() {
		if timer != nil {
			timer.Reset(o.opts.LivenessTimeout)
		}
	}

	failures := 0
	for {
		o.setStream(nil, progress.HealthConnecting)
		stream, err := o.subscriber.Subscribe(ctx, jobID)
		var res outcome
		var gotEvents bool
		if err == nil {
			o.setStream(stream, progress.HealthOpen)
			res, gotEvents, err = o.consume(ctx, jobID, stream, liveness, touch)
		} else {
			res = outcomeLost
		}

		if res != outcomeLost || ctx.Err() != nil || o.machine.Phase().Terminal() {
			return
		}

		o.setStream(nil, progress.HealthDisconnected)
		if gotEvents {
			failures = 0
		}
		failures++
		if failures > o.opts.MaxRetries {
			o.fail(fmt.Sprintf("progress channel lost: %v", err))
			return
		}

		metrics.ChannelReconnects.Inc()
		output.Logger.Warn("Progress channel lost, reconnecting", "job_id", jobID, "attempt", failures, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-liveness:
			o.fail(fmt.Sprintf("no progress event received within %s", o.opts.LivenessTimeout))
			return
		case <-time.After(o.opts.RetryDelay):
		}
	}
}

// consume applies the stream's events until it ends.
func (o *Orchestrator) consume(ctx context.Context, jobID string, stream progress.Stream, liveness <-chan time.Time, touch func()) (outcome, bool, error) {
	defer stream.Close()

	gotEvents := false
	for {
		select {
		case <-ctx.Done():
			return outcomeStopped, gotEvents, nil

		case <-liveness:
			o.fail(fmt.Sprintf("no progress event received within %s", o.opts.LivenessTimeout))
			return outcomeDone, gotEvents, nil

		case ev, ok := <-stream.Events():
			if !ok {
				err := stream.Err()
				if err == nil {
					err = errChannelClosed
				}
				return outcomeLost, gotEvents, err
			}
			gotEvents = true
			touch()

			applied, err := o.machine.Apply(ev)
			if err != nil {
				output.Logger.Warn("Progress event rejected", "job_id", jobID, "type", ev.Type(), "error", err)
				continue
			}
			if applied {
				o.publish()
			}

			switch e := ev.(type) {
			case progress.JobCompleted:
				if applied {
					_ = stream.Close()
					o.complete(ctx, jobID)
				}
				return outcomeDone, true, nil
			case progress.JobFailed:
				if applied {
					metrics.JobsFinished.WithLabelValues(string(tracker.PhaseFailed)).Inc()
					output.Logger.Error("Verification job failed", "job_id", jobID, "error", e.Error)
				}
				return outcomeDone, true, nil
			case progress.JobCancelled:
				if applied {
					metrics.JobsFinished.WithLabelValues(string(tracker.PhaseCancelled)).Inc()
					output.Logger.Info("Verification job cancelled by backend", "job_id", jobID)
				}
				return outcomeDone, true, nil
			}
			if o.machine.Phase().Terminal() {
				return outcomeDone, true, nil
			}
		}
	}
}

// complete fetches the authoritative results, merges them and finalizes.
func (o *Orchestrator) complete(ctx context.Context, jobID string) {
	var fetchErr error
	resp, err := o.backend.GetProgress(ctx, jobID)
	if err != nil {
		fetchErr = fmt.Errorf("failed to fetch results for job %s: %w", jobID, err)
		output.Logger.Error("Result fetch failed", "job_id", jobID, "error", err)
	} else {
		added := o.results.Merge(jobID, results.Flatten(resp.Results))
		output.Logger.Info("Verification job completed", "job_id", jobID, "results", len(resp.Results), "added", added)
	}

	if err := o.machine.Finalize(fetchErr); err != nil {
		output.Logger.Warn("Finalize rejected", "job_id", jobID, "error", err)
	}
	metrics.JobsFinished.WithLabelValues(string(tracker.PhaseCompleted)).Inc()
	o.publish()
}
