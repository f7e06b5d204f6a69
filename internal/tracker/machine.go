// Package tracker reduces a job's progress events into a single snapshot and
// owns the run phase.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
	"github.com/daryltucker/verification-runner/internal/progress"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether p is one of completed, failed or cancelled.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhaseIdle: {
		PhaseSubmitting: {},
	},
	PhaseSubmitting: {
		PhaseIdle:      {},
		PhaseRunning:   {},
		PhaseCompleted: {},
		PhaseFailed:    {},
		PhaseCancelled: {},
	},
	PhaseRunning: {
		PhaseRunning:   {},
		PhaseCompleted: {},
		PhaseFailed:    {},
		PhaseCancelled: {},
	},
	PhaseCompleted: {
		PhaseIdle: {},
	},
	PhaseFailed: {
		PhaseIdle: {},
	},
	PhaseCancelled: {
		PhaseIdle: {},
	},
}

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrLiveJob is returned by Reset while a job is still submitting, running
	// or awaiting its result fetch.
	ErrLiveJob = errors.New("a verification job is still live")
)

func ValidatePhase(p Phase) error {
	if _, ok := allowedTransitions[p]; !ok {
		return fmt.Errorf("invalid phase: %q", p)
	}
	return nil
}

func ValidateTransition(from, to Phase) error {
	if err := ValidatePhase(from); err != nil {
		return err
	}
	if err := ValidatePhase(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Snapshot is the current progress of one job as seen by the client.
type Snapshot struct {
	JobID                  string          `json:"job_id,omitempty"`
	Phase                  Phase           `json:"phase"`
	Status                 model.JobStatus `json:"status,omitempty"`
	Processed              int             `json:"processed_count"`
	Total                  int             `json:"total_count"`
	Percentage             float64         `json:"percentage"`
	CurrentQuestion        string          `json:"current_question,omitempty"`
	InProgressQuestions    []string        `json:"in_progress_questions,omitempty"`
	EstimatedTimeRemaining *float64        `json:"estimated_time_remaining,omitempty"`
	SmoothedRate           *float64        `json:"ema_seconds_per_item,omitempty"`
	Error                  string          `json:"error,omitempty"`
	SubmittedAt            time.Time       `json:"submitted_at,omitzero"`
	UpdatedAt              time.Time       `json:"updated_at,omitzero"`
}

// Machine is the progress state machine. All methods are safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	phase Phase
	snap  Snapshot
	// final is set once a terminal phase needs nothing more; a completed job
	// becomes final only after its results were fetched.
	final bool
	now   func() time.Time
}

func New() *Machine {
	return &Machine{
		phase: PhaseIdle,
		snap:  Snapshot{Phase: PhaseIdle},
		now:   time.Now,
	}
}

// transition must be called with mu held.
func (m *Machine) transition(to Phase) error {
	if err := ValidateTransition(m.phase, to); err != nil {
		return err
	}
	if m.phase != to {
		output.Logger.Info("Verification phase changed", "job_id", m.snap.JobID, "from", m.phase, "to", to)
	}
	m.phase = to
	m.snap.Phase = to
	m.snap.UpdatedAt = m.now()
	return nil
}

// BeginSubmit moves idle to submitting and starts a fresh snapshot.
func (m *Machine) BeginSubmit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(PhaseSubmitting); err != nil {
		return err
	}
	m.snap = Snapshot{Phase: PhaseSubmitting, UpdatedAt: m.snap.UpdatedAt}
	m.final = false
	return nil
}

// Submitted records the accepted job. The phase stays submitting until the
// first channel event arrives.
func (m *Machine) Submitted(h model.JobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSubmitting {
		return fmt.Errorf("%w: job accepted while %s", ErrInvalidTransition, m.phase)
	}
	m.snap.JobID = h.JobID
	m.snap.SubmittedAt = h.SubmittedAt
	m.snap.Status = model.StatusQueued
	m.snap.UpdatedAt = m.now()
	return nil
}

// SubmissionFailed returns to idle, keeping err as the user-visible error.
func (m *Machine) SubmissionFailed(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSubmitting {
		return fmt.Errorf("%w: submission failed while %s", ErrInvalidTransition, m.phase)
	}
	if terr := m.transition(PhaseIdle); terr != nil {
		return terr
	}
	m.snap.JobID = ""
	m.snap.Status = ""
	if err != nil {
		m.snap.Error = err.Error()
	}
	return nil
}

// Apply feeds one channel event into the machine. Events that arrive after a
// terminal phase are ignored and reported as not applied.
func (m *Machine) Apply(ev progress.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase.Terminal() {
		output.Logger.Debug("Ignoring event after terminal phase", "job_id", m.snap.JobID, "phase", m.phase, "type", ev.Type())
		return false, nil
	}

	switch e := ev.(type) {
	case progress.Update:
		if err := m.transition(PhaseRunning); err != nil {
			return false, err
		}
		m.applyUpdate(e)
	case progress.JobCompleted:
		if err := m.transition(PhaseCompleted); err != nil {
			return false, err
		}
		m.snap.Status = model.StatusCompleted
		m.snap.Percentage = 100
		m.snap.InProgressQuestions = nil
		m.snap.CurrentQuestion = ""
		if m.snap.Total > 0 {
			m.snap.Processed = m.snap.Total
		}
		m.final = false
	case progress.JobFailed:
		if err := m.transition(PhaseFailed); err != nil {
			return false, err
		}
		m.snap.Status = model.StatusFailed
		m.snap.Error = e.Error
		m.snap.InProgressQuestions = nil
		m.final = true
	case progress.JobCancelled:
		if err := m.transition(PhaseCancelled); err != nil {
			return false, err
		}
		m.snap.Status = model.StatusCancelled
		m.snap.InProgressQuestions = nil
		m.final = true
	default:
		return false, fmt.Errorf("unhandled progress event %T", ev)
	}
	return true, nil
}

func (m *Machine) applyUpdate(u progress.Update) {
	m.snap.Status = model.StatusRunning
	if u.Status != nil && !u.Status.Terminal() {
		m.snap.Status = *u.Status
	}
	if u.Processed != nil {
		m.snap.Processed = *u.Processed
	}
	if u.Total != nil {
		m.snap.Total = *u.Total
	}
	switch {
	case u.Percentage != nil:
		m.snap.Percentage = *u.Percentage
	case u.Processed != nil && m.snap.Total > 0:
		m.snap.Percentage = float64(m.snap.Processed) / float64(m.snap.Total) * 100
	}
	if u.CurrentQuestion != nil {
		m.snap.CurrentQuestion = *u.CurrentQuestion
	}
	if u.InProgressQuestions != nil {
		m.snap.InProgressQuestions = append([]string(nil), (*u.InProgressQuestions)...)
	}
	if u.EstimatedTimeRemaining != nil {
		v := *u.EstimatedTimeRemaining
		m.snap.EstimatedTimeRemaining = &v
	}
	if u.EMASecondsPerItem != nil {
		v := *u.EMASecondsPerItem
		m.snap.SmoothedRate = &v
	}
}

// Cancel forces the cancelled phase without waiting for the backend. It
// returns the job id known at that moment, empty while the submission is still
// unanswered, and reports false when there was no live job to cancel.
func (m *Machine) Cancel() (jobID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSubmitting && m.phase != PhaseRunning {
		return "", false
	}
	if err := m.transition(PhaseCancelled); err != nil {
		return "", false
	}
	m.snap.Status = model.StatusCancelled
	m.snap.InProgressQuestions = nil
	m.final = true
	return m.snap.JobID, true
}

// Fail moves a live job to failed with reason as the user-visible error.
func (m *Machine) Fail(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSubmitting && m.phase != PhaseRunning {
		return false
	}
	if err := m.transition(PhaseFailed); err != nil {
		return false
	}
	m.snap.Status = model.StatusFailed
	m.snap.Error = reason
	m.snap.InProgressQuestions = nil
	m.final = true
	return true
}

// Finalize marks a completed job final once its results were fetched. A fetch
// error is kept as the user-visible error; the phase stays completed.
func (m *Machine) Finalize(fetchErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseCompleted || m.final {
		return fmt.Errorf("%w: finalize while %s", ErrInvalidTransition, m.phase)
	}
	if fetchErr != nil {
		m.snap.Error = fetchErr.Error()
	}
	m.final = true
	m.snap.UpdatedAt = m.now()
	return nil
}

// Reset returns a finished machine to idle.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseIdle {
		m.snap = Snapshot{Phase: PhaseIdle}
		return nil
	}
	if !m.phase.Terminal() || !m.final {
		return fmt.Errorf("%w (%s)", ErrLiveJob, m.phase)
	}
	if err := m.transition(PhaseIdle); err != nil {
		return err
	}
	m.snap = Snapshot{Phase: PhaseIdle}
	m.final = false
	return nil
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Final reports whether the job has reached a terminal phase with nothing pending.
func (m *Machine) Final() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase.Terminal() && m.final
}

// Live reports whether a job is submitting, running or awaiting its result fetch.
func (m *Machine) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseSubmitting || m.phase == PhaseRunning || (m.phase == PhaseCompleted && !m.final)
}

// Snapshot returns a copy of the current snapshot.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.snap
	s.InProgressQuestions = append([]string(nil), m.snap.InProgressQuestions...)
	if len(s.InProgressQuestions) == 0 {
		s.InProgressQuestions = nil
	}
	if m.snap.EstimatedTimeRemaining != nil {
		v := *m.snap.EstimatedTimeRemaining
		s.EstimatedTimeRemaining = &v
	}
	if m.snap.SmoothedRate != nil {
		v := *m.snap.SmoothedRate
		s.SmoothedRate = &v
	}
	return s
}
