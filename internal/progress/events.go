package progress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daryltucker/verification-runner/internal/model"
)

// EventType is the "type" discriminator of a progress frame.
type EventType string

const (
	TypeSnapshot      EventType = "snapshot"
	TypeJobStarted    EventType = "job_started"
	TypeTaskStarted   EventType = "task_started"
	TypeTaskCompleted EventType = "task_completed"
	TypeJobCompleted  EventType = "job_completed"
	TypeJobFailed     EventType = "job_failed"
	TypeJobCancelled  EventType = "job_cancelled"
)

// Event is one decoded progress frame. The set of implementations is closed:
// Update, JobCompleted, JobFailed and JobCancelled.
type Event interface {
	Type() EventType
	isEvent()
}

// Update is an incremental progress event. Nil fields were absent from the frame
// and leave the corresponding snapshot field untouched.
type Update struct {
	Kind                   EventType
	Status                 *model.JobStatus
	Percentage             *float64
	Processed              *int
	Total                  *int
	CurrentQuestion        *string
	EstimatedTimeRemaining *float64
	InProgressQuestions    *[]string
	EMASecondsPerItem      *float64
}

// JobCompleted is terminal; results must be fetched over HTTP.
type JobCompleted struct {
	JobID string
}

// JobFailed is terminal and carries the backend's failure reason.
type JobFailed struct {
	Error string
}

// JobCancelled is the backend's confirmation of a cancellation.
type JobCancelled struct{}

func (e Update) Type() EventType { return e.Kind }
func (JobCompleted) Type() EventType { return TypeJobCompleted }
func (JobFailed) Type() EventType { return TypeJobFailed }
func (JobCancelled) Type() EventType { return TypeJobCancelled }
func (Update) isEvent() {}
func (JobCompleted) isEvent() {}
func (JobFailed) isEvent() {}
func (JobCancelled) isEvent() {}

// IsTerminal reports whether ev ends the job.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ErrMalformedFrame is returned for frames that are not a JSON object with a type.
var ErrMalformedFrame = errors.New("malformed progress frame")

// UnknownEventError is returned for well-formed frames with an unrecognised type.
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown progress event type %q", e.Type)
}

type frame struct {
	Type                   string           `json:"type"`
	JobID                  string           `json:"job_id"`
	Status                 *model.JobStatus `json:"status"`
	Percentage             *float64         `json:"percentage"`
	Processed              *int             `json:"processed"`
	Total                  *int             `json:"total"`
	CurrentQuestion        *string          `json:"current_question"`
	EstimatedTimeRemaining *float64         `json:"estimated_time_remaining"`
	InProgressQuestions    *[]string        `json:"in_progress_questions"`
	EMASecondsPerItem      *float64         `json:"ema_seconds_per_item"`
	Error                  *string          `json:"error"`
}

// Decode parses one frame into its typed event.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	switch EventType(f.Type) {
	case TypeSnapshot, TypeJobStarted, TypeTaskStarted, TypeTaskCompleted:
		return Update{
			Kind:                   EventType(f.Type),
			Status:                 f.Status,
			Percentage:             f.Percentage,
			Processed:              f.Processed,
			Total:                  f.Total,
			CurrentQuestion:        f.CurrentQuestion,
			EstimatedTimeRemaining: f.EstimatedTimeRemaining,
			InProgressQuestions:    f.InProgressQuestions,
			EMASecondsPerItem:      f.EMASecondsPerItem,
		}, nil
	case TypeJobCompleted:
		return JobCompleted{JobID: f.JobID}, nil
	case TypeJobFailed:
		msg := "verification job failed"
		if f.Error != nil && *f.Error != "" {
			msg = *f.Error
		}
		return JobFailed{Error: msg}, nil
	case TypeJobCancelled:
		return JobCancelled{}, nil
	default:
		return nil, &UnknownEventError{Type: f.Type}
	}
}
