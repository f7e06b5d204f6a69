package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/verification-runner/internal/model"
)

func TestDecode_Update(t *testing.T) {
	ev, err := Decode([]byte(`{
		"type": "task_completed",
		"status": "running",
		"percentage": 42.5,
		"processed": 17,
		"total": 40,
		"current_question": "q7",
		"estimated_time_remaining": 93.2,
		"in_progress_questions": ["q8", "q9"],
		"ema_seconds_per_item": 4.1
	}`))
	require.NoError(t, err)

	u, ok := ev.(Update)
	require.True(t, ok, "expected Update, got %T", ev)
	assert.Equal(t, TypeTaskCompleted, u.Type())
	assert.Equal(t, model.StatusRunning, *u.Status)
	assert.Equal(t, 42.5, *u.Percentage)
	assert.Equal(t, 17, *u.Processed)
	assert.Equal(t, 40, *u.Total)
	assert.Equal(t, "q7", *u.CurrentQuestion)
	assert.Equal(t, 93.2, *u.EstimatedTimeRemaining)
	assert.Equal(t, []string{"q8", "q9"}, *u.InProgressQuestions)
	assert.Equal(t, 4.1, *u.EMASecondsPerItem)
	assert.False(t, IsTerminal(ev))
}

func TestDecode_AbsentFieldsStayNil(t *testing.T) {
	ev, err := Decode([]byte(`{"type": "job_started", "total": 8, "current_question": null}`))
	require.NoError(t, err)
	u := ev.(Update)
	assert.Equal(t, 8, *u.Total)
	assert.Nil(t, u.Percentage)
	assert.Nil(t, u.CurrentQuestion)
	assert.Nil(t, u.InProgressQuestions)
}

func TestDecode_Terminal(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{name: "completed", frame: `{"type":"job_completed","job_id":"j1"}`, want: JobCompleted{JobID: "j1"}},
		{name: "failed", frame: `{"type":"job_failed","error":"rate limited"}`, want: JobFailed{Error: "rate limited"}},
		{name: "failed without reason", frame: `{"type":"job_failed"}`, want: JobFailed{Error: "verification job failed"}},
		{name: "cancelled", frame: `{"type":"job_cancelled"}`, want: JobCancelled{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
			assert.True(t, IsTerminal(ev))
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	for _, frame := range []string{`not json`, `{"status":"running"}`, `[]`, `{"type": 3}`} {
		_, err := Decode([]byte(frame))
		assert.True(t, errors.Is(err, ErrMalformedFrame), "frame %q: %v", frame, err)
	}

	_, err := Decode([]byte(`{"type":"heartbeat"}`))
	var unknown *UnknownEventError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "heartbeat", unknown.Type)
}

func TestURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{server: "http://localhost:8080", want: "ws://localhost:8080/ws/verification-progress/job-1"},
		{server: "https://bench.example.com/", want: "wss://bench.example.com/ws/verification-progress/job-1"},
		{server: "https://bench.example.com/prefix?x=1", want: "wss://bench.example.com/prefix/ws/verification-progress/job-1"},
	}
	for _, tt := range tests {
		got, err := URL(tt.server, "job-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := URL("ftp://nope", "job-1")
	assert.ErrorContains(t, err, "unsupported server url scheme")
}
