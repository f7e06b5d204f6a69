package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/verification-runner/internal/config"
	"github.com/daryltucker/verification-runner/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.ServerURL = srv.URL + "/"
	cfg.RequestTimeout = 2 * time.Second
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Millisecond
	return New(cfg)
}

func sampleRequest() *model.RunMatrixRequest {
	return &model.RunMatrixRequest{
		Config: model.VerificationConfig{
			AnsweringModels: []model.ModelConfiguration{{ID: "a", ModelName: "gpt-4.1-mini", Interface: model.InterfaceLangchain}},
			ParsingModels:   []model.ModelConfiguration{{ID: "p", ModelName: "gpt-4.1-nano", Interface: model.InterfaceLangchain}},
			ReplicateCount:  1,
			EvaluationMode:  "template_only",
		},
		QuestionIDs: []string{"q1", "q2"},
		RunName:     "nightly",
	}
}

func TestStartVerification(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/start-verification", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		var got model.RunMatrixRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, []string{"q1", "q2"}, got.QuestionIDs)
		assert.Equal(t, "nightly", got.RunName)

		_ = json.NewEncoder(w).Encode(model.StartResponse{JobID: "job-42", Status: "queued"})
	}))

	before := time.Now()
	h, err := c.StartVerification(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "job-42", h.JobID)
	assert.False(t, h.SubmittedAt.Before(before))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStartVerification_ErrorDetail(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "string detail", status: http.StatusBadRequest, body: `{"detail":"No finished templates supplied"}`, want: "No finished templates supplied"},
		{
			name:   "validation list",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["body","config","replicate_count"],"msg":"must be <= 10","type":"value_error"},{"loc":["body","question_ids",0],"msg":"unknown id"}]}`,
			want:   "config.replicate_count: must be <= 10; question_ids.0: unknown id",
		},
		{name: "object with message", status: http.StatusConflict, body: `{"detail":{"message":"job queue full","retry_after":30}}`, want: "job queue full"},
		{name: "no detail", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, want: "verification start failed: HTTP 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := c.StartVerification(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, int32(1), calls.Load(), "submission is never retried")
		})
	}
}

func TestStartVerification_MissingJobID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	_, err := c.StartVerification(context.Background(), sampleRequest())
	assert.ErrorContains(t, err, "no job_id")
}

func TestCancelVerification(t *testing.T) {
	var path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, c.CancelVerification(context.Background(), "job-7"))
	assert.Equal(t, "/api/cancel-verification/job-7", path)

	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Job not found"}`))
	}))
	assert.EqualError(t, c.CancelVerification(context.Background(), "job-7"), "Job not found")
}

func TestGetProgress_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/verification-progress/job-1", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{
			"job_id": "job-1",
			"status": "completed",
			"percentage": 100,
			"processed_count": 2,
			"total_count": 2,
			"results": {
				"q1": {"question_id": "q1", "completed_without_errors": true, "verify_result": true, "timestamp": "2026-10-18T10:00:00Z"},
				"q2": {"question_id": "q2", "completed_without_errors": false, "error": "timeout"}
			}
		}`))
	}))

	snap, err := c.GetProgress(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, model.StatusCompleted, snap.Status)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, model.ResultPass, snap.Results["q1"].Status())
	assert.Equal(t, model.ResultError, snap.Results["q2"].Status())
}

func TestGetProgress_GivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := c.GetProgress(context.Background(), "job-1")
	assert.EqualError(t, err, "progress fetch failed: HTTP 500")
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err = c.GetProgress(context.Background(), "job-1")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestParseDetail(t *testing.T) {
	assert.Equal(t, "", ParseDetail(nil))
	assert.Equal(t, "", ParseDetail([]byte(`{"detail":null}`)))
	assert.Equal(t, "boom", ParseDetail([]byte(`{"detail":" boom "}`)))
	assert.Equal(t, `{"code":7}`, ParseDetail([]byte(`{"detail":{"code":7}}`)))
}
