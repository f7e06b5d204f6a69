/*
PURPOSE:
  HTTP client for the evaluation backend's job API.
  Submits run matrices, cancels jobs and fetches the authoritative progress
  snapshot (including results once a job has completed).

REQUIREMENTS:
  User-specified:
  - Submission performs exactly one network call.
  - Non-2xx responses surface the server's {detail} when available, else a
    generic status-code message.
  - Cancellation is best-effort.

  Implementation-discovered:
  - FastAPI returns detail as a string, a list of validation items, or an object.
  - The progress fetch runs after job_completed and must tolerate a backend
    that is briefly unavailable, so it retries transport errors and 5xx.

ARCHITECTURE INTEGRATION:
  - Called by: internal/orchestrator, internal/cli
  - Uses: internal/config, internal/model, internal/metrics, internal/output

ERROR HANDLING:
  - Backend rejections are *APIError; Error() is the user-visible banner text.
  - Transport errors are wrapped with the operation name.

IMPLEMENTATION RULES:
  - Use net/http with a cloned transport and explicit timeouts.
  - Every request carries an X-Request-ID.

USAGE:
  c := engine.New(cfg)
  handle, err := c.StartVerification(ctx, req)
  snap, err := c.GetProgress(ctx, handle.JobID)

SELF-HEALING INSTRUCTIONS:
  - If the backend API changes, update the endpoint paths below.

RELATED FILES:
  - internal/config/config.go
  - internal/model/types.go

MAINTENANCE:
  - Keep the detail parsing in step with the backend's error responses.
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daryltucker/verification-runner/internal/config"
	"github.com/daryltucker/verification-runner/internal/metrics"
	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
)

const (
	startPath    = "/api/start-verification"
	cancelPath   = "/api/cancel-verification/"
	progressPath = "/api/verification-progress/"
)

// Client talks to the evaluation backend.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// New creates a Client from the loaded configuration.
func New(cfg *config.Config) *Client {
	// ResponseHeaderTimeout separates a backend that accepted the connection
	// but hangs before answering from a slow body.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout

	return &Client{
		BaseURL: strings.TrimSuffix(cfg.ServerURL, "/"),
		HTTP: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.StatusCode)
}

// StartVerification submits the run matrix as a single job.
func (c *Client) StartVerification(ctx context.Context, req *model.RunMatrixRequest) (model.JobHandle, error) {
	if req == nil {
		return model.JobHandle{}, errors.New("verification start: nil request")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return model.JobHandle{}, fmt.Errorf("failed to encode run request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, startPath, body)
	if err != nil {
		return model.JobHandle{}, fmt.Errorf("verification start: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.JobHandle{}, newAPIError("verification start", resp)
	}

	var out model.StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.JobHandle{}, fmt.Errorf("verification start: invalid response: %w", err)
	}
	if out.JobID == "" {
		return model.JobHandle{}, errors.New("verification start: backend returned no job_id")
	}

	metrics.JobsSubmitted.Inc()
	output.Logger.Info("Verification job submitted", "job_id", out.JobID, "status", out.Status,
		"questions", len(req.QuestionIDs), "run_name", req.RunName)
	return model.JobHandle{JobID: out.JobID, SubmittedAt: time.Now()}, nil
}

// CancelVerification asks the backend to stop the job. It is not retried.
func (c *Client) CancelVerification(ctx context.Context, jobID string) error {
	resp, err := c.do(ctx, http.MethodPost, cancelPath+url.PathEscape(jobID), nil)
	if err != nil {
		return fmt.Errorf("verification cancel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError("verification cancel", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetProgress fetches the authoritative snapshot for the job. Transport errors
// and 5xx responses are retried up to MaxRetries attempts.
func (c *Client) GetProgress(ctx context.Context, jobID string) (*model.ProgressResponse, error) {
	attempts := c.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			output.Logger.Info("Retrying progress fetch...", "job_id", jobID, "attempt", i+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}

		snap, retry, err := c.getProgressOnce(ctx, jobID)
		if err == nil {
			return snap, nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) getProgressOnce(ctx context.Context, jobID string) (*model.ProgressResponse, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, progressPath+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, true, fmt.Errorf("progress fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, newAPIError("progress fetch", resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, newAPIError("progress fetch", resp)
	}

	var out model.ProgressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("progress fetch: invalid response: %w", err)
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, false, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	requestID := uuid.NewString()
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			output.Logger.Debug("Network: Connected", "remote", info.Conn.RemoteAddr(), "reused", info.Reused, "request_id", requestID)
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	output.Logger.Debug("Backend request", "method", method, "path", path, "request_id", requestID)
	return c.HTTP.Do(req)
}

func newAPIError(op string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Detail: ParseDetail(data)}
}

// ParseDetail extracts a readable message from a {"detail": ...} error body.
// It returns "" when the body carries no usable detail.
func ParseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg == "" {
				continue
			}
			if loc := joinLoc(it.Loc); loc != "" {
				msgs = append(msgs, loc+": "+it.Msg)
			} else {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	var obj map[string]any
	if err := json.Unmarshal(payload.Detail, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return msg
		}
		return string(payload.Detail)
	}
	return ""
}

func joinLoc(loc []any) string {
	parts := make([]string, 0, len(loc))
	for _, p := range loc {
		if s, ok := p.(string); ok && s == "body" {
			continue
		}
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ".")
}
