/*
PURPOSE:
  Defines the core data structures shared by the verification runner.
  These models mirror the evaluation backend's wire format: model
  configurations, checkpoint records, run requests, job progress and
  per-task verification results.

REQUIREMENTS:
  User-specified:
  - One result per (question, answering model, parsing model, replicate).
  - Carry pass/fail/abstention/error status, timing, token usage, rubric scores.

  Implementation-discovered:
  - Optional wire fields use pointers or omitempty so a round-trip keeps
    "unset" distinct from "zero".
  - Backend timestamps are strings; they are part of the result identity.

ARCHITECTURE INTEGRATION:
  - Used by: internal/matrix, internal/engine, internal/progress,
    internal/tracker, internal/results, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None here (pure data structs). Validation lives in validate.go.

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - JSON tags must match the backend's snake_case field names.

RELATED FILES:
  - internal/model/validate.go
  - internal/output/csv.go

MAINTENANCE:
  - Update when the backend adds fields to results or progress payloads.
*/

package model

import (
	"time"
)

// Interface selects how the backend reaches a model.
type Interface string

const (
	InterfaceLangchain      Interface = "langchain"
	InterfaceOpenRouter     Interface = "openrouter"
	InterfaceOpenAIEndpoint Interface = "openai_endpoint"
	InterfaceManual         Interface = "manual"
)

// ModelConfiguration describes one answering or parsing model.
type ModelConfiguration struct {
	ID              string    `json:"id" yaml:"id" validate:"required"`
	ModelProvider   string    `json:"model_provider" yaml:"model_provider"`
	ModelName       string    `json:"model_name" yaml:"model_name" validate:"required"`
	Temperature     float64   `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Interface       Interface `json:"interface" yaml:"interface" validate:"required,oneof=langchain openrouter openai_endpoint manual"`
	EndpointBaseURL string    `json:"endpoint_base_url,omitempty" yaml:"endpoint_base_url" validate:"omitempty,url"`
	APIKey          string    `json:"endpoint_api_key,omitempty" yaml:"api_key"`
	SystemPrompt    string    `json:"system_prompt,omitempty" yaml:"system_prompt"`
}

// FewShotExample is one authored question/answer pair.
type FewShotExample struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TemplateRecord is one question of a checkpoint.
type TemplateRecord struct {
	Question        string           `json:"question"`
	RawAnswer       string           `json:"raw_answer"`
	AnswerTemplate  string           `json:"answer_template"`
	LastModified    string           `json:"last_modified"`
	Finished        bool             `json:"finished"`
	QuestionRubric  map[string]any   `json:"question_rubric,omitempty"`
	FewShotExamples []FewShotExample `json:"few_shot_examples,omitempty"`
}

// Checkpoint maps question identifiers to their records.
type Checkpoint map[string]TemplateRecord

// FewShotMode is the prompting strategy for a run.
type FewShotMode string

const (
	FewShotDisabled FewShotMode = "disabled"
	FewShotAll      FewShotMode = "all"
	FewShotKShot    FewShotMode = "k-shot"
	FewShotCustom   FewShotMode = "custom"
	// FewShotNone is the per-question override for questions without examples.
	FewShotNone FewShotMode = "none"
)

// QuestionFewShot is the per-question few-shot override.
type QuestionFewShot struct {
	Mode             FewShotMode `json:"mode"`
	SelectedExamples []int       `json:"selected_examples,omitempty"`
}

// FewShotConfig is the few-shot block of a verification config.
type FewShotConfig struct {
	Enabled         bool                       `json:"enabled"`
	GlobalMode      FewShotMode                `json:"global_mode"`
	GlobalK         int                        `json:"global_k"`
	QuestionConfigs map[string]QuestionFewShot `json:"question_configs,omitempty"`
}

// VerificationConfig is the "config" object of a start request.
type VerificationConfig struct {
	AnsweringModels   []ModelConfiguration `json:"answering_models"`
	ParsingModels     []ModelConfiguration `json:"parsing_models"`
	ReplicateCount    int                  `json:"replicate_count"`
	RubricEnabled     bool                 `json:"rubric_enabled"`
	RubricTraitNames  []string             `json:"rubric_trait_names,omitempty"`
	EvaluationMode    string               `json:"evaluation_mode"`
	AbstentionEnabled bool                 `json:"abstention_enabled"`
	FewShot           *FewShotConfig       `json:"few_shot_config,omitempty"`
}

// FinishedTemplate is the template snapshot sent with a run.
type FinishedTemplate struct {
	QuestionID      string           `json:"question_id"`
	QuestionText    string           `json:"question_text"`
	RawAnswer       string           `json:"raw_answer"`
	TemplateCode    string           `json:"template_code"`
	LastModified    string           `json:"last_modified"`
	Finished        bool             `json:"finished"`
	QuestionRubric  map[string]any   `json:"question_rubric,omitempty"`
	FewShotExamples []FewShotExample `json:"few_shot_examples,omitempty"`
}

// AsyncConfig carries backend execution hints.
type AsyncConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	ChunkSize  int  `json:"chunk_size,omitempty" yaml:"chunk_size"`
	MaxWorkers int  `json:"max_workers,omitempty" yaml:"max_workers"`
}

// RunMatrixRequest is the body of POST /api/start-verification.
type RunMatrixRequest struct {
	Config            VerificationConfig `json:"config"`
	QuestionIDs       []string           `json:"question_ids"`
	FinishedTemplates []FinishedTemplate `json:"finished_templates"`
	RunName           string             `json:"run_name,omitempty"`
	AsyncConfig       *AsyncConfig       `json:"async_config,omitempty"`
	StorageURL        string             `json:"storage_url,omitempty"`
	BenchmarkName     string             `json:"benchmark_name,omitempty"`
}

// JobHandle identifies the live backend job.
type JobHandle struct {
	JobID       string
	SubmittedAt time.Time
}

// JobStatus is the backend-reported job status.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further progress is expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TokenUsage is the per-result token accounting.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResultStatus is the derived outcome of one verification.
type ResultStatus string

const (
	ResultPass      ResultStatus = "pass"
	ResultFail      ResultStatus = "fail"
	ResultAbstained ResultStatus = "abstained"
	ResultError     ResultStatus = "error"
)

// VerificationResult is the outcome of one task of the run matrix.
type VerificationResult struct {
	QuestionID             string         `json:"question_id"`
	JobID                  string         `json:"job_id,omitempty"`
	RunName                string         `json:"run_name,omitempty"`
	QuestionText           string         `json:"question_text,omitempty"`
	AnsweringModel         string         `json:"answering_model"`
	ParsingModel           string         `json:"parsing_model"`
	AnsweringReplicate     *int           `json:"answering_replicate,omitempty"`
	ParsingReplicate       *int           `json:"parsing_replicate,omitempty"`
	CompletedWithoutErrors bool           `json:"completed_without_errors"`
	Error                  string         `json:"error,omitempty"`
	VerifyResult           *bool          `json:"verify_result,omitempty"`
	AbstentionDetected     *bool          `json:"abstention_detected,omitempty"`
	RawLLMResponse         string         `json:"raw_llm_response,omitempty"`
	ExecutionTime          float64        `json:"execution_time"`
	Timestamp              string         `json:"timestamp,omitempty"`
	Usage                  *TokenUsage    `json:"usage,omitempty"`
	VerifyRubric           map[string]any `json:"verify_rubric,omitempty"`
}

// Status derives pass/fail/abstention/error for display and summaries.
func (r VerificationResult) Status() ResultStatus {
	switch {
	case !r.CompletedWithoutErrors || r.Error != "":
		return ResultError
	case r.AbstentionDetected != nil && *r.AbstentionDetected:
		return ResultAbstained
	case r.VerifyResult != nil && *r.VerifyResult:
		return ResultPass
	default:
		return ResultFail
	}
}

// Replicate returns the answering replicate number, or 0 when unset.
func (r VerificationResult) Replicate() int {
	if r.AnsweringReplicate == nil {
		return 0
	}
	return *r.AnsweringReplicate
}

// StartResponse is the success body of POST /api/start-verification.
type StartResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// ProgressResponse is the body of GET /api/verification-progress/{job_id}.
type ProgressResponse struct {
	JobID                  string                        `json:"job_id"`
	Status                 JobStatus                     `json:"status"`
	Percentage             float64                       `json:"percentage"`
	Processed              int                           `json:"processed_count"`
	Total                  int                           `json:"total_count"`
	CurrentQuestion        string                        `json:"current_question,omitempty"`
	InProgressQuestions    []string                      `json:"in_progress_questions,omitempty"`
	EstimatedTimeRemaining *float64                      `json:"estimated_time_remaining,omitempty"`
	Error                  string                        `json:"error,omitempty"`
	Results                map[string]VerificationResult `json:"results,omitempty"`
}
