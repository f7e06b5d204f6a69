/*
PURPOSE:
  Expands a user's selection into the run matrix submitted to the backend.
  answering models x parsing models x replicates x questions.

REQUIREMENTS:
  User-specified:
  - task_count = |answering| * |parsing| * replicate_count * |questions|.
  - replicate_count clamped to [1,10].
  - Empty question selection is a validation error, never a silent no-op.
  - Custom few-shot mode carries the per-question example indices.

  Implementation-discovered:
  - Questions without authored examples run zero-shot whatever the global mode.
  - Duplicate question ids in a selection count once.

ARCHITECTURE INTEGRATION:
  - Called by: internal/orchestrator, internal/cli (plan)
  - Uses: internal/model

ERROR HANDLING:
  - Returns model.ValidationError (wrapping ErrEmptySelection where relevant).

IMPLEMENTATION RULES:
  - Pure functions. No I/O.

RELATED FILES:
  - internal/model/types.go
*/

package matrix

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daryltucker/verification-runner/internal/model"
)

const (
	MinReplicates = 1
	MaxReplicates = 10
)

// ErrEmptySelection is returned when no question is selected.
var ErrEmptySelection = errors.New("no questions selected")

// FewShotSettings is the few-shot part of a selection.
type FewShotSettings struct {
	Mode model.FewShotMode `yaml:"mode"`
	K    int               `yaml:"k"`
	// Selected holds the example indices toggled on per question (custom mode).
	Selected map[string][]int `yaml:"selected"`
}

// Selection is everything the builder needs from the configuration state.
type Selection struct {
	QuestionIDs       []string
	Answering         []model.ModelConfiguration
	Parsing           []model.ModelConfiguration
	ReplicateCount    int
	FewShot           FewShotSettings
	RubricEnabled     bool
	RubricTraitNames  []string
	EvaluationMode    string
	AbstentionEnabled bool
	RunName           string
	Async             *model.AsyncConfig
	StorageURL        string
	BenchmarkName     string
}

// Plan summarises the size of a run matrix.
type Plan struct {
	Questions  int
	Answering  int
	Parsing    int
	Replicates int
	Tasks      int
}

// ClampReplicates bounds n to [MinReplicates, MaxReplicates].
func ClampReplicates(n int) int {
	if n < MinReplicates {
		return MinReplicates
	}
	if n > MaxReplicates {
		return MaxReplicates
	}
	return n
}

// Summarize computes the matrix dimensions of a selection.
func Summarize(sel Selection) Plan {
	p := Plan{
		Questions:  len(uniqueIDs(sel.QuestionIDs)),
		Answering:  len(sel.Answering),
		Parsing:    len(sel.Parsing),
		Replicates: ClampReplicates(sel.ReplicateCount),
	}
	p.Tasks = p.Answering * p.Parsing * p.Replicates * p.Questions
	return p
}

// TaskCount is the number of verification tasks the selection expands to.
func TaskCount(sel Selection) int {
	return Summarize(sel).Tasks
}

// Build validates the selection and produces a self-contained run request.
func Build(sel Selection, cp model.Checkpoint) (*model.RunMatrixRequest, error) {
	ids := uniqueIDs(sel.QuestionIDs)
	if len(ids) == 0 {
		return nil, &model.ValidationError{Field: "question_ids", Message: ErrEmptySelection.Error(), Err: ErrEmptySelection}
	}
	if err := model.ValidateModels("answering", sel.Answering); err != nil {
		return nil, err
	}
	if err := model.ValidateModels("parsing", sel.Parsing); err != nil {
		return nil, err
	}

	templates := make([]model.FinishedTemplate, 0, len(ids))
	for _, id := range ids {
		rec, ok := cp[id]
		if !ok {
			return nil, &model.ValidationError{Field: "question_ids", Message: fmt.Sprintf("unknown question %q", id)}
		}
		if !rec.Finished {
			return nil, &model.ValidationError{Field: "question_ids", Message: fmt.Sprintf("question %q is not finished", id)}
		}
		templates = append(templates, model.FinishedTemplate{
			QuestionID:      id,
			QuestionText:    rec.Question,
			RawAnswer:       rec.RawAnswer,
			TemplateCode:    rec.AnswerTemplate,
			LastModified:    rec.LastModified,
			Finished:        rec.Finished,
			QuestionRubric:  rec.QuestionRubric,
			FewShotExamples: rec.FewShotExamples,
		})
	}

	fewShot, err := buildFewShot(sel.FewShot, ids, cp)
	if err != nil {
		return nil, err
	}

	evalMode := sel.EvaluationMode
	if evalMode == "" {
		evalMode = "template_only"
		if sel.RubricEnabled {
			evalMode = "template_and_rubric"
		}
	}

	req := &model.RunMatrixRequest{
		Config: model.VerificationConfig{
			AnsweringModels:   append([]model.ModelConfiguration(nil), sel.Answering...),
			ParsingModels:     append([]model.ModelConfiguration(nil), sel.Parsing...),
			ReplicateCount:    ClampReplicates(sel.ReplicateCount),
			RubricEnabled:     sel.RubricEnabled,
			RubricTraitNames:  sel.RubricTraitNames,
			EvaluationMode:    evalMode,
			AbstentionEnabled: sel.AbstentionEnabled,
			FewShot:           fewShot,
		},
		QuestionIDs:       ids,
		FinishedTemplates: templates,
		RunName:           sel.RunName,
		StorageURL:        sel.StorageURL,
		BenchmarkName:     sel.BenchmarkName,
	}
	if sel.Async != nil {
		async := *sel.Async
		req.AsyncConfig = &async
	}
	return req, nil
}

func buildFewShot(s FewShotSettings, ids []string, cp model.Checkpoint) (*model.FewShotConfig, error) {
	switch s.Mode {
	case "", model.FewShotDisabled:
		return nil, nil
	case model.FewShotAll, model.FewShotKShot, model.FewShotCustom:
	default:
		return nil, &model.ValidationError{Field: "few_shot.mode", Message: fmt.Sprintf("unknown few-shot mode %q", s.Mode)}
	}
	if s.Mode == model.FewShotKShot && s.K < 1 {
		return nil, &model.ValidationError{Field: "few_shot.k", Message: "k must be at least 1 for k-shot mode"}
	}

	cfg := &model.FewShotConfig{
		Enabled:         true,
		GlobalMode:      s.Mode,
		GlobalK:         s.K,
		QuestionConfigs: make(map[string]model.QuestionFewShot),
	}
	for _, id := range ids {
		examples := cp[id].FewShotExamples
		if len(examples) == 0 {
			cfg.QuestionConfigs[id] = model.QuestionFewShot{Mode: model.FewShotNone}
			continue
		}
		if s.Mode != model.FewShotCustom {
			continue
		}
		indices, err := normalizeIndices(s.Selected[id], len(examples))
		if err != nil {
			return nil, &model.ValidationError{Field: "few_shot.selected." + id, Message: err.Error()}
		}
		if len(indices) == 0 {
			cfg.QuestionConfigs[id] = model.QuestionFewShot{Mode: model.FewShotNone}
			continue
		}
		cfg.QuestionConfigs[id] = model.QuestionFewShot{Mode: model.FewShotCustom, SelectedExamples: indices}
	}
	if len(cfg.QuestionConfigs) == 0 {
		cfg.QuestionConfigs = nil
	}
	return cfg, nil
}

func normalizeIndices(in []int, n int) ([]int, error) {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, i := range in {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("example index %d out of range [0,%d)", i, n)
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// uniqueIDs drops empty and repeated ids, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
