// Package session holds the mutable run configuration a user edits between runs:
// model lists, replicate count, run name, toggles and the question selection.
package session

import (
	"sync"

	"github.com/daryltucker/verification-runner/internal/matrix"
	"github.com/daryltucker/verification-runner/internal/model"
)

// State is an injectable configuration container. Readers get deep copies.
type State struct {
	mu  sync.RWMutex
	sel matrix.Selection
}

// New returns a State with one replicate and few-shot disabled.
func New() *State {
	return &State{sel: matrix.Selection{
		ReplicateCount: 1,
		FewShot:        matrix.FewShotSettings{Mode: model.FewShotDisabled},
	}}
}

// FromSelection seeds a State with a copy of sel.
func FromSelection(sel matrix.Selection) *State {
	s := New()
	s.sel = clone(sel)
	s.sel.ReplicateCount = matrix.ClampReplicates(s.sel.ReplicateCount)
	if s.sel.FewShot.Mode == "" {
		s.sel.FewShot.Mode = model.FewShotDisabled
	}
	return s
}

// Inputs returns the current selection.
func (s *State) Inputs() matrix.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.sel)
}

func (s *State) SetAnsweringModels(models []model.ModelConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Answering = append([]model.ModelConfiguration(nil), models...)
}

func (s *State) SetParsingModels(models []model.ModelConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Parsing = append([]model.ModelConfiguration(nil), models...)
}

// SetReplicateCount stores n clamped to the allowed range and returns the stored value.
func (s *State) SetReplicateCount(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.ReplicateCount = matrix.ClampReplicates(n)
	return s.sel.ReplicateCount
}

func (s *State) SetRunName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.RunName = name
}

func (s *State) SetFewShot(fs matrix.FewShotSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.FewShot = cloneFewShot(fs)
}

// SetEvaluation sets the rubric, evaluation-mode and abstention toggles.
func (s *State) SetEvaluation(rubric bool, traits []string, mode string, abstention bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.RubricEnabled = rubric
	s.sel.RubricTraitNames = append([]string(nil), traits...)
	s.sel.EvaluationMode = mode
	s.sel.AbstentionEnabled = abstention
}

func (s *State) SelectQuestions(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.QuestionIDs = append([]string(nil), ids...)
}

func (s *State) SetAsync(cfg *model.AsyncConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil {
		s.sel.Async = nil
		return
	}
	c := *cfg
	s.sel.Async = &c
}

// SetStorage sets the optional storage URL and benchmark name forwarded with a run.
func (s *State) SetStorage(url, benchmark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.StorageURL = url
	s.sel.BenchmarkName = benchmark
}

func clone(sel matrix.Selection) matrix.Selection {
	out := sel
	out.QuestionIDs = append([]string(nil), sel.QuestionIDs...)
	out.Answering = append([]model.ModelConfiguration(nil), sel.Answering...)
	out.Parsing = append([]model.ModelConfiguration(nil), sel.Parsing...)
	out.RubricTraitNames = append([]string(nil), sel.RubricTraitNames...)
	out.FewShot = cloneFewShot(sel.FewShot)
	if sel.Async != nil {
		a := *sel.Async
		out.Async = &a
	}
	return out
}

func cloneFewShot(fs matrix.FewShotSettings) matrix.FewShotSettings {
	out := fs
	if fs.Selected != nil {
		out.Selected = make(map[string][]int, len(fs.Selected))
		for id, idx := range fs.Selected {
			out.Selected[id] = append([]int(nil), idx...)
		}
	}
	return out
}
