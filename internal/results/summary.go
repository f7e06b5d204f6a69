package results

import (
	"sort"

	"github.com/daryltucker/verification-runner/internal/model"
)

// Summary aggregates outcome counts and token usage.
type Summary struct {
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	Abstained     int     `json:"abstained"`
	Errored       int     `json:"errored"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	TotalTokens   int     `json:"total_tokens"`
	ExecutionTime float64 `json:"execution_time"`
}

// PassRate is passed over the results that produced a verdict.
func (s Summary) PassRate() float64 {
	judged := s.Passed + s.Failed
	if judged == 0 {
		return 0
	}
	return float64(s.Passed) / float64(judged)
}

func Summarize(results []model.VerificationResult) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Status() {
		case model.ResultPass:
			s.Passed++
		case model.ResultFail:
			s.Failed++
		case model.ResultAbstained:
			s.Abstained++
		default:
			s.Errored++
		}
		if r.Usage != nil {
			s.InputTokens += r.Usage.InputTokens
			s.OutputTokens += r.Usage.OutputTokens
			s.TotalTokens += r.Usage.TotalTokens
		}
		s.ExecutionTime += r.ExecutionTime
	}
	return s
}

// ByModelPair groups summaries by "answering / parsing" model pair.
func ByModelPair(results []model.VerificationResult) (map[string]Summary, []string) {
	groups := make(map[string][]model.VerificationResult)
	for _, r := range results {
		k := r.AnsweringModel + " / " + r.ParsingModel
		groups[k] = append(groups[k], r)
	}
	out := make(map[string]Summary, len(groups))
	keys := make([]string, 0, len(groups))
	for k, rs := range groups {
		out[k] = Summarize(rs)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys
}

// Flatten turns a progress response's result map into a slice ordered by key.
func Flatten(m map[string]model.VerificationResult) []model.VerificationResult {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.VerificationResult, 0, len(m))
	for _, k := range keys {
		r := m[k]
		if r.QuestionID == "" {
			r.QuestionID = k
		}
		out = append(out, r)
	}
	return out
}
