/*
PURPOSE:
  Writes verification results to a JSON Lines file (NDJSON).
  Each line is the result plus its derived outcome and model pair.

REQUIREMENTS:
  User-specified:
  - JSON output for easier parsing.

  Implementation-discovered:
  - JSON Lines is better for streaming/logging than a single large array (append-friendly).
  - Consumers filter by outcome without re-deriving it from verify_result/error.

ARCHITECTURE INTEGRATION:
  - Called by: internal/results (Export)
  - Consumes: internal/model.VerificationResult

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe.

USAGE:
  w, err := output.NewJSONWriter("results.jsonl")
  w.Write(result)
  w.Close()
*/

package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/daryltucker/verification-runner/internal/model"
)

// JSONLine is one exported result line.
type JSONLine struct {
	Outcome   model.ResultStatus `json:"outcome"`
	ModelPair string             `json:"model_pair"`
	Replicate int                `json:"replicate"`
	model.VerificationResult
}

// NewJSONLine derives the exported line for r.
func NewJSONLine(r model.VerificationResult) JSONLine {
	return JSONLine{
		Outcome:            r.Status(),
		ModelPair:          r.AnsweringModel + " / " + r.ParsingModel,
		Replicate:          r.Replicate(),
		VerificationResult: r,
	}
}

// JSONWriter handles writing results to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	lines   int
}

// NewJSONWriter creates a new JSONWriter.
// It overwrites the file if it exists.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write writes a single result as a JSON line.
func (jw *JSONWriter) Write(r model.VerificationResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(NewJSONLine(r)); err != nil {
		return err
	}
	jw.lines++
	return nil
}

// Lines is the number of results written so far.
func (jw *JSONWriter) Lines() int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.lines
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}
