/*
PURPOSE:
  Writes verification results to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV.

  Implementation-discovered:
  - One row per (question, answering model, parsing model, replicate, job).
  - Rubric scores are serialized as a JSON object in one column.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (run, results export)
  - Consumes: internal/model.VerificationResult

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).

USAGE:
  w, err := output.NewCSVWriter("results.csv")
  w.Write(result)
  w.Close()

MAINTENANCE:
  - Update Write() mapping when VerificationResult changes.
*/

package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/daryltucker/verification-runner/internal/model"
)

// CSVHeader is the column order of CSVWriter.
var CSVHeader = []string{
	"job_id", "run_name", "question_id", "answering_model", "parsing_model",
	"replicate", "status", "verify_result", "abstention_detected",
	"execution_time_s", "input_tokens", "output_tokens", "total_tokens",
	"timestamp", "rubric", "error",
}

// CSVWriter handles writing results to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single result to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(r model.VerificationResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Write(Record(r)); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}

// Record maps a result onto the CSVHeader columns.
func Record(r model.VerificationResult) []string {
	var rubric string
	if len(r.VerifyRubric) > 0 {
		b, _ := json.Marshal(r.VerifyRubric)
		rubric = string(b)
	}
	var in, out, total int
	if r.Usage != nil {
		in, out, total = r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens
	}

	return []string{
		r.JobID,
		r.RunName,
		r.QuestionID,
		r.AnsweringModel,
		r.ParsingModel,
		strconv.Itoa(r.Replicate()),
		string(r.Status()),
		optionalBool(r.VerifyResult),
		optionalBool(r.AbstentionDetected),
		fmt.Sprintf("%.4f", r.ExecutionTime),
		strconv.Itoa(in),
		strconv.Itoa(out),
		strconv.Itoa(total),
		r.Timestamp,
		rubric,
		r.Error,
	}
}

func optionalBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
