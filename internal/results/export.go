/*
PURPOSE:
  Writes a set of verification results to the CSV and JSON Lines exports.

REQUIREMENTS:
  User-specified:
  - Log results to CSV/JSON.

  Implementation-discovered:
  - The output directory may not exist yet.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (run, results export)
  - Uses: internal/output

ERROR HANDLING:
  - Setup failures are returned; a failed row is logged and the export continues.

USAGE:
  csvPath, jsonPath, err := results.Export(dir, "verification_results", rs)

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go
*/

package results

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
)

// Export writes rs to <dir>/<base>.csv and <dir>/<base>.jsonl.
func Export(dir, base string, rs []model.VerificationResult) (string, string, error) {
	// Ensure output directory exists
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	csvPath := filepath.Join(dir, base+".csv")
	csvWriter, err := output.NewCSVWriter(csvPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}
	defer csvWriter.Close()

	jsonPath := filepath.Join(dir, base+".jsonl")
	jsonWriter, err := output.NewJSONWriter(jsonPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to init JSON writer at %s: %w", jsonPath, err)
	}
	defer jsonWriter.Close()

	failed := 0
	for _, r := range rs {
		if err := csvWriter.Write(r); err != nil {
			output.Logger.Error("Failed to write result to CSV", "question_id", r.QuestionID, "error", err)
			failed++
		}
		if err := jsonWriter.Write(r); err != nil {
			output.Logger.Error("Failed to write result to JSON", "question_id", r.QuestionID, "error", err)
			failed++
		}
	}

	output.Logger.Info("Exported results", "count", len(rs), "json_lines", jsonWriter.Lines(), "csv", csvPath, "json", jsonPath, "write_errors", failed)
	return csvPath, jsonPath, nil
}
