package output

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/verification-runner/internal/model"
)

func sampleResult() model.VerificationResult {
	pass := true
	rep := 2
	return model.VerificationResult{
		QuestionID:             "q1",
		JobID:                  "job-1",
		RunName:                "nightly",
		AnsweringModel:         "openai/gpt-4.1-mini",
		ParsingModel:           "openai/gpt-4.1-nano",
		AnsweringReplicate:     &rep,
		CompletedWithoutErrors: true,
		VerifyResult:           &pass,
		ExecutionTime:          1.23456,
		Timestamp:              "2026-10-18T10:00:00Z",
		Usage:                  &model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		VerifyRubric:           map[string]any{"clarity": 4},
	}
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(sampleResult()))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{
		"job-1", "nightly", "q1", "openai/gpt-4.1-mini", "openai/gpt-4.1-nano",
		"2", "pass", "true", "", "1.2346", "10", "5", "15",
		"2026-10-18T10:00:00Z", `{"clarity":4}`, "",
	}, rows[1])
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := NewJSONWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(sampleResult()))
	require.NoError(t, w.Write(sampleResult()))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line JSONLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		assert.Equal(t, "q1", line.QuestionID)
		assert.Equal(t, model.ResultPass, line.Outcome)
		assert.Equal(t, "openai/gpt-4.1-mini / openai/gpt-4.1-nano", line.ModelPair)
		assert.Equal(t, 2, line.Replicate)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &fields))
		assert.Equal(t, "pass", fields["outcome"])
		assert.Equal(t, "job-1", fields["job_id"], "result fields stay at the top level")
		lines++
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, 2, w.Lines())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "job_id", "j1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "j1", entry["job_id"])

	_, err = NewLogger("loud", "text", &buf)
	assert.ErrorContains(t, err, "invalid log level")
	_, err = NewLogger("info", "xml", &buf)
	assert.ErrorContains(t, err, "invalid log format")
}

func TestNewTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"question", "status"})
	require.NoError(t, table.Append([]string{"q1", "pass"}))
	require.NoError(t, table.Render())
	assert.Contains(t, buf.String(), "q1")
	assert.Contains(t, buf.String(), "pass")
}
