package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/verification-runner/internal/model"
)

func result(qid, ts string, pass bool) model.VerificationResult {
	rep := 1
	return model.VerificationResult{
		QuestionID:             qid,
		AnsweringModel:         "gpt-4.1-mini",
		ParsingModel:           "gpt-4.1-nano",
		AnsweringReplicate:     &rep,
		CompletedWithoutErrors: true,
		VerifyResult:           &pass,
		Timestamp:              ts,
		Usage:                  &model.TokenUsage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
		ExecutionTime:          1.5,
	}
}

func fixedClock(c *Collection, t time.Time) {
	c.now = func() time.Time { return t }
}

func TestKey(t *testing.T) {
	r := result("q1", "2026-10-18T10:00:00Z", true)
	assert.Equal(t, "q1|gpt-4.1-mini|gpt-4.1-nano|1|job-1|2026-10-18T10:00:00Z", Key(r, "job-1", "fallback"))

	r.Timestamp = ""
	assert.Equal(t, "q1|gpt-4.1-mini|gpt-4.1-nano|1|job-1|fallback", Key(r, "job-1", "fallback"))
}

func TestMerge_SameTupleAcrossJobsAccumulates(t *testing.T) {
	c := NewCollection()
	const jobs = 3
	for i := 0; i < jobs; i++ {
		jobID := "job-" + string(rune('a'+i))
		// Identical timestamps on purpose: the job id alone must keep them apart.
		added := c.Merge(jobID, []model.VerificationResult{result("q1", "2026-10-18T10:00:00Z", true)})
		assert.Equal(t, 1, added)
	}

	assert.Equal(t, jobs, c.Len())
	all := c.All()
	require.Len(t, all, jobs)
	assert.Equal(t, "job-a", all[0].JobID)
	assert.Equal(t, "job-c", all[2].JobID)
	assert.Len(t, c.ByJob("job-b"), 1)
}

func TestMerge_RefetchOfSameJobIsIdempotent(t *testing.T) {
	c := NewCollection()
	batch := []model.VerificationResult{
		result("q1", "2026-10-18T10:00:00Z", true),
		result("q2", "2026-10-18T10:00:01Z", false),
	}
	assert.Equal(t, 2, c.Merge("job-1", batch))
	assert.Equal(t, 0, c.Merge("job-1", batch))
	assert.Equal(t, 2, c.Len())
}

func TestMerge_MissingTimestampUsesMergeClock(t *testing.T) {
	c := NewCollection()
	fixedClock(c, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	// Two results of the same tuple without timestamps in one batch.
	added := c.Merge("job-1", []model.VerificationResult{result("q1", "", true), result("q1", "", false)})
	assert.Equal(t, 2, added)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "q1|gpt-4.1-mini|gpt-4.1-nano|1|job-1|2026-10-18T12:00:00Z", entries[0].Key)
	assert.Equal(t, "q1|gpt-4.1-mini|gpt-4.1-nano|1|job-1|2026-10-18T12:00:00Z#1", entries[1].Key)
	assert.Equal(t, "2026-10-18T12:00:00Z", entries[0].Result.Timestamp)

	// A later merge of the same untimestamped result gets a new key.
	fixedClock(c, time.Date(2026, 10, 18, 12, 5, 0, 0, time.UTC))
	assert.Equal(t, 1, c.Merge("job-1", []model.VerificationResult{result("q1", "", true)}))
	assert.Equal(t, 3, c.Len())
}

func TestClear_RequiresConfirmation(t *testing.T) {
	c := NewCollection()
	c.Merge("job-1", []model.VerificationResult{result("q1", "t1", true)})

	n, err := c.Clear(false)
	assert.True(t, errors.Is(err, ErrClearNotConfirmed))
	assert.Zero(t, n)
	assert.Equal(t, 1, c.Len())

	n, err = c.Clear(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, c.Len())
	assert.Empty(t, c.All())
}

func TestAll_ReturnsCopy(t *testing.T) {
	c := NewCollection()
	c.Merge("job-1", []model.VerificationResult{result("q1", "t1", true)})
	all := c.All()
	all[0].QuestionID = "changed"
	assert.Equal(t, "q1", c.All()[0].QuestionID)
}

func TestSummarize(t *testing.T) {
	abstained := result("q3", "t", false)
	yes := true
	abstained.AbstentionDetected = &yes
	errored := result("q4", "t", false)
	errored.CompletedWithoutErrors = false
	errored.Usage = nil

	s := Summarize([]model.VerificationResult{
		result("q1", "t", true),
		result("q2", "t", false),
		abstained,
		errored,
	})
	assert.Equal(t, Summary{
		Total: 4, Passed: 1, Failed: 1, Abstained: 1, Errored: 1,
		InputTokens: 30, OutputTokens: 12, TotalTokens: 42, ExecutionTime: 6,
	}, s)
	assert.Equal(t, 0.5, s.PassRate())
	assert.Zero(t, Summary{}.PassRate())
}

func TestByModelPair(t *testing.T) {
	other := result("q1", "t", false)
	other.AnsweringModel = "claude"
	groups, keys := ByModelPair([]model.VerificationResult{result("q1", "t", true), other})
	assert.Equal(t, []string{"claude / gpt-4.1-nano", "gpt-4.1-mini / gpt-4.1-nano"}, keys)
	assert.Equal(t, 1, groups["claude / gpt-4.1-nano"].Failed)
}

func TestFlatten(t *testing.T) {
	out := Flatten(map[string]model.VerificationResult{
		"q2": result("", "t", true),
		"q1": result("q1", "t", true),
	})
	require.Len(t, out, 2)
	assert.Equal(t, "q1", out[0].QuestionID)
	assert.Equal(t, "q2", out[1].QuestionID)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "results.jsonl")

	c := NewCollection()
	c.Merge("job-1", []model.VerificationResult{result("q1", "t1", true)})
	c.Merge("job-2", []model.VerificationResult{result("q1", "t1", false)})
	require.NoError(t, c.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, c.Entries(), loaded.Entries())

	// Accumulation continues after a reload.
	loaded.Merge("job-3", []model.VerificationResult{result("q1", "t1", true)})
	assert.Equal(t, 3, loaded.Len())
}

func TestLoadFile(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, c.Len())

	bad := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"key\":\"a\",\"result\":{}}\nnot json\n"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "line 2")

	noKey := filepath.Join(t.TempDir(), "nokey.jsonl")
	require.NoError(t, os.WriteFile(noKey, []byte(`{"result":{}}`+"\n"), 0o644))
	_, err = LoadFile(noKey)
	assert.ErrorContains(t, err, "missing key")
}

func TestExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	csvPath, jsonPath, err := Export(dir, "verification_results", []model.VerificationResult{
		result("q1", "t1", true),
		result("q2", "t2", false),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "verification_results.csv"), csvPath)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))

	f, err := os.Open(jsonPath)
	require.NoError(t, err)
	defer f.Close()
	var outcomes []string
	for sc := bufio.NewScanner(f); sc.Scan(); {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		outcomes = append(outcomes, line["outcome"].(string))
	}
	assert.Equal(t, []string{"pass", "fail"}, outcomes)
}
