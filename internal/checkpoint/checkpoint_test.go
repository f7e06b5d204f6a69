package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bareCheckpoint = `{
  "q2": {"question": "What is 2+2?", "raw_answer": "4", "answer_template": "class Answer: ...", "finished": true},
  "q1": {"question": "Capital of France?", "raw_answer": "Paris", "answer_template": "class Answer: ...", "finished": true,
         "few_shot_examples": [{"question": "Capital of Italy?", "answer": "Rome"}]},
  "q3": {"question": "Draft", "raw_answer": "", "answer_template": "", "finished": false}
}`

func TestParse_Bare(t *testing.T) {
	cp, err := Parse([]byte(bareCheckpoint))
	require.NoError(t, err)
	require.Len(t, cp, 3)
	assert.Equal(t, "Paris", cp["q1"].RawAnswer)
	assert.Len(t, cp["q1"].FewShotExamples, 1)
	assert.Equal(t, []string{"q1", "q2"}, Finished(cp))
	assert.Equal(t, []string{"q1", "q2", "q3"}, IDs(cp))
}

func TestParse_Envelope(t *testing.T) {
	cp, err := Parse([]byte(`{"checkpoint": ` + bareCheckpoint + `}`))
	require.NoError(t, err)
	assert.Len(t, cp, 3)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(bareCheckpoint), 0o644))

	cp, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cp, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read checkpoint")
}
