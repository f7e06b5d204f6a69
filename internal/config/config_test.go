package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/verification-runner/internal/model"
)

const sampleYAML = `
server_url: http://bench.internal:9000
request_timeout: 15s
liveness_timeout: 2m
max_retries: 5
checkpoint: ./capitals.json
run:
  replicate_count: 3
  run_name: nightly
  questions: [q1, q2]
  answering_models:
    - id: answer-1
      model_provider: openai
      model_name: gpt-4.1-mini
      temperature: 0.2
      interface: langchain
  parsing_models:
    - id: parse-1
      model_provider: openai
      model_name: gpt-4.1-nano
      interface: openai_endpoint
      endpoint_base_url: http://localhost:11434/v1
  few_shot:
    mode: custom
    selected:
      q1: [0, 2]
  async:
    enabled: true
    max_workers: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWith_File(t *testing.T) {
	cfg, err := LoadWith(writeConfig(t, sampleYAML), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://bench.internal:9000", cfg.ServerURL)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LivenessTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	// Unset keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, "verification_results.jsonl", cfg.ResultsFile)

	require.Len(t, cfg.Run.AnsweringModels, 1)
	assert.Equal(t, model.InterfaceLangchain, cfg.Run.AnsweringModels[0].Interface)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Run.ParsingModels[0].EndpointBaseURL)
	assert.Equal(t, model.FewShotCustom, cfg.Run.FewShot.Mode)
	assert.Equal(t, []int{0, 2}, cfg.Run.FewShot.Selected["q1"])

	sel := cfg.Run.Selection()
	assert.Equal(t, 3, sel.ReplicateCount)
	assert.Equal(t, []string{"q1", "q2"}, sel.QuestionIDs)
	require.NotNil(t, sel.Async)
	assert.Equal(t, 4, sel.Async.MaxWorkers)
}

func TestLoadWith_EnvOverridesFile(t *testing.T) {
	cfg, err := LoadWith(writeConfig(t, sampleYAML), envconfig.MapLookuper(map[string]string{
		"VERIFY_SERVER_URL":       "https://override:443",
		"VERIFY_LIVENESS_TIMEOUT": "30s",
		"VERIFY_LOG_FORMAT":       "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://override:443", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.LivenessTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
}

func TestLoadWith_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadWith("", envconfig.MapLookuper(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadWith_Errors(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "missing.yaml"), envconfig.MapLookuper(nil))
	assert.Error(t, err)

	_, err = LoadWith(writeConfig(t, "server_url: [unterminated"), envconfig.MapLookuper(nil))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = LoadWith(writeConfig(t, "max_retries: 0"), envconfig.MapLookuper(nil))
	assert.ErrorContains(t, err, "max_retries must be at least 1")

	_, err = LoadWith(writeConfig(t, sampleYAML), envconfig.MapLookuper(map[string]string{
		"VERIFY_REQUEST_TIMEOUT": "soon",
	}))
	assert.ErrorContains(t, err, "failed to apply environment overrides")
}
