/*
PURPOSE:
  Defines the configuration structure and loading logic for the verification runner.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Configure the backend URL, per-call timeouts and the default run selection.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs to support environment variable overrides (VERIFY_...).
  - The progress channel has no timeout of its own; liveness_timeout bounds it.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/orchestrator
  - Dependencies: gopkg.in/yaml.v3, github.com/sethvargo/go-envconfig

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing default config files fall back to DefaultConfig().

IMPLEMENTATION RULES:
  - Config struct tags support yaml; env variables are read into envOverrides.
  - Precedence: defaults < file < environment < flags (flags applied by internal/cli).

USAGE:
  cfg, err := config.Load("verification_runner.yaml")

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/daryltucker/verification-runner/internal/matrix"
	"github.com/daryltucker/verification-runner/internal/model"
)

// Config represents the full configuration for the verification runner.
type Config struct {
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// LivenessTimeout fails a run when no progress event arrives for this long.
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`

	Checkpoint  string `yaml:"checkpoint"`
	OutputDir   string `yaml:"output_dir"`
	ResultsFile string `yaml:"results_file"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`

	Run RunDefaults `yaml:"run"`
}

// RunDefaults is the default selection a run starts from.
type RunDefaults struct {
	AnsweringModels   []model.ModelConfiguration `yaml:"answering_models"`
	ParsingModels     []model.ModelConfiguration `yaml:"parsing_models"`
	ReplicateCount    int                        `yaml:"replicate_count"`
	Questions         []string                   `yaml:"questions"`
	RunName           string                     `yaml:"run_name"`
	FewShot           matrix.FewShotSettings     `yaml:"few_shot"`
	RubricEnabled     bool                       `yaml:"rubric_enabled"`
	RubricTraitNames  []string                   `yaml:"rubric_trait_names"`
	EvaluationMode    string                     `yaml:"evaluation_mode"`
	AbstentionEnabled bool                       `yaml:"abstention_enabled"`
	Async             *model.AsyncConfig         `yaml:"async"`
	StorageURL        string                     `yaml:"storage_url"`
	BenchmarkName     string                     `yaml:"benchmark_name"`
}

// Selection converts the defaults into a matrix selection.
func (r RunDefaults) Selection() matrix.Selection {
	return matrix.Selection{
		QuestionIDs:       r.Questions,
		Answering:         r.AnsweringModels,
		Parsing:           r.ParsingModels,
		ReplicateCount:    r.ReplicateCount,
		FewShot:           r.FewShot,
		RubricEnabled:     r.RubricEnabled,
		RubricTraitNames:  r.RubricTraitNames,
		EvaluationMode:    r.EvaluationMode,
		AbstentionEnabled: r.AbstentionEnabled,
		RunName:           r.RunName,
		Async:             r.Async,
		StorageURL:        r.StorageURL,
		BenchmarkName:     r.BenchmarkName,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:       "http://localhost:8080",
		RequestTimeout:  60 * time.Second,
		LivenessTimeout: 10 * time.Minute,
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		Checkpoint:      "checkpoint.json",
		OutputDir:       ".",
		ResultsFile:     "verification_results.jsonl",
		LogLevel:        "info",
		LogFormat:       "text",
		Run: RunDefaults{
			ReplicateCount: 1,
			FewShot:        matrix.FewShotSettings{Mode: model.FewShotDisabled},
		},
	}
}

// DefaultFiles are searched, in order, when no config path is given.
var DefaultFiles = []string{"verification_runner.yaml", "runner.yaml", "runner.conf"}

// Load reads configuration from a file and applies environment overrides.
// If path is empty, it searches DefaultFiles; if none exists the defaults are used.
func Load(path string) (*Config, error) {
	return LoadWith(path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	env.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides holds only the variables that are actually set.
type envOverrides struct {
	ServerURL       *string        `env:"VERIFY_SERVER_URL,noinit"`
	RequestTimeout  *time.Duration `env:"VERIFY_REQUEST_TIMEOUT,noinit"`
	LivenessTimeout *time.Duration `env:"VERIFY_LIVENESS_TIMEOUT,noinit"`
	MaxRetries      *int           `env:"VERIFY_MAX_RETRIES,noinit"`
	RetryDelay      *time.Duration `env:"VERIFY_RETRY_DELAY,noinit"`
	Checkpoint      *string        `env:"VERIFY_CHECKPOINT,noinit"`
	OutputDir       *string        `env:"VERIFY_OUTPUT_DIR,noinit"`
	ResultsFile     *string        `env:"VERIFY_RESULTS_FILE,noinit"`
	LogLevel        *string        `env:"VERIFY_LOG_LEVEL,noinit"`
	LogFormat       *string        `env:"VERIFY_LOG_FORMAT,noinit"`
	MetricsAddr     *string        `env:"VERIFY_METRICS_ADDR,noinit"`
}

func (e envOverrides) apply(cfg *Config) {
	setIf(&cfg.ServerURL, e.ServerURL)
	setIf(&cfg.RequestTimeout, e.RequestTimeout)
	setIf(&cfg.LivenessTimeout, e.LivenessTimeout)
	setIf(&cfg.MaxRetries, e.MaxRetries)
	setIf(&cfg.RetryDelay, e.RetryDelay)
	setIf(&cfg.Checkpoint, e.Checkpoint)
	setIf(&cfg.OutputDir, e.OutputDir)
	setIf(&cfg.ResultsFile, e.ResultsFile)
	setIf(&cfg.LogLevel, e.LogLevel)
	setIf(&cfg.LogFormat, e.LogFormat)
	setIf(&cfg.MetricsAddr, e.MetricsAddr)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate rejects settings the runner cannot work with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.LivenessTimeout <= 0 {
		return fmt.Errorf("liveness_timeout must be positive, got %s", c.LivenessTimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
