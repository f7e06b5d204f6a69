/*
PURPOSE:
  Defines the root Cobra command for the verification runner CLI.
  Handles global flags, config loading and logger setup.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Every subcommand needs the same config + flag override sequence.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/verification-runner/main.go
  - Calls: Child commands (run, plan, questions, progress, cancel, results)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init() and applyGlobalOverrides().

RELATED FILES:
  - cmd/verification-runner/main.go
  - internal/config/config.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/config"
	"github.com/daryltucker/verification-runner/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile string

	serverOverride    string
	logLevelOverride  string
	logFormatOverride string

	rootCmd = &cobra.Command{
		Use:   "verification-runner",
		Short: "Submit and follow LLM answer-verification runs",
		Long: `Expands a selection of questions and models into a verification run matrix,
submits it to the evaluation backend and follows the job over its progress
channel. Results accumulate across runs. Use 'run --help' for run options.`,
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./verification_runner.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverOverride, "server", "", "evaluation backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatOverride, "log-format", "", "log format: text or json")
}

// loadConfig loads the config file, applies the global flag overrides and
// installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	applyGlobalOverrides(cfg)

	logger, err := output.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	output.SetLogger(logger)
	return cfg, nil
}

func applyGlobalOverrides(cfg *config.Config) {
	if serverOverride != "" {
		cfg.ServerURL = serverOverride
	}
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}
	if logFormatOverride != "" {
		cfg.LogFormat = logFormatOverride
	}
}
