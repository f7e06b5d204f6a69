/*
PURPOSE:
  Defines the 'questions' subcommand.
  Lists the checkpoint's question records and whether they can be selected.

REQUIREMENTS:
  User-specified:
  - List the questions available for a run.

  Implementation-discovered:
  - Useful validation step before a full run.

ARCHITECTURE INTEGRATION:
  - Calls: internal/checkpoint.Load()

ERROR HANDLING:
  - Returns error if the checkpoint cannot be read.

IMPLEMENTATION RULES:
  - Simple table output to stdout.

USAGE:
  verification-runner questions --checkpoint ./checkpoint.json
*/

package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/checkpoint"
	"github.com/daryltucker/verification-runner/internal/output"
)

var finishedOnly bool

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List checkpoint questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if checkpointOverride != "" {
			cfg.Checkpoint = checkpointOverride
		}
		cp, err := checkpoint.Load(cfg.Checkpoint)
		if err != nil {
			return err
		}

		table := output.NewTable(cmd.OutOrStdout(), []string{"id", "finished", "examples", "rubric", "question"})
		for _, id := range checkpoint.IDs(cp) {
			rec := cp[id]
			if finishedOnly && !rec.Finished {
				continue
			}
			if err := table.Append([]string{
				id,
				strconv.FormatBool(rec.Finished),
				strconv.Itoa(len(rec.FewShotExamples)),
				strconv.FormatBool(len(rec.QuestionRubric) > 0),
				truncate(strings.TrimSpace(rec.Question), 60),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	rootCmd.AddCommand(questionsCmd)
	questionsCmd.Flags().StringVar(&checkpointOverride, "checkpoint", "", "Checkpoint JSON file (overrides config)")
	questionsCmd.Flags().BoolVar(&finishedOnly, "finished", false, "Only list finished questions")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
