package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/matrix"
	"github.com/daryltucker/verification-runner/internal/output"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the run matrix without submitting it",
	Long: `Builds and validates the run matrix exactly as 'run' would, then prints its
dimensions. With --json the request body that would be submitted is printed.`,
	Example: `  verification-runner plan --all-finished --replicates 3
  verification-runner plan --questions q1 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cp, state, err := buildSession(cmd, cfg)
		if err != nil {
			return err
		}

		sel := state.Inputs()
		req, err := matrix.Build(sel, cp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if planJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(req)
		}

		p := matrix.Summarize(sel)
		table := output.NewTable(out, []string{"dimension", "size"})
		rows := [][]string{
			{"questions", strconv.Itoa(p.Questions)},
			{"answering models", strconv.Itoa(p.Answering)},
			{"parsing models", strconv.Itoa(p.Parsing)},
			{"replicates", strconv.Itoa(p.Replicates)},
			{"tasks", strconv.Itoa(p.Tasks)},
		}
		for _, r := range rows {
			if err := table.Append(r); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		if req.Config.FewShot != nil {
			fmt.Fprintf(out, "Few-shot: %s\n", req.Config.FewShot.GlobalMode)
		}
		fmt.Fprintf(out, "Evaluation mode: %s\n", req.Config.EvaluationMode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	addSelectionFlags(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the request body instead of the summary")
}
