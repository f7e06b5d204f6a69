package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/engine"
)

var progressJSON bool

var progressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Fetch the backend's progress snapshot for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		snap, err := engine.New(cfg).GetProgress(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if progressJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		fmt.Fprintf(out, "Job:       %s\n", snap.JobID)
		fmt.Fprintf(out, "Status:    %s\n", snap.Status)
		fmt.Fprintf(out, "Progress:  %d/%d (%.1f%%)\n", snap.Processed, snap.Total, snap.Percentage)
		if snap.CurrentQuestion != "" {
			fmt.Fprintf(out, "Current:   %s\n", snap.CurrentQuestion)
		}
		if len(snap.InProgressQuestions) > 0 {
			fmt.Fprintf(out, "In flight: %s\n", strings.Join(snap.InProgressQuestions, ", "))
		}
		if snap.EstimatedTimeRemaining != nil {
			fmt.Fprintf(out, "ETA:       %s\n", (time.Duration(*snap.EstimatedTimeRemaining) * time.Second).Round(time.Second))
		}
		if snap.Error != "" {
			fmt.Fprintf(out, "Error:     %s\n", snap.Error)
		}
		if len(snap.Results) > 0 {
			fmt.Fprintf(out, "Results:   %d\n", len(snap.Results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.Flags().BoolVar(&progressJSON, "json", false, "Print the raw snapshot as JSON")
}
