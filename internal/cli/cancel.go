package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/engine"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Ask the backend to cancel a job",
	Long: `Sends a best-effort cancellation request. The backend may already have
finished the job; a 'run' in progress cancels its own job on Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := engine.New(cfg).CancelVerification(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
