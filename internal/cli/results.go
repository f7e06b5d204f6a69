package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
	"github.com/daryltucker/verification-runner/internal/results"
)

var (
	resultsJob     string
	resultsFileArg string
	exportBase     string
	clearConfirmed bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect, export or clear the accumulated results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Summarize accumulated results per model pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openResults()
		if err != nil {
			return err
		}
		rs := selectResults(store.coll)
		if len(rs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No results")
			return nil
		}
		return printSummary(cmd.OutOrStdout(), rs)
	},
}

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write accumulated results to CSV and JSON Lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openResults()
		if err != nil {
			return err
		}
		dir := store.outputDir
		if outputOverride != "" {
			dir = outputOverride
		}
		csvPath, jsonPath, err := results.Export(dir, exportBase, selectResults(store.coll))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", csvPath, jsonPath)
		return nil
	},
}

var resultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Permanently delete all accumulated results",
	Long:  `Empties the results file. This cannot be undone and requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openResults()
		if err != nil {
			return err
		}
		n, err := store.coll.Clear(clearConfirmed)
		if errors.Is(err, results.ErrClearNotConfirmed) {
			return fmt.Errorf("%w: rerun with --yes", err)
		}
		if err != nil {
			return err
		}
		if err := store.coll.SaveFile(store.path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d results\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsExportCmd, resultsClearCmd)

	resultsCmd.PersistentFlags().StringVar(&resultsFileArg, "results-file", "", "Results file (overrides config)")
	resultsListCmd.Flags().StringVar(&resultsJob, "job", "", "Only results of this job")
	resultsExportCmd.Flags().StringVar(&resultsJob, "job", "", "Only results of this job")
	resultsExportCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory (overrides config)")
	resultsExportCmd.Flags().StringVar(&exportBase, "name", "verification_results", "Base file name for the exports")
	resultsClearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm the deletion")
}

// resultsStore is the loaded results file and where it came from.
type resultsStore struct {
	coll      *results.Collection
	path      string
	outputDir string
}

// openResults loads the config and the results file it names.
func openResults() (*resultsStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.ResultsFile
	if resultsFileArg != "" {
		path = resultsFileArg
	}
	coll, err := results.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &resultsStore{coll: coll, path: path, outputDir: cfg.OutputDir}, nil
}

func selectResults(coll *results.Collection) []model.VerificationResult {
	if resultsJob != "" {
		return coll.ByJob(resultsJob)
	}
	return coll.All()
}

// printSummary renders one row per model pair plus a total row.
func printSummary(w io.Writer, rs []model.VerificationResult) error {
	groups, keys := results.ByModelPair(rs)
	table := output.NewTable(w, []string{"models", "total", "pass", "fail", "abstained", "error", "pass rate", "tokens"})

	row := func(name string, s results.Summary) []string {
		return []string{
			name,
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Passed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Abstained),
			strconv.Itoa(s.Errored),
			fmt.Sprintf("%.1f%%", s.PassRate()*100),
			strconv.Itoa(s.TotalTokens),
		}
	}
	for _, k := range keys {
		if err := table.Append(row(k, groups[k])); err != nil {
			return err
		}
	}
	if len(keys) > 1 {
		if err := table.Append(row("all", results.Summarize(rs))); err != nil {
			return err
		}
	}
	return table.Render()
}
