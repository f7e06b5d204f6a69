/*
PURPOSE:
  Defines the 'run' subcommand.
  Submits one verification run and follows it to a terminal state.

REQUIREMENTS:
  User-specified:
  - Run the verification matrix built from config + flags.
  - Show live progress; Ctrl-C cancels the job.
  - Results accumulate in the results file across invocations.

  Implementation-discovered:
  - Need to load config and the checkpoint first.
  - Apply flag overrides to the session state, not the config.
  - The metrics endpoint must outlive the run until the summary is printed.

ARCHITECTURE INTEGRATION:
  - Calls: internal/orchestrator, internal/engine, internal/progress
  - Uses: internal/config, internal/session, internal/results

ERROR HANDLING:
  - Validation and submission errors are returned before anything is written.
  - A failed job returns its error after the results file is saved.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Checkpoint -> Session overrides -> Orchestrator.

USAGE:
  verification-runner run --all-finished --replicates 3

SELF-HEALING INSTRUCTIONS:
  - Check flag names match RunDefaults fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/orchestrator/orchestrator.go

MAINTENANCE:
  - Update when adding new selection overrides.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/verification-runner/internal/checkpoint"
	"github.com/daryltucker/verification-runner/internal/config"
	"github.com/daryltucker/verification-runner/internal/engine"
	"github.com/daryltucker/verification-runner/internal/matrix"
	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/orchestrator"
	"github.com/daryltucker/verification-runner/internal/output"
	"github.com/daryltucker/verification-runner/internal/progress"
	"github.com/daryltucker/verification-runner/internal/results"
	"github.com/daryltucker/verification-runner/internal/session"
	"github.com/daryltucker/verification-runner/internal/tracker"
)

var (
	questionsOverride  []string
	allFinished        bool
	replicatesOverride int
	runNameOverride    string
	fewShotOverride    string
	fewShotKOverride   int
	checkpointOverride string
	metricsAddr        string
	outputOverride     string
	noExport           bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a verification run and follow it",
	Long: `Builds the run matrix from the config's run block and the flags below,
submits it as a single job and follows the job over the progress channel.

Every answering model is paired with every parsing model, for every replicate
and every selected question. The task count is printed before submission.

On completion the authoritative results are fetched and merged into the results
file; earlier runs are never overwritten. CSV and JSON Lines exports of the
run's results are written to the output directory. Ctrl-C cancels the job.`,
	Example: `  # Run every finished question in the checkpoint
  verification-runner run --all-finished

  # Three replicates of two questions, named
  verification-runner run --questions q1,q2 --replicates 3 --run-name nightly

  # k-shot prompting with two examples, metrics on :9090
  verification-runner run --all-finished --few-shot k-shot --few-shot-k 2 --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunOverrides(cfg)

		cp, state, err := buildSession(cmd, cfg)
		if err != nil {
			return err
		}

		coll, err := results.LoadFile(cfg.ResultsFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return executeRun(ctx, cmd.OutOrStdout(), cfg, cp, state, coll)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSelectionFlags(runCmd)

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for CSV/JSON exports")
	runCmd.Flags().BoolVar(&noExport, "no-export", false, "Skip the CSV/JSON export of this run's results")
}

// addSelectionFlags registers the flags that shape the run matrix.
func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&questionsOverride, "questions", nil, "Comma-separated question ids to run")
	cmd.Flags().BoolVar(&allFinished, "all-finished", false, "Select every finished question in the checkpoint")
	cmd.Flags().IntVar(&replicatesOverride, "replicates", 0, "Replicate count (clamped to 1-10)")
	cmd.Flags().StringVar(&runNameOverride, "run-name", "", "Name attached to every result of the run")
	cmd.Flags().StringVar(&fewShotOverride, "few-shot", "", "Few-shot mode: disabled, all, k-shot, custom")
	cmd.Flags().IntVar(&fewShotKOverride, "few-shot-k", 0, "Examples per question in k-shot mode")
	cmd.Flags().StringVar(&checkpointOverride, "checkpoint", "", "Checkpoint JSON file (overrides config)")
}

func applyRunOverrides(cfg *config.Config) {
	if outputOverride != "" {
		cfg.OutputDir = outputOverride
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
}

// buildSession loads the checkpoint and seeds the session state from the
// config's run block plus the selection flags.
func buildSession(cmd *cobra.Command, cfg *config.Config) (model.Checkpoint, *session.State, error) {
	if checkpointOverride != "" {
		cfg.Checkpoint = checkpointOverride
	}
	cp, err := checkpoint.Load(cfg.Checkpoint)
	if err != nil {
		return nil, nil, err
	}

	state := session.FromSelection(cfg.Run.Selection())
	flags := cmd.Flags()
	if allFinished {
		state.SelectQuestions(checkpoint.Finished(cp))
	}
	if flags.Changed("questions") {
		state.SelectQuestions(questionsOverride)
	}
	if flags.Changed("replicates") {
		if got := state.SetReplicateCount(replicatesOverride); got != replicatesOverride {
			output.Logger.Warn("Replicate count clamped", "requested", replicatesOverride, "using", got)
		}
	}
	if flags.Changed("run-name") {
		state.SetRunName(runNameOverride)
	}
	if flags.Changed("few-shot") || flags.Changed("few-shot-k") {
		fs := state.Inputs().FewShot
		if flags.Changed("few-shot") {
			fs.Mode = model.FewShotMode(fewShotOverride)
		}
		if flags.Changed("few-shot-k") {
			fs.K = fewShotKOverride
		}
		state.SetFewShot(fs)
	}
	return cp, state, nil
}

func executeRun(ctx context.Context, out io.Writer, cfg *config.Config, cp model.Checkpoint, state *session.State, coll *results.Collection) error {
	plan := matrix.Summarize(state.Inputs())
	fmt.Fprintf(out, "Run matrix: %d questions x %d answering x %d parsing x %d replicates = %d tasks\n",
		plan.Questions, plan.Answering, plan.Parsing, plan.Replicates, plan.Tasks)

	bar := progressbar.NewOptions(plan.Tasks,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("submitting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	o := orchestrator.New(orchestrator.Options{
		LivenessTimeout: cfg.LivenessTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		CancelTimeout:   cfg.RequestTimeout,
		OnSnapshot:      func(s tracker.Snapshot) { renderSnapshot(bar, s) },
	}, state, cp, engine.New(cfg), progress.NewDialer(cfg.ServerURL, cfg.RequestTimeout), coll)
	defer o.Close()

	// Bind before submitting so a busy port never cancels a live job.
	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		metricsLn = ln
	}

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			output.Logger.Info("Serving metrics", "addr", metricsLn.Addr().String())
			if err := srv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-runDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var snap tracker.Snapshot
	var jobID string
	g.Go(func() error {
		defer close(runDone)

		h, err := o.Start(ctx)
		if errors.Is(err, orchestrator.ErrCancelledDuringSubmit) {
			_ = bar.Clear()
			jobID, snap = h.JobID, o.Snapshot()
			return nil
		}
		if err != nil {
			_ = bar.Clear()
			return err
		}
		jobID = h.JobID
		fmt.Fprintf(out, "Submitted job %s\n", jobID)

		waitDone := make(chan struct{})
		go func() {
			select {
			case <-gctx.Done():
				if o.Cancel(context.Background()) {
					fmt.Fprintln(out, "\nCancellation requested")
				}
			case <-waitDone:
			}
		}()
		snap, err = o.Wait(context.Background())
		close(waitDone)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return reportRun(out, cfg, coll, jobID, snap)
}

func renderSnapshot(bar *progressbar.ProgressBar, s tracker.Snapshot) {
	if s.Total > 0 && s.Total != bar.GetMax() {
		bar.ChangeMax(s.Total)
	}
	desc := string(s.Phase)
	if s.CurrentQuestion != "" {
		desc = fmt.Sprintf("%s %s", s.Phase, s.CurrentQuestion)
	}
	if s.EstimatedTimeRemaining != nil {
		desc = fmt.Sprintf("%s (eta %s)", desc, etaDuration(*s.EstimatedTimeRemaining))
	}
	bar.Describe(desc)
	_ = bar.Set(s.Processed)
}

func etaDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second)
}

func reportRun(out io.Writer, cfg *config.Config, coll *results.Collection, jobID string, snap tracker.Snapshot) error {
	if err := coll.SaveFile(cfg.ResultsFile); err != nil {
		return err
	}

	switch snap.Phase {
	case tracker.PhaseCancelled:
		fmt.Fprintf(out, "Job %s cancelled\n", jobID)
		return nil
	case tracker.PhaseFailed:
		return fmt.Errorf("verification job %s failed: %s", jobID, snap.Error)
	}

	runResults := coll.ByJob(jobID)
	if err := printSummary(out, runResults); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d results added; %d in %s\n", len(runResults), coll.Len(), cfg.ResultsFile)

	if !noExport && len(runResults) > 0 {
		base := "verification_results_" + jobID
		csvPath, jsonPath, err := results.Export(cfg.OutputDir, base, runResults)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %s and %s\n", filepath.Base(csvPath), filepath.Base(jsonPath))
	}

	if snap.Error != "" {
		return errors.New(snap.Error)
	}
	return nil
}
