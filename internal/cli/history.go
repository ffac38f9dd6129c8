package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rvconform/internal/harness"
	"github.com/roach88/rvconform/internal/signal"
	"github.com/roach88/rvconform/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Scenario string
	Batch    string
	Limit    int
	Verify   bool // re-run a recorded built-in scenario and compare digests
}

// RunSummary is one row of the history listing.
type RunSummary struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Batch     string `json:"batch,omitempty"`
	Scenario  string `json:"scenario"`
	Model     string `json:"model"`
	Seed      uint64 `json:"seed"`
	Pass      bool   `json:"pass"`
	Invariant string `json:"invariant,omitempty"`
	FirstEdge int64  `json:"first_edge,omitempty"`
	Edges     int64  `json:"edges"`
	Timeout   bool   `json:"timeout"`
	Digest    string `json:"digest"`
}

// RunDetail is a single recorded run with its transfers and violations.
type RunDetail struct {
	RunSummary
	Sent       []signal.Transfer `json:"sent"`
	Received   []signal.Transfer `json:"received"`
	Violations []string          `json:"violations"`
	Verified   *bool             `json:"verified,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded with "rvconform run --db".

Without arguments the most recent runs are listed. With a run ID the
run's transfers and violations are shown. --verify re-runs a recorded
built-in scenario with the recorded seed and model and checks that the
transcript digest is unchanged.

Exit codes:
  0 - Success
  1 - Verification failed (digest differs)
  2 - Command error (database not found, unknown run, etc.)

Examples:
  rvconform history --db runs.db
  rvconform history --db runs.db --scenario stress --limit 5
  rvconform history --db runs.db 0190a1b2-... --verify`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryDetail(cmd, opts, args[0])
			}
			return runHistoryList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "only runs of this batch")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "re-run the recorded scenario and compare digests")

	return cmd
}

// openHistory opens an existing run log. Unlike store.Open it refuses to
// create a new database.
func openHistory(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runHistoryList(cmd *cobra.Command, opts *HistoryOptions) error {
	st, err := openHistory(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), store.ListFilter{
		Scenario: opts.Scenario,
		Batch:    opts.Batch,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = summarize(r)
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return out.Success(summaries)
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}
	for _, s := range summaries {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %4d %s %-14s %-24s %6d edges  %s\n",
			mark, s.Seq, s.ID, s.Scenario, s.Model, s.Edges, shortDigest(s.Digest))
		if !s.Pass && s.Invariant != "" {
			fmt.Fprintf(w, "       first violation: %s at edge %d\n", s.Invariant, s.FirstEdge)
		}
	}
	return nil
}

func runHistoryDetail(cmd *cobra.Command, opts *HistoryOptions, id string) error {
	ctx := cmd.Context()

	st, err := openHistory(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := st.ReadRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		out.Error(CodeNotFound, fmt.Sprintf("run %s not found", id), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	detail := RunDetail{
		RunSummary: summarize(r),
		Sent:       r.Sent,
		Received:   r.Received,
		Violations: make([]string, len(r.Violations)),
	}
	for i, v := range r.Violations {
		detail.Violations[i] = v.String()
	}

	var verifyErr error
	if opts.Verify {
		same, err := verifyRun(ctx, newLogger(opts.RootOptions, cmd.ErrOrStderr()), r)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to re-run scenario", err)
		}
		detail.Verified = &same
		if !same {
			verifyErr = NewExitError(ExitFailure, fmt.Sprintf("run %s is not reproducible", id))
		}
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		var cliErr *CLIError
		if verifyErr != nil {
			cliErr = &CLIError{Code: CodeScenarioFailed, Message: verifyErr.Error()}
		}
		if err := out.Result(detail, cliErr); err != nil {
			return err
		}
		return verifyErr
	}

	printRunDetail(cmd, detail)
	return verifyErr
}

// verifyRun re-runs the recorded built-in scenario and reports whether the
// transcript digest matches.
func verifyRun(ctx context.Context, logger *slog.Logger, r store.Run) (bool, error) {
	sc, err := harness.BuiltinScenario(r.Scenario)
	if err != nil {
		return false, err
	}
	sc.Device.Model = r.Model

	res, err := harness.Run(ctx, sc,
		harness.WithSeed(r.Seed),
		harness.WithLogger(logger),
	)
	if err != nil {
		return false, err
	}
	return res.Digest == r.Digest, nil
}

func printRunDetail(cmd *cobra.Command, d RunDetail) {
	w := cmd.OutOrStdout()

	result := "PASS"
	if !d.Pass {
		result = "FAIL"
	}
	fmt.Fprintf(w, "Run:      %s (seq %d)\n", d.ID, d.Seq)
	if d.Batch != "" {
		fmt.Fprintf(w, "Batch:    %s\n", d.Batch)
	}
	fmt.Fprintf(w, "Scenario: %s\n", d.Scenario)
	fmt.Fprintf(w, "Model:    %s\n", d.Model)
	fmt.Fprintf(w, "Seed:     %d\n", d.Seed)
	fmt.Fprintf(w, "Result:   %s\n", result)
	if d.Timeout {
		fmt.Fprintln(w, "Timeout:  yes")
	}
	fmt.Fprintf(w, "Edges:    %d\n", d.Edges)
	fmt.Fprintf(w, "Digest:   %s\n", d.Digest)

	fmt.Fprintf(w, "\nSent (%d):\n", len(d.Sent))
	for _, t := range d.Sent {
		fmt.Fprintf(w, "  [%d] %#x @ edge %d\n", t.Index, t.Value, t.Edge)
	}
	fmt.Fprintf(w, "Received (%d):\n", len(d.Received))
	for _, t := range d.Received {
		fmt.Fprintf(w, "  [%d] %#x @ edge %d\n", t.Index, t.Value, t.Edge)
	}
	if len(d.Violations) > 0 {
		fmt.Fprintf(w, "Violations (%d):\n", len(d.Violations))
		for _, v := range d.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
	if d.Verified != nil {
		if *d.Verified {
			fmt.Fprintln(w, "\n✓ Re-run matches recorded digest")
		} else {
			fmt.Fprintln(w, "\n✗ Re-run digest differs from recorded digest")
		}
	}
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		Seq:       r.Seq,
		ID:        r.ID,
		Batch:     r.Batch,
		Scenario:  r.Scenario,
		Model:     r.Model,
		Seed:      r.Seed,
		Pass:      r.Pass,
		Invariant: r.Invariant,
		FirstEdge: r.FirstEdge,
		Edges:     r.Edges,
		Timeout:   r.Timeout,
		Digest:    r.Digest,
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
