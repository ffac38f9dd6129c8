package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/harness"
	"github.com/roach88/rvconform/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database          string // run log path; empty disables persistence
	Seed              uint64 // overrides every scenario's seed when set
	Filter            string // scenario filter (glob pattern on the name)
	Model             string // overrides every scenario's device model
	VerifyDeterminism bool   // run each scenario twice and compare digests

	seedSet bool
	ids     store.IDGenerator
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name          string            `json:"name"`
	Model         string            `json:"model,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	Pass          bool              `json:"pass"`
	Invariant     string            `json:"invariant,omitempty"`
	FirstEdge     int64             `json:"first_edge,omitempty"`
	Timeout       bool              `json:"timeout"`
	Edges         int64             `json:"edges"`
	Sent          int               `json:"sent"`
	Received      int               `json:"received"`
	Digest        string            `json:"digest,omitempty"`
	Deterministic *bool             `json:"deterministic,omitempty"`
	Violations    []check.Violation `json:"violations,omitempty"`
	Errors        []string          `json:"errors,omitempty"`
}

// RunResult holds the overall run result.
type RunResult struct {
	Batch     string           `json:"batch,omitempty"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(rootOpts, store.UUIDv7Generator{})
}

// newRunCommand allows injecting the ID generator for deterministic tests.
func newRunCommand(rootOpts *RootOptions, ids store.IDGenerator) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, ids: ids}

	cmd := &cobra.Command{
		Use:   "run [scenario files or directories...]",
		Short: "Run conformance scenarios",
		Long: `Run conformance scenarios against a device model.

With no arguments the built-in scenarios are run. Otherwise every
.yaml/.yml file named, or found in a named directory, is loaded.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid scenario files, database errors, etc.)

Examples:
  rvconform run
  rvconform run ./scenarios --filter "stall*"
  rvconform run --model pipereg-drop --format json
  rvconform run --db runs.db --verify-determinism`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "override the seed of every scenario")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Model, "model", "", "override the device model of every scenario")
	cmd.Flags().BoolVar(&opts.VerifyDeterminism, "verify-determinism", false, "run each scenario twice and compare transcripts")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	scenarios, err := loadScenarios(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	scenarios, err = filterScenarios(scenarios, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarios)),
		Total:     len(scenarios),
	}

	if len(scenarios) == 0 {
		if opts.Format == "json" {
			return outputRunJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		result.Batch = opts.ids.Generate()
	}

	r := &runner{
		opts:   opts,
		store:  st,
		batch:  result.Batch,
		logger: newLogger(opts.RootOptions, cmd.ErrOrStderr()),
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	for _, sc := range scenarios {
		if opts.Model != "" {
			sc.Device.Model = opts.Model
		}
		sr, err := r.run(cmd.Context(), sc)
		if err != nil {
			return err
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}

func loadScenarios(paths []string) ([]*harness.Scenario, error) {
	if len(paths) == 0 {
		return harness.Builtin()
	}
	return harness.LoadScenarios(paths...)
}

// filterScenarios keeps the scenarios whose name matches pattern.
func filterScenarios(scenarios []*harness.Scenario, pattern string) ([]*harness.Scenario, error) {
	if pattern == "" {
		return scenarios, nil
	}
	var out []*harness.Scenario
	for _, sc := range scenarios {
		matched, err := filepath.Match(pattern, sc.Name)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, sc)
		}
	}
	return out, nil
}

type runner struct {
	opts   *RunOptions
	store  *store.Store
	batch  string
	logger *slog.Logger
	out    *OutputFormatter
}

// run executes one scenario. Scenario failures are reported in the
// result; only run log errors are returned.
func (r *runner) run(ctx context.Context, sc *harness.Scenario) (ScenarioResult, error) {
	hopts := []harness.Option{harness.WithLogger(r.logger)}
	if r.opts.seedSet {
		hopts = append(hopts, harness.WithSeed(r.opts.Seed))
	}

	w := r.out.Writer
	text := r.opts.Format != "json"

	res, err := harness.Run(ctx, sc, hopts...)
	if err != nil {
		if text {
			fmt.Fprintf(w, "✗ %s\n", sc.Name)
			fmt.Fprintf(w, "  Execution error: %v\n", err)
		}
		sr := ScenarioResult{
			Name:   sc.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
		if res != nil {
			sr.Sent, sr.Received, sr.Edges = len(res.Sent), len(res.Received), res.Edges
		}
		return sr, nil
	}

	sr := ScenarioResult{
		Name:       res.Scenario,
		Model:      res.Model,
		Pass:       res.Pass,
		Invariant:  res.Invariant,
		FirstEdge:  res.FirstEdge,
		Timeout:    res.Timeout,
		Edges:      res.Edges,
		Sent:       len(res.Sent),
		Received:   len(res.Received),
		Digest:     res.Digest,
		Violations: res.Violations,
		Errors:     res.Errors,
	}

	if r.opts.VerifyDeterminism {
		again, err := harness.Run(ctx, sc, hopts...)
		same := err == nil && again.Digest == res.Digest
		sr.Deterministic = &same
		if !same {
			sr.Pass = false
			if err != nil {
				sr.Errors = append(sr.Errors, fmt.Sprintf("repeat run failed: %v", err))
			} else {
				sr.Errors = append(sr.Errors, fmt.Sprintf("non-deterministic: digest %s != %s", again.Digest, res.Digest))
			}
		}
	}

	if r.store != nil {
		sr.RunID = r.opts.ids.Generate()
		_, err := r.store.WriteRun(ctx, store.Run{
			ID:         sr.RunID,
			Batch:      r.batch,
			Scenario:   res.Scenario,
			Model:      res.Model,
			Seed:       res.Seed,
			Pass:       sr.Pass,
			Invariant:  res.Invariant,
			FirstEdge:  res.FirstEdge,
			Edges:      res.Edges,
			Timeout:    res.Timeout,
			Digest:     res.Digest,
			Sent:       res.Sent,
			Received:   res.Received,
			Violations: res.Violations,
		})
		if err != nil {
			return sr, WrapExitError(ExitCommandError, "failed to record run", err)
		}
	}

	if text {
		printScenario(r.out, sr, res)
	}
	return sr, nil
}

func printScenario(out *OutputFormatter, sr ScenarioResult, res *harness.Result) {
	w := out.Writer
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s (%s, %d transfers, %d edges)\n", sr.Name, sr.Model, sr.Received, sr.Edges)
		return
	}

	fmt.Fprintf(w, "✗ %s (%s, %d/%d transfers, %d edges)\n", sr.Name, sr.Model, sr.Received, sr.Sent, sr.Edges)
	for _, v := range sr.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	for _, snap := range res.Window {
		out.VerboseLog("    %s", snap)
	}
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}

	var cliErr *CLIError
	if result.Failed > 0 {
		cliErr = &CLIError{
			Code:    CodeScenarioFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := out.Result(result, cliErr); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputRunText outputs the run summary as human-readable text.
func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	if result.Batch != "" {
		fmt.Fprintf(w, "Batch: %s\n", result.Batch)
	}
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
