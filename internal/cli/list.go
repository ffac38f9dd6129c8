package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rvconform/internal/device"
	"github.com/roach88/rvconform/internal/harness"
)

// ScenarioInfo describes one built-in scenario.
type ScenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Model       string `json:"model,omitempty"`
}

// ListResult is the catalogue printed by the list command.
type ListResult struct {
	Scenarios []ScenarioInfo `json:"scenarios"`
	Models    []string       `json:"models"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios and device models",
		Long: `List the built-in scenarios and the registered device models.

Any model can be passed to "rvconform run --model". Models with a
suffix after "pipereg" carry a deliberate defect and are expected to
fail.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	scenarios, err := harness.Builtin()
	if err != nil {
		out.Error(CodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load built-in scenarios", err)
	}

	result := ListResult{
		Scenarios: make([]ScenarioInfo, 0, len(scenarios)),
		Models:    device.Models(),
	}
	for _, sc := range scenarios {
		result.Scenarios = append(result.Scenarios, ScenarioInfo{
			Name:        sc.Name,
			Description: sc.Description,
			Model:       sc.Device.Model,
		})
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Scenarios:")
	for _, s := range result.Scenarios {
		fmt.Fprintf(w, "  %-14s %s\n", s.Name, s.Description)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Models:")
	for _, m := range result.Models {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return nil
}
