package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	runPhase  string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Run the next phase or every remaining phase of a session",
	Long: `Run phases of a workflow session.

Without --phase every remaining phase runs in order and the run stops at the
first failure. Phases run through the configured language model. With
--output the phase result is read from a YAML or JSON file instead, which
lets a person complete a phase by hand.

Examples:
  brieflow run 4f1c...
  brieflow run 4f1c... --phase intake
  brieflow run 4f1c... --phase review --output review.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPhase, "phase", "p", "", "run only this phase")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "YAML/JSON file with the phase output (requires --phase)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := args[0]

	if runOutput != "" {
		if runPhase == "" {
			return fmt.Errorf("--output requires --phase")
		}
		output, err := readOutputFile(runOutput)
		if err != nil {
			return err
		}
		err = current.registry.Register(models.Phase(runPhase), func(context.Context, map[string]any) (map[string]any, error) {
			return output, nil
		})
		if err != nil {
			return err
		}
	}

	var results []models.PhaseResult
	if runPhase != "" {
		result, err := current.coordinator.OrchestratePhase(ctx, sessionID, models.Phase(runPhase))
		if err != nil {
			return fmt.Errorf("run phase %s: %w", runPhase, err)
		}
		results = append(results, result)
	} else {
		var err error
		results, err = current.coordinator.RunRemaining(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("run session %s: %w", sessionID, err)
		}
	}

	if jsonOutput {
		return printJSON(cmd, results)
	}
	out := cmd.OutOrStdout()
	for _, r := range results {
		switch r.Status {
		case models.PhaseStatusCompleted:
			fmt.Fprintf(out, "✓ %s completed in %s", r.PhaseID, r.ExecutionTime.Round(time.Millisecond))
			if r.QualityScore != nil {
				fmt.Fprintf(out, " (quality %.2f)", *r.QualityScore)
			}
			fmt.Fprintln(out)
		default:
			fmt.Fprintf(out, "✗ %s failed: %s\n", r.PhaseID, r.Error)
		}
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "Nothing to run.")
	}
	return nil
}

// readOutputFile parses a phase output document. YAML is a superset of JSON, so both work.
func readOutputFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	var output map[string]any
	if err := yaml.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parse output file: %w", err)
	}
	if output == nil {
		output = map[string]any{}
	}
	return output, nil
}
