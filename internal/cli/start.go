package cli

import (
	"fmt"

	"github.com/raphaelgruber/brieflow/internal/workflow"
	"github.com/spf13/cobra"
)

var (
	startCaseID   string
	startCaseType string
	startInputs   []string
	startKGID     string
	startFeedback bool
	startRunAll   bool
)

var startCmd = &cobra.Command{
	Use:   "start <case-name>",
	Short: "Start a new workflow session",
	Long: `Start a new workflow session positioned at the intake phase.

The session is checkpointed immediately, so it can be continued by later
invocations with 'brieflow run <session-id>'.

Examples:
  brieflow start "Doe v. Acme Corp"
  brieflow start "Doe v. Acme Corp" --case-id doe-acme --case-type personal_injury
  brieflow start "Doe v. Acme Corp" --input complaint.md --input er-visit.pdf --run`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startCaseID, "case-id", "", "case identifier (defaults to the session ID)")
	startCmd.Flags().StringVarP(&startCaseType, "case-type", "t", "", "case type (personal_injury, employment, contract, general)")
	startCmd.Flags().StringSliceVarP(&startInputs, "input", "i", nil, "input document references")
	startCmd.Flags().StringVar(&startKGID, "knowledge-graph", "", "knowledge graph ID")
	startCmd.Flags().BoolVar(&startFeedback, "human-feedback", false, "mark the session as requiring human feedback")
	startCmd.Flags().BoolVar(&startRunAll, "run", false, "run every phase after starting")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sessionID, err := current.coordinator.StartWorkflow(ctx, workflow.StartRequest{
		CaseName:              args[0],
		CaseID:                startCaseID,
		CaseType:              startCaseType,
		KnowledgeGraphID:      startKGID,
		InputDocuments:        startInputs,
		HumanFeedbackRequired: startFeedback,
	})
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}

	if startRunAll {
		if _, err := current.coordinator.RunRemaining(ctx, sessionID); err != nil {
			return fmt.Errorf("run session %s: %w", sessionID, err)
		}
		return printSummary(cmd, sessionID)
	}

	if jsonOutput {
		return printJSON(cmd, map[string]string{"session_id": sessionID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started session: %s\n", sessionID)
	return nil
}
