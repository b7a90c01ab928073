package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known workflow sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the current and next phase of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <session-id>",
	Short: "Show progress, timings and quality of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

func runSessions(cmd *cobra.Command, args []string) error {
	ids, err := current.coordinator.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, ids)
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	fmt.Fprintf(out, "Sessions (%d):\n\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "- %s\n", id)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := current.coordinator.GetWorkflowStatus(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:   %s\n", status.SessionID)
	fmt.Fprintf(out, "Status:    %s\n", status.Status)
	fmt.Fprintf(out, "Current:   %s\n", status.CurrentPhase)
	if status.NextPhase != nil {
		fmt.Fprintf(out, "Next:      %s\n", *status.NextPhase)
	}
	fmt.Fprintf(out, "Completed: %s\n", joinPhases(status.CompletedPhases))
	if len(status.FailedPhases) > 0 {
		fmt.Fprintf(out, "Failed:    %s\n", joinPhases(status.FailedPhases))
	}
	if status.LastCheckpoint != nil {
		fmt.Fprintf(out, "Checkpoint: %s\n", status.LastCheckpoint.Format(time.RFC3339))
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	return printSummary(cmd, args[0])
}

func printSummary(cmd *cobra.Command, sessionID string) error {
	summary, err := current.coordinator.GenerateWorkflowSummary(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, summary)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", summary.CaseName, summary.SessionID)
	fmt.Fprintf(out, "  Status:   %s\n", summary.Status)
	fmt.Fprintf(out, "  Progress: %d/%d phases (%.0f%%)\n",
		summary.TotalPhasesCompleted, summary.TotalPhases, summary.ProgressPercentage)
	fmt.Fprintf(out, "  Time:     %s\n", summary.TotalExecutionTime.Round(time.Millisecond))
	if summary.AverageQuality != nil {
		fmt.Fprintf(out, "  Quality:  %.2f\n", *summary.AverageQuality)
	}
	if len(summary.Phases) > 0 {
		fmt.Fprintln(out)
		for _, p := range summary.Phases {
			line := fmt.Sprintf("  - %-12s %-10s %s", p.Phase, p.Status, p.ExecutionTime.Round(time.Millisecond))
			if p.QualityScore != nil {
				line += fmt.Sprintf("  q=%.2f", *p.QualityScore)
			}
			if p.Attempts > 1 {
				line += fmt.Sprintf("  attempts=%d", p.Attempts)
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func joinPhases[T ~string](phases []T) string {
	if len(phases) == 0 {
		return "-"
	}
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
