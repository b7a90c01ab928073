package cli

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/brieflow/internal/evidence"
	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	evidenceCaseType string
	evidenceMeta     map[string]string
	evidenceNoWait   bool
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Queue and inspect case evidence",
	Long: `Queue evidence files for classification and inspect the results.

Subcommands:
  add     Queue files and classify them
  status  Show counters and statistics of a case
  cancel  Cancel a queued or processing item
  resume  Re-queue items a previous run left unfinished

Examples:
  brieflow evidence add doe-acme er-visit.md police-report.txt --case-type personal_injury
  brieflow evidence status doe-acme
  brieflow evidence cancel doe-acme 2b7e...`,
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add <case-id> <file>...",
	Short: "Queue files for classification",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runEvidenceAdd,
}

var evidenceStatusCmd = &cobra.Command{
	Use:   "status <case-id>",
	Short: "Show the evidence queue of a case",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvidenceStatus,
}

var evidenceCancelCmd = &cobra.Command{
	Use:   "cancel <case-id> <item-id>",
	Short: "Cancel a queued or processing item",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvidenceCancel,
}

var evidenceResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Re-queue unfinished items of every case and wait for them",
	Args:  cobra.NoArgs,
	RunE:  runEvidenceResume,
}

func init() {
	evidenceAddCmd.Flags().StringVarP(&evidenceCaseType, "case-type", "t", evidence.CaseGeneral, "case type for a new queue")
	evidenceAddCmd.Flags().StringToStringVarP(&evidenceMeta, "meta", "m", nil, "metadata key=value pairs")
	evidenceAddCmd.Flags().BoolVar(&evidenceNoWait, "no-wait", false, "queue only; classification resumes on a later run")

	evidenceCmd.AddCommand(evidenceAddCmd)
	evidenceCmd.AddCommand(evidenceStatusCmd)
	evidenceCmd.AddCommand(evidenceCancelCmd)
	evidenceCmd.AddCommand(evidenceResumeCmd)
}

func runEvidenceAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	caseID, files := args[0], args[1:]

	q, err := current.evidence.GetOrCreateQueue(ctx, caseID, evidenceCaseType)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}

	metadata := make(map[string]any, len(evidenceMeta))
	for k, v := range evidenceMeta {
		metadata[k] = v
	}

	var added []models.EvidenceQueueItem
	for _, file := range files {
		ref, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		item, err := q.Add(ctx, ref, filepath.Base(file), metadata)
		if err != nil {
			return fmt.Errorf("queue %s: %w", file, err)
		}
		added = append(added, item)
	}

	if evidenceNoWait {
		if jsonOutput {
			return printJSON(cmd, added)
		}
		for _, item := range added {
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", item.Filename, item.ItemID)
		}
		return nil
	}

	if jsonOutput {
		if err := q.Wait(ctx); err != nil {
			return err
		}
		return printJSON(cmd, q.Status())
	}
	_, err = RunQueueProgress(cmd.OutOrStdout(), q.Status, func() error { return q.Wait(ctx) })
	return err
}

func runEvidenceStatus(cmd *cobra.Command, args []string) error {
	status, err := current.evidence.QueueStatus(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Case %s (%s): %d items\n", status.CaseID, status.CaseType, status.Total)
	fmt.Fprintf(out, "  queued=%d processing=%d completed=%d error=%d cancelled=%d\n",
		status.Queued, status.Processing, status.Completed, status.ErrorCount, status.Cancelled)
	fmt.Fprintf(out, "  primary=%.0f%% avg_confidence=%.2f\n", status.PrimaryPercentage, status.AverageConfidence)
	if len(status.EvidenceTypeBreakdown) > 0 {
		types := make([]string, 0, len(status.EvidenceTypeBreakdown))
		for t, n := range status.EvidenceTypeBreakdown {
			types = append(types, fmt.Sprintf("%s=%d", t, n))
		}
		slices.Sort(types)
		fmt.Fprintf(out, "  types: %s\n", strings.Join(types, ", "))
	}
	if verbose {
		q, err := current.evidence.Queue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		for _, item := range q.Items() {
			line := fmt.Sprintf("  - %s %-10s %s", item.ItemID, item.Status, item.Filename)
			if item.EvidenceType != "" {
				line += fmt.Sprintf(" [%s/%s]", item.EvidenceClass, item.EvidenceType)
			}
			if item.Error != "" {
				line += " " + item.Error
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func runEvidenceCancel(cmd *cobra.Command, args []string) error {
	outcome, err := current.evidence.CancelItem(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("cancel item: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"item_id": args[1], "outcome": outcome})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Item %s: %s\n", args[1], outcome)
	return nil
}

func runEvidenceResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	n, err := current.evidence.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume evidence: %w", err)
	}
	for _, caseID := range current.evidence.Cases() {
		q, err := current.evidence.Queue(ctx, caseID)
		if err != nil {
			return err
		}
		if err := q.Wait(ctx); err != nil {
			return err
		}
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"resumed": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d items\n", n)
	return nil
}
