package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var restoreAt string

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage session checkpoints",
	Long: `Inspect and manage session checkpoints.

Subcommands:
  list     List checkpoints of a session, newest first
  create   Checkpoint a session now
  restore  Roll a session back to its latest or a given checkpoint
  delete   Delete a session and all of its checkpoints
  stats    Show checkpoint storage statistics

Examples:
  brieflow checkpoints list 4f1c...
  brieflow checkpoints restore 4f1c... --at 2024-05-01T10:00:00.123456789Z
  brieflow checkpoints stats`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List checkpoints of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Checkpoint a session now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsCreate,
}

var checkpointsRestoreCmd = &cobra.Command{
	Use:   "restore <session-id>",
	Short: "Roll a session back to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsRestore,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsDelete,
}

var checkpointsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show checkpoint storage statistics",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsStats,
}

func init() {
	checkpointsRestoreCmd.Flags().StringVar(&restoreAt, "at", "", "checkpoint timestamp (RFC 3339); latest if empty")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsCreateCmd)
	checkpointsCmd.AddCommand(checkpointsRestoreCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
	checkpointsCmd.AddCommand(checkpointsStatsCmd)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	infos, err := current.checkpoints.List(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, infos)
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}
	fmt.Fprintf(out, "Checkpoints (%d):\n\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(out, "- %s  %d bytes\n", info.Timestamp.Format(time.RFC3339Nano), info.Size)
	}
	return nil
}

func runCheckpointsCreate(cmd *cobra.Command, args []string) error {
	info, err := current.coordinator.Checkpoint(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, info)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created checkpoint: %s\n", info.Key)
	return nil
}

func runCheckpointsRestore(cmd *cobra.Command, args []string) error {
	var at *time.Time
	if restoreAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, restoreAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		at = &ts
	}

	session, err := current.coordinator.ResumeSession(cmd.Context(), args[0], at)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	// Persist the rollback so later invocations continue from it.
	if _, err := current.coordinator.Checkpoint(cmd.Context(), session.SessionID); err != nil {
		return fmt.Errorf("checkpoint restored session: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, session)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored session %s at phase %s (%s)\n",
		session.SessionID, session.CurrentPhase, session.OverallStatus)
	return nil
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) error {
	n, err := current.coordinator.DeleteSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"session_id": args[0], "deleted": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s (%d checkpoints)\n", args[0], n)
	return nil
}

func runCheckpointsStats(cmd *cobra.Command, args []string) error {
	stats, err := current.checkpoints.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("checkpoint stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{
			"storage": stats,
			"metrics": current.metrics.Snapshot(),
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checkpoints: %d\n", stats.TotalCheckpoints)
	fmt.Fprintf(out, "Sessions:    %d\n", stats.Sessions)
	fmt.Fprintf(out, "Size:        %d bytes\n", stats.TotalSizeBytes)
	fmt.Fprintf(out, "Keep count:  %d\n", current.checkpoints.KeepCount())
	return nil
}
