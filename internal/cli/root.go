// Package cli provides the command-line interface for brieflow.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/brieflow/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	jsonOutput bool

	// Components of the current invocation
	current    *app
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "brieflow",
	Short: "Checkpointed legal document workflow",
	Long: `Brieflow drives a legal case through the document production pipeline
(intake, research, outline, review, drafting, editing, compilation).

Every phase result is checkpointed, so a session can be resumed after a crash
or rolled back to an earlier checkpoint. Evidence files are classified in the
background and their facts feed every phase.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip wiring for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		var logger *slog.Logger
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)

		current, err = newApp(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "brieflow %s\n", Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Resources opened for the command are released even when it fails.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	teardown()
	return err
}

func teardown() {
	if current != nil {
		if err := current.close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close resources: %v\n", err)
		}
		if verbose {
			for _, e := range current.recorder.Events() {
				fmt.Fprintf(os.Stderr, "event %s session=%s case=%s\n", e.Type, e.SessionID, e.CaseID)
			}
		}
		current = nil
	}
	if logCleanup != nil {
		_ = logCleanup()
		logCleanup = nil
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	// Add subcommands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(packetCmd)
	rootCmd.AddCommand(versionCmd)
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
