// Package main provides the CLI entry point for the CrewSight monitoring client.
//
// CrewSight keeps a manager's live view of their team in sync: who is online,
// where workers are, today's clock-ins and clock-outs, and the notification
// inbox, all over one persistent connection that reconnects on its own.
//
// # Basic Usage
//
// Watch a session:
//
//	crewsight watch --config crewsight.yaml --token "$CREWSIGHT_SESSION"
//
// # Environment Variables
//
//   - CREWSIGHT_CONFIG: Path to configuration file (default: crewsight.yaml)
//   - CREWSIGHT_SESSION: Session token, used when --token is not given
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, injected via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// main is the entry point for the CrewSight CLI.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crewsight",
		Short: "CrewSight - live workforce monitoring client",
		Long: `CrewSight maintains a manager's real-time monitoring session:
online presence, worker locations, clock-event attendance, and the
notification inbox, over one self-healing connection.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildWatchCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the CREWSIGHT_CONFIG fallback and the default.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CREWSIGHT_CONFIG"); env != "" {
		return env
	}
	return "crewsight.yaml"
}
