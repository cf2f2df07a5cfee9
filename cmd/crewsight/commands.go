// commands.go contains the cobra command definitions and flag wiring.
// Each builder creates a command and routes it to its handler.
package main

import (
	"github.com/spf13/cobra"
)

// buildWatchCmd creates the "watch" command that runs a monitoring session.
func buildWatchCmd() *cobra.Command {
	var (
		configPath string
		token      string
		pushToken  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run a live monitoring session",
		Long: `Connect with a session token and keep the live view in sync until
interrupted. Presence, worker locations, attendance, and notification
changes are printed as periodic summaries.

The connection reconnects on network loss with exponential backoff. A
server-initiated close ends the session instead of reconnecting.`,
		Example: `  # Watch with a token from the environment
  crewsight watch --config crewsight.yaml

  # Watch with an explicit token and debug logging
  crewsight watch --token abc123 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), watchOptions{
				configPath: resolveConfigPath(configPath),
				token:      token,
				pushToken:  pushToken,
				debug:      debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Session token (or set CREWSIGHT_SESSION)")
	cmd.Flags().StringVar(&pushToken, "push-token", "", "Device push token sent with the connection")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigShowCmd())
	return cmd
}

// buildConfigShowCmd creates "config show", which prints the effective
// configuration after defaults and validation.
func buildConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
