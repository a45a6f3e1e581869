package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime",
		Long: `Start every enabled agent's runtime, the chat channel adapters, the
scheduler, the event router, the extension-tool manager, and the webhook
and metrics HTTP servers.`,
		Example: `  conduit serve --config conduit.yaml
  conduit serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $CONDUIT_CONFIG or conduit.yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}
