package main

import (
	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and check runtime dependencies",
		Long: `Validate the config file, check that configured channel tokens and
provider API keys are present, that the store directory is writable, and
that the configured HTTP/metrics ports are free.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}
