package main

import (
	"github.com/spf13/cobra"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the session store's database schema",
		Long: `Manage database schema migrations for the CockroachDB/Postgres-backed
session store. Only applicable when database.url is set in the config;
without it conduit runs on the in-memory session store and has nothing to
migrate.`,
	}

	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	var steps int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Example: `  conduit migrate up
  conduit migrate up --steps 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath), migrateUp, steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all pending)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var configPath string
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath), migrateDown, steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath), migrateStatus, 0)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}
