package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outpostlabs/conduit/internal/config"
	"github.com/outpostlabs/conduit/internal/sessions"
)

type migrateDirection int

const (
	migrateUp migrateDirection = iota
	migrateDown
	migrateStatus
)

func runMigrate(cmd *cobra.Command, configPath string, direction migrateDirection, steps int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openMigrationDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := sessions.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	out := cmd.OutOrStdout()
	switch direction {
	case migrateUp:
		applied, err := migrator.Up(cmd.Context(), steps)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "no pending migrations")
			return nil
		}
		fmt.Fprintln(out, "applied:")
		for _, id := range applied {
			fmt.Fprintf(out, "  %s\n", id)
		}
	case migrateDown:
		reverted, err := migrator.Down(cmd.Context(), steps)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		if len(reverted) == 0 {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		fmt.Fprintln(out, "reverted:")
		for _, id := range reverted {
			fmt.Fprintf(out, "  %s\n", id)
		}
	case migrateStatus:
		applied, pending, err := migrator.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		fmt.Fprintln(out, "applied:")
		for _, a := range applied {
			fmt.Fprintf(out, "  %s (%s)\n", a.ID, a.AppliedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		fmt.Fprintln(out, "pending:")
		for _, p := range pending {
			fmt.Fprintf(out, "  %s\n", p.ID)
		}
	}
	return nil
}

func openMigrationDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is not set in config")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool := sessions.DefaultCockroachConfig()
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
