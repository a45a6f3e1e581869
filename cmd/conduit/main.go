// Package main provides the CLI entry point for the conduit multi-agent
// runtime.
//
// conduit hosts one long-lived loop per configured agent: it ingests
// messages from chat channels, the web UI, the scheduler and inbound
// webhooks, drives an LLM tool-use conversation, executes built-in and
// subprocess-backed extension tools, and enforces per-agent budgets and
// approval gates.
//
// # Basic usage
//
//	conduit serve --config conduit.yaml
//	conduit agents list
//	conduit doctor
//	conduit migrate up
//
// # Environment variables
//
//   - CONDUIT_CONFIG: path to the configuration file (default: conduit.yaml)
//   - CONDUIT_TELEGRAM_BOT_TOKEN, CONDUIT_DISCORD_BOT_TOKEN, CONDUIT_SLACK_BOT_TOKEN
//   - CONDUIT_HTTP_PORT, CONDUIT_DATABASE_URL
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY (referenced from config via ${VAR} expansion)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to keep it testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "conduit - multi-agent runtime",
		Long: `conduit hosts one long-lived agent loop per configured agent,
connecting chat channels, a scheduler and an event router to an LLM
tool-use loop with budget and approval gates.

Supported channels: Telegram, Discord, Slack
Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentsCmd(),
		buildDoctorCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CONDUIT_CONFIG"); env != "" {
		return env
	}
	return "conduit.yaml"
}
