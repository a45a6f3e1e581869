package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/outpostlabs/conduit/internal/config"
)

type checkResult struct {
	name string
	ok   bool
	note string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] config: %v\n", err)
		return fmt.Errorf("config validation failed")
	}
	fmt.Fprintln(out, "[ OK ] config loads and validates")

	checks := []checkResult{
		checkStoreDir(cfg),
		checkPort("http", cfg.Server.Host, cfg.Server.HTTPPort),
		checkPort("metrics", cfg.Server.Host, cfg.Server.MetricsPort),
	}
	checks = append(checks, checkProviders(cfg)...)
	checks = append(checks, checkChannels(cfg)...)
	checks = append(checks, checkAgents(cfg)...)

	failed := 0
	for _, c := range checks {
		status := "OK"
		if !c.ok {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "[%-4s] %s", status, c.name)
		if c.note != "" {
			fmt.Fprintf(out, ": %s", c.note)
		}
		fmt.Fprintln(out)
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkStoreDir(cfg *config.Config) checkResult {
	dir := cfg.Store.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{name: "store directory writable", ok: false, note: err.Error()}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return checkResult{name: "store directory writable", ok: false, note: err.Error()}
	}
	_ = os.Remove(probe)
	return checkResult{name: fmt.Sprintf("store directory writable (%s)", dir), ok: true}
}

func checkPort(label, host string, port int) checkResult {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return checkResult{name: fmt.Sprintf("%s port %d free", label, port), ok: false, note: err.Error()}
	}
	_ = ln.Close()
	return checkResult{name: fmt.Sprintf("%s port %d free", label, port), ok: true}
}

func checkProviders(cfg *config.Config) []checkResult {
	var results []checkResult
	if len(cfg.LLM.Providers) == 0 {
		results = append(results, checkResult{name: "llm providers configured", ok: false, note: "no providers in config"})
		return results
	}
	for name, pc := range cfg.LLM.Providers {
		results = append(results, checkResult{
			name: fmt.Sprintf("llm provider %q has an api key", name),
			ok:   pc.APIKey != "",
		})
	}
	return results
}

func checkChannels(cfg *config.Config) []checkResult {
	var results []checkResult
	if cfg.Channels.Telegram.Enabled {
		results = append(results, checkResult{name: "telegram bot token set", ok: cfg.Channels.Telegram.BotToken != ""})
	}
	if cfg.Channels.Discord.Enabled {
		results = append(results, checkResult{name: "discord bot token set", ok: cfg.Channels.Discord.BotToken != ""})
	}
	if cfg.Channels.Slack.Enabled {
		results = append(results, checkResult{
			name: "slack tokens set",
			ok:   cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "",
		})
	}
	return results
}

func checkAgents(cfg *config.Config) []checkResult {
	var results []checkResult
	seen := make(map[string]bool)
	for _, a := range cfg.Agents {
		if !a.IsEnabled() {
			continue
		}
		if seen[a.Channel.Type+":"+a.Channel.ChatID] {
			results = append(results, checkResult{
				name: fmt.Sprintf("agent %q channel binding unique", a.ID),
				ok:   false,
				note: "another enabled agent shares this channel+chat id",
			})
		}
		seen[a.Channel.Type+":"+a.Channel.ChatID] = true

		if a.Approval.RequestTTL < 0 {
			results = append(results, checkResult{name: fmt.Sprintf("agent %q approval TTL valid", a.ID), ok: false})
		}
	}
	return results
}
