// Package config loads the YAML-driven configuration tree for a conduit
// deployment: server/channel/provider wiring plus the per-agent
// configuration the orchestrator and engine consult at runtime.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Channels ChannelsConfig `yaml:"channels"`
	LLM      LLMConfig      `yaml:"llm"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// DatabaseConfig points the session store at a CockroachDB/Postgres
// cluster. When URL is empty the process falls back to the in-memory
// session store and `migrate` has nothing to connect to.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig controls the webhook HTTP surface and metrics exporter.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig controls the file-based Persistence Store root.
type StoreConfig struct {
	// DataDir is the root of the per-(user,agent) subtree (§4.1, §6).
	DataDir string `yaml:"data_dir"`
}

// ChannelsConfig configures the concrete chat bot transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig is the reference channel: approval buttons (§4.7.1) and
// the reminder fast-path (S1) are specified against it.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig is an additional OutboundAdapter/InboundAdapter.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// SlackConfig is an additional OutboundAdapter/InboundAdapter.
type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
}

// LLMConfig selects and configures LLM provider adapters. The adapters
// themselves are request/response-shape-only per the Non-goals; this
// config only carries what's needed to construct one.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// AgentConfig is the immutable-during-a-run configuration for one agent
// (§3 AgentConfig). Fields marked mutable-at-runtime are still declared
// here as the initial value loaded at startup; the orchestrator owns
// mutation from that point on.
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Enabled gates whether `serve` starts this agent's runtime at all;
	// a disabled agent stays in the config for `agents show`/`enable`.
	Enabled *bool `yaml:"enabled"`

	// WebhookSecret gates signature verification for this agent's
	// generic webhook route (§6); empty means unsigned requests are
	// accepted.
	WebhookSecret string `yaml:"webhook_secret"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	SystemPrompt string `yaml:"system_prompt"`

	Permissions AgentPermissions `yaml:"permissions"`

	Channel AgentChannelBinding `yaml:"channel"`

	Options AgentRuntimeOptions `yaml:"options"`

	// DailyBudgetUSD is the optional per-day cost cap (§4.7.1, §7 BudgetExhausted).
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`

	// Timezone is the label used for cron/absolute schedule matching (§4.4).
	Timezone string `yaml:"timezone"`

	// Approval is the tool-approval policy for this agent (§4.7.1).
	Approval agent.ApprovalPolicy `yaml:"approval"`

	// ExtensionServers are the configured MCP-style subprocess tool servers (§4.3).
	ExtensionServers []ExtensionServerConfig `yaml:"extension_servers"`
}

// AgentPermissions are the permission flags gating optional capability blocks
// in the engine's system-prompt composition (§4.6 preamble) and tool
// availability (internet, calendar, gmail, media, terminal, code, ...).
type AgentPermissions struct {
	Internet bool `yaml:"internet"`
	Calendar bool `yaml:"calendar"`
	Gmail    bool `yaml:"gmail"`
	Media    bool `yaml:"media"`
	Terminal bool `yaml:"terminal"`
	Code     bool `yaml:"code"`
}

// AgentChannelBinding binds an agent to its primary chat channel.
type AgentChannelBinding struct {
	Type   string `yaml:"type"` // telegram | discord | slack
	ChatID string `yaml:"chat_id"`
}

// AgentRuntimeOptions is the recognized options set named in §3.
type AgentRuntimeOptions struct {
	MaxToolIterations                 int `yaml:"max_tool_iterations"`
	FastConfirmationMaxToolIterations int `yaml:"fast_confirmation_max_tool_iterations"`
	ToolResultMaxChars                int `yaml:"tool_result_max_chars"`
	ToolResultsTotalMaxChars          int `yaml:"tool_results_total_max_chars"`
	LLMTimeoutMs                      int `yaml:"llm_timeout_ms"`
	ToolTimeoutMs                     int `yaml:"tool_timeout_ms"`
	MaxMcpToolsInPrompt               int `yaml:"max_mcp_tools_in_prompt"`
	QueueDelayUserMs                  int `yaml:"queue_delay_user_ms"`
	QueueDelayBackgroundMs            int `yaml:"queue_delay_background_ms"`
}

// IsEnabled reports whether the agent should be started by `serve`.
// Unset (nil) defaults to enabled.
func (a AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ExtensionServerConfig is the static config for one ExtensionToolServer (§3, §4.3).
type ExtensionServerConfig struct {
	ID             string            `yaml:"id"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Transport      string            `yaml:"transport"` // line | length-prefixed
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
}

// Load reads, expands, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUIT_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.BotToken = v
	}
	if v := os.Getenv("CONDUIT_DISCORD_BOT_TOKEN"); v != "" {
		cfg.Channels.Discord.BotToken = v
	}
	if v := os.Getenv("CONDUIT_SLACK_BOT_TOKEN"); v != "" {
		cfg.Channels.Slack.BotToken = v
	}
	if v := os.Getenv("CONDUIT_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("CONDUIT_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "./data"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}

	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		applyAgentOptionDefaults(&a.Options)
		if a.Timezone == "" {
			a.Timezone = "UTC"
		}
		if a.Provider == "" {
			a.Provider = cfg.LLM.DefaultProvider
		}
		defaultApproval := agent.DefaultApprovalPolicy()
		if a.Approval.DefaultDecision == "" {
			a.Approval.DefaultDecision = defaultApproval.DefaultDecision
		}
		if a.Approval.RequestTTL == 0 {
			a.Approval.RequestTTL = defaultApproval.RequestTTL
		}
		if len(a.Approval.SafeBins) == 0 {
			a.Approval.SafeBins = defaultApproval.SafeBins
		}
	}
}

func applyAgentOptionDefaults(o *AgentRuntimeOptions) {
	if o.MaxToolIterations == 0 {
		o.MaxToolIterations = 12
	}
	if o.FastConfirmationMaxToolIterations == 0 {
		o.FastConfirmationMaxToolIterations = 3
	}
	if o.ToolResultMaxChars == 0 {
		o.ToolResultMaxChars = 4000
	}
	if o.ToolResultsTotalMaxChars == 0 {
		o.ToolResultsTotalMaxChars = 16000
	}
	if o.LLMTimeoutMs == 0 {
		o.LLMTimeoutMs = 60_000
	}
	if o.ToolTimeoutMs == 0 {
		o.ToolTimeoutMs = 30_000
	}
	if o.MaxMcpToolsInPrompt == 0 {
		o.MaxMcpToolsInPrompt = 40
	}
	if o.QueueDelayUserMs == 0 {
		o.QueueDelayUserMs = 150
	}
	if o.QueueDelayBackgroundMs == 0 {
		o.QueueDelayBackgroundMs = 500
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("invalid config: agent missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("invalid config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Channel.Type == "" {
			return fmt.Errorf("invalid config: agent %q missing channel binding", a.ID)
		}
		if a.Provider == "" {
			return fmt.Errorf("invalid config: agent %q missing provider", a.ID)
		}
		if a.Model == "" {
			return fmt.Errorf("invalid config: agent %q missing model", a.ID)
		}
	}
	return nil
}
