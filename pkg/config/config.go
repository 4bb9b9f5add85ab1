// Package config loads the runtime configuration from a JSON file, an
// optional .env file and NANOBOT_* environment overrides, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrInvalidIterations = errors.New("max_tool_iterations must be >= 1")
	ErrInvalidWindow     = errors.New("memory_window must be >= 1")
	ErrInvalidMaxTokens  = errors.New("max_tokens must be >= 1")
	ErrInvalidPort       = errors.New("gateway port must be in 1..65535")
)

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Cron      CronConfig      `json:"cron"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace           string  `json:"workspace" env:"NANOBOT_AGENTS_DEFAULTS_WORKSPACE"`
	Model               string  `json:"model" env:"NANOBOT_AGENTS_DEFAULTS_MODEL"`
	Provider            string  `json:"provider" env:"NANOBOT_AGENTS_DEFAULTS_PROVIDER"`
	MaxTokens           int     `json:"max_tokens" env:"NANOBOT_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature         float64 `json:"temperature" env:"NANOBOT_AGENTS_DEFAULTS_TEMPERATURE"`
	MaxToolIterations   int     `json:"max_tool_iterations" env:"NANOBOT_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS"`
	MemoryWindow        int     `json:"memory_window" env:"NANOBOT_AGENTS_DEFAULTS_MEMORY_WINDOW"`
	RestrictToWorkspace bool    `json:"restrict_to_workspace" env:"NANOBOT_AGENTS_DEFAULTS_RESTRICT_TO_WORKSPACE"`
}

// UnmarshalJSON accepts both the snake_case keys written by SaveConfig and
// the camelCase keys of older config files.
func (d *AgentDefaults) UnmarshalJSON(data []byte) error {
	type plain AgentDefaults
	p := plain(*d)
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var camel struct {
		MaxTokens           *int  `json:"maxTokens"`
		MaxToolIterations   *int  `json:"maxToolIterations"`
		MemoryWindow        *int  `json:"memoryWindow"`
		RestrictToWorkspace *bool `json:"restrictToWorkspace"`
	}
	if err := json.Unmarshal(data, &camel); err != nil {
		return err
	}
	if camel.MaxTokens != nil {
		p.MaxTokens = *camel.MaxTokens
	}
	if camel.MaxToolIterations != nil {
		p.MaxToolIterations = *camel.MaxToolIterations
	}
	if camel.MemoryWindow != nil {
		p.MemoryWindow = *camel.MemoryWindow
	}
	if camel.RestrictToWorkspace != nil {
		p.RestrictToWorkspace = *camel.RestrictToWorkspace
	}
	*d = AgentDefaults(p)
	return nil
}

type ChannelsConfig struct {
	SendProgress  bool            `json:"send_progress" env:"NANOBOT_CHANNELS_SEND_PROGRESS"`
	SendToolHints bool            `json:"send_tool_hints" env:"NANOBOT_CHANNELS_SEND_TOOL_HINTS"`
	Telegram      TelegramConfig  `json:"telegram"`
	Discord       DiscordConfig   `json:"discord"`
	WebSocket     WebSocketConfig `json:"websocket"`
	Feishu        FeishuConfig    `json:"feishu"`
	CLI           CLIConfig       `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"NANOBOT_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"NANOBOT_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"NANOBOT_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" env:"NANOBOT_CHANNELS_DISCORD_ENABLED"`
	Token     string   `json:"token" env:"NANOBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"NANOBOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

type WebSocketConfig struct {
	Enabled        bool     `json:"enabled" env:"NANOBOT_CHANNELS_WEBSOCKET_ENABLED"`
	Path           string   `json:"path" env:"NANOBOT_CHANNELS_WEBSOCKET_PATH"`
	AllowedOrigins []string `json:"allowed_origins" env:"NANOBOT_CHANNELS_WEBSOCKET_ALLOWED_ORIGINS"`
	AllowFrom      []string `json:"allow_from" env:"NANOBOT_CHANNELS_WEBSOCKET_ALLOW_FROM"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled" env:"NANOBOT_CHANNELS_FEISHU_ENABLED"`
	AppID             string   `json:"app_id" env:"NANOBOT_CHANNELS_FEISHU_APP_ID"`
	AppSecret         string   `json:"app_secret" env:"NANOBOT_CHANNELS_FEISHU_APP_SECRET"`
	EncryptKey        string   `json:"encrypt_key" env:"NANOBOT_CHANNELS_FEISHU_ENCRYPT_KEY"`
	VerificationToken string   `json:"verification_token" env:"NANOBOT_CHANNELS_FEISHU_VERIFICATION_TOKEN"`
	AllowFrom         []string `json:"allow_from" env:"NANOBOT_CHANNELS_FEISHU_ALLOW_FROM"`
	ReactEmoji        string   `json:"react_emoji" env:"NANOBOT_CHANNELS_FEISHU_REACT_EMOJI"`
}

type CLIConfig struct {
	Prompt      string `json:"prompt"`
	HistoryFile string `json:"history_file"`
}

type ProviderConfig struct {
	APIKey       string            `json:"api_key" env:"API_KEY"`
	APIBase      string            `json:"api_base" env:"API_BASE"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic" envPrefix:"NANOBOT_PROVIDERS_ANTHROPIC_"`
	OpenAI     ProviderConfig `json:"openai" envPrefix:"NANOBOT_PROVIDERS_OPENAI_"`
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"NANOBOT_PROVIDERS_OPENROUTER_"`
	DashScope  ProviderConfig `json:"dashscope" envPrefix:"NANOBOT_PROVIDERS_DASHSCOPE_"`
	VLLM       ProviderConfig `json:"vllm" envPrefix:"NANOBOT_PROVIDERS_VLLM_"`
}

type HeartbeatConfig struct {
	Enabled   bool `json:"enabled" env:"NANOBOT_GATEWAY_HEARTBEAT_ENABLED"`
	IntervalS int  `json:"interval_s" env:"NANOBOT_GATEWAY_HEARTBEAT_INTERVAL_S"`
}

type GatewayConfig struct {
	Host      string          `json:"host" env:"NANOBOT_GATEWAY_HOST"`
	Port      int             `json:"port" env:"NANOBOT_GATEWAY_PORT"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type ExecToolConfig struct {
	Enabled    bool   `json:"enabled" env:"NANOBOT_TOOLS_EXEC_ENABLED"`
	Timeout    int    `json:"timeout" env:"NANOBOT_TOOLS_EXEC_TIMEOUT"`
	PathAppend string `json:"path_append"`
}

// MCPServerConfig describes one MCP server. A server with a URL is reached
// over streamable HTTP; otherwise Command is spawned and spoken to over
// stdio.
type MCPServerConfig struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ToolTimeout int               `json:"tool_timeout"`
}

// MCPServers is written as a list but also read from the object form keyed
// by server name, where a missing "enabled" means enabled.
type MCPServers []MCPServerConfig

func (s *MCPServers) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []MCPServerConfig
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(data, &byName); err != nil {
		return fmt.Errorf("mcp_servers must be a list or an object: %w", err)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(MCPServers, 0, len(names))
	for _, name := range names {
		server := MCPServerConfig{Enabled: true}
		if err := json.Unmarshal(byName[name], &server); err != nil {
			return fmt.Errorf("mcp server %q: %w", name, err)
		}
		server.Name = name
		out = append(out, server)
	}
	*s = out
	return nil
}

// Timeout returns the per-call timeout, defaulting to 30 seconds.
func (c MCPServerConfig) Timeout() time.Duration {
	if c.ToolTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ToolTimeout) * time.Second
}

type MemoryToolConfig struct {
	HistoryDB      string `json:"history_db" env:"NANOBOT_TOOLS_MEMORY_HISTORY_DB"`
	SemanticSearch bool   `json:"semantic_search" env:"NANOBOT_TOOLS_MEMORY_SEMANTIC_SEARCH"`
	EmbeddingModel string `json:"embedding_model" env:"NANOBOT_TOOLS_MEMORY_EMBEDDING_MODEL"`
}

type WebSearchConfig struct {
	APIKey     string `json:"api_key" env:"NANOBOT_TOOLS_WEB_SEARCH_API_KEY"`
	MaxResults int    `json:"max_results" env:"NANOBOT_TOOLS_WEB_SEARCH_MAX_RESULTS"`
	BaseURL    string `json:"base_url,omitempty"`
}

type WebToolsConfig struct {
	Search WebSearchConfig `json:"search"`
}

type ToolsConfig struct {
	Exec       ExecToolConfig   `json:"exec"`
	Web        WebToolsConfig   `json:"web"`
	MCPServers MCPServers       `json:"mcp_servers"`
	Memory     MemoryToolConfig `json:"memory"`
}

type CronJobConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

type CronConfig struct {
	Enabled bool            `json:"enabled" env:"NANOBOT_CRON_ENABLED"`
	Jobs    []CronJobConfig `json:"jobs"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"NANOBOT_METRICS_ENABLED"`
}

type LogConfig struct {
	Level string `json:"level" env:"NANOBOT_LOG_LEVEL"`
	File  string `json:"file" env:"NANOBOT_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.nanobot/workspace",
				Model:             "anthropic/claude-opus-4-5",
				Provider:          "auto",
				MaxTokens:         8192,
				Temperature:       0.1,
				MaxToolIterations: 40,
				MemoryWindow:      100,
			},
		},
		Channels: ChannelsConfig{
			SendProgress: true,
			WebSocket: WebSocketConfig{
				Path: "/ws",
			},
			Feishu: FeishuConfig{
				ReactEmoji: "THUMBSUP",
			},
			CLI: CLIConfig{
				Prompt: "You: ",
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
			Heartbeat: HeartbeatConfig{
				Enabled:   true,
				IntervalS: 30 * 60,
			},
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				Enabled: true,
				Timeout: 60,
			},
			Web: WebToolsConfig{
				Search: WebSearchConfig{
					MaxResults: 5,
				},
			},
			Memory: MemoryToolConfig{
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns ~/.nanobot/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".nanobot", "config.json")
}

// LoadConfig reads path (a missing file yields defaults), then applies
// .env and environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// A missing .env is the common case.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path atomically.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Validate checks the values the agent loop depends on.
func (c *Config) Validate() error {
	d := c.Agents.Defaults
	if d.MaxToolIterations < 1 {
		return ErrInvalidIterations
	}
	if d.MemoryWindow < 1 {
		return ErrInvalidWindow
	}
	if d.MaxTokens < 1 {
		return ErrInvalidMaxTokens
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// WorkspacePath returns the workspace with a leading ~ expanded.
func (c *Config) WorkspacePath() string {
	return expandHome(c.Agents.Defaults.Workspace)
}

// HistoryDBPath returns the sqlite history path, defaulting into the workspace.
func (c *Config) HistoryDBPath() string {
	if p := c.Tools.Memory.HistoryDB; p != "" {
		return expandHome(p)
	}
	return filepath.Join(c.WorkspacePath(), "memory", "history.db")
}

func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
