package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 40, cfg.Agents.Defaults.MaxToolIterations)
	assert.Equal(t, 100, cfg.Agents.Defaults.MemoryWindow)
	assert.Equal(t, 8192, cfg.Agents.Defaults.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Agents.Defaults.Temperature, 1e-9)
	assert.Equal(t, "0.0.0.0:18790", cfg.Gateway.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Agents.Defaults.MaxToolIterations)
}

func TestLoadConfig_FileAndCamelCaseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "agents": {"defaults": {"model": "gpt-4o", "maxToolIterations": 5, "memory_window": 12}},
  "tools": {"mcp_servers": [{"name": "fs", "command": "mcp-fs", "tool_timeout": 7}]}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Agents.Defaults.Model)
	assert.Equal(t, 5, cfg.Agents.Defaults.MaxToolIterations)
	assert.Equal(t, 12, cfg.Agents.Defaults.MemoryWindow)
	// untouched keys keep their defaults
	assert.Equal(t, 8192, cfg.Agents.Defaults.MaxTokens)
	require.Len(t, cfg.Tools.MCPServers, 1)
	assert.Equal(t, int64(7), int64(cfg.Tools.MCPServers[0].Timeout().Seconds()))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NANOBOT_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS", "3")
	t.Setenv("NANOBOT_PROVIDERS_OPENAI_API_KEY", "sk-test")
	t.Setenv("NANOBOT_CHANNELS_TELEGRAM_ALLOW_FROM", "a,b")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Agents.Defaults.MaxToolIterations)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, []string{"a", "b"}, cfg.Channels.Telegram.AllowFrom)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agents":{"defaults":{"max_tool_iterations":0}}}`), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIterations)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Agents.Defaults.Model = "claude-sonnet"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", loaded.Agents.Defaults.Model)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestMCPServerConfig_DefaultTimeout(t *testing.T) {
	assert.Equal(t, "30s", MCPServerConfig{}.Timeout().String())
}

func TestLoadConfig_MCPServersObjectForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"tools": {"mcp_servers": {
  "search": {"url": "https://mcp.example.com/mcp", "headers": {"Authorization": "Bearer x"}},
  "fs": {"command": "mcp-fs", "args": ["/tmp"], "enabled": false}
}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Tools.MCPServers, 2)
	fs, search := cfg.Tools.MCPServers[0], cfg.Tools.MCPServers[1]
	assert.Equal(t, "fs", fs.Name)
	assert.False(t, fs.Enabled)
	assert.Equal(t, []string{"/tmp"}, fs.Args)
	assert.Equal(t, "search", search.Name)
	assert.True(t, search.Enabled)
	assert.Equal(t, "https://mcp.example.com/mcp", search.URL)
	assert.Equal(t, "Bearer x", search.Headers["Authorization"])
}

func TestLoadConfig_FeishuAndWebSearch(t *testing.T) {
	t.Setenv("NANOBOT_TOOLS_WEB_SEARCH_API_KEY", "brave-key")
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"channels": {"feishu": {"enabled": true, "app_id": "cli_a", "app_secret": "s", "react_emoji": "OK"}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Channels.Feishu.Enabled)
	assert.Equal(t, "cli_a", cfg.Channels.Feishu.AppID)
	assert.Equal(t, "OK", cfg.Channels.Feishu.ReactEmoji)
	assert.Equal(t, "brave-key", cfg.Tools.Web.Search.APIKey)
	assert.Equal(t, 5, cfg.Tools.Web.Search.MaxResults)
}
