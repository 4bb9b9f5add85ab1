package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

// Server is a connected MCP server.
type Server struct {
	Name    string
	Timeout time.Duration
	Tools   []ToolDefinition

	client *Client
	cmd    *exec.Cmd
}

func (s *Server) stop() {
	if s.client != nil {
		s.client.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
}

// Manager owns the MCP server processes.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

func NewManager() *Manager {
	return &Manager{servers: make(map[string]*Server)}
}

// StartFromConfig starts every enabled server. Failures are logged and the
// server is skipped.
func (m *Manager) StartFromConfig(ctx context.Context, configs []config.MCPServerConfig) {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := m.Start(ctx, cfg); err != nil {
			logger.WarnCF("mcp", "Failed to start MCP server", map[string]interface{}{
				"name":  cfg.Name,
				"error": err.Error(),
			})
		}
	}
}

// Start connects to an HTTP server when cfg has a URL, otherwise launches a
// stdio server, and discovers its tools.
func (m *Manager) Start(ctx context.Context, cfg config.MCPServerConfig) error {
	m.mu.RLock()
	_, exists := m.servers[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("MCP server %q already running", cfg.Name)
	}

	if cfg.URL != "" {
		server := &Server{
			Name:    cfg.Name,
			Timeout: cfg.Timeout(),
			client:  NewHTTPClient(cfg.URL, cfg.Headers),
		}
		if err := m.attach(ctx, server); err != nil {
			server.stop()
			return err
		}
		logger.InfoCF("mcp", "MCP server connected", map[string]interface{}{
			"name":  cfg.Name,
			"tools": len(server.Tools),
			"url":   cfg.URL,
		})
		return nil
	}
	if cfg.Command == "" {
		return fmt.Errorf("MCP server %q has neither command nor url", cfg.Name)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	server := &Server{
		Name:    cfg.Name,
		Timeout: cfg.Timeout(),
		client:  NewClient(stdout, stdin),
		cmd:     cmd,
	}
	if err := m.attach(ctx, server); err != nil {
		server.stop()
		return err
	}

	logger.InfoCF("mcp", "MCP server started", map[string]interface{}{
		"name":    cfg.Name,
		"tools":   len(server.Tools),
		"command": cfg.Command,
	})
	return nil
}

// Connect registers a server over an existing client.
func (m *Manager) Connect(ctx context.Context, name string, client *Client, timeout time.Duration) error {
	return m.attach(ctx, &Server{Name: name, Timeout: timeout, client: client})
}

func (m *Manager) attach(ctx context.Context, server *Server) error {
	initCtx, cancel := context.WithTimeout(ctx, server.Timeout)
	defer cancel()

	if err := server.client.Initialize(initCtx); err != nil {
		return fmt.Errorf("%s: %w", server.Name, err)
	}
	tools, err := server.client.ListTools(initCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", server.Name, err)
	}
	server.Tools = tools

	m.mu.Lock()
	m.servers[server.Name] = server
	m.mu.Unlock()
	return nil
}

func (m *Manager) server(name string) (*Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[name]
	return s, ok
}

// CallTool calls a tool on the named server.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (string, error) {
	s, ok := m.server(serverName)
	if !ok {
		return "", fmt.Errorf("MCP server %q not found", serverName)
	}
	return s.client.CallTool(ctx, toolName, args)
}

// Servers returns the connected servers sorted by name.
func (m *Manager) Servers() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.servers {
		s.stop()
		logger.InfoCF("mcp", "MCP server stopped", map[string]interface{}{"name": name})
	}
	m.servers = make(map[string]*Server)
}
