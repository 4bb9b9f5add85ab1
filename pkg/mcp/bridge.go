package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/lsynpy/nanobot/pkg/tools"
)

// BridgeTool exposes one MCP server tool to the registry as
// mcp_<server>_<tool>.
type BridgeTool struct {
	manager *Manager
	server  string
	def     ToolDefinition
	timeout time.Duration
}

func NewBridgeTool(manager *Manager, server string, def ToolDefinition, timeout time.Duration) *BridgeTool {
	return &BridgeTool{manager: manager, server: server, def: def, timeout: timeout}
}

func (t *BridgeTool) Name() string {
	return fmt.Sprintf("mcp_%s_%s", t.server, t.def.Name)
}

func (t *BridgeTool) Description() string {
	if t.def.Description == "" {
		return t.def.Name
	}
	return t.def.Description
}

func (t *BridgeTool) Parameters() map[string]interface{} {
	if t.def.InputSchema != nil {
		return t.def.InputSchema
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *BridgeTool) Timeout() time.Duration {
	return t.timeout
}

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	out, err := t.manager.CallTool(ctx, t.server, t.def.Name, args)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	return tools.NewToolResult(out)
}

// RegisterTools adds a bridge for every tool of every connected server and
// returns how many were registered.
func RegisterTools(manager *Manager, registry *tools.ToolRegistry) int {
	n := 0
	for _, s := range manager.Servers() {
		for _, def := range s.Tools {
			registry.Register(NewBridgeTool(manager, s.Name, def, s.Timeout))
			n++
		}
	}
	return n
}
