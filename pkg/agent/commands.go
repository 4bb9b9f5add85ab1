package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/memory"
)

const resetMarker = "[session reset]"

const helpText = `nanobot commands:
/new - start a new conversation
/model - show the current model
/model <name> - switch model
/help - show this help`

func isResetMarker(e memory.MemoryEntry) bool {
	return e.Role == "system" && e.Content == resetMarker
}

// handleCommand answers slash commands without calling the provider.
func (al *AgentLoop) handleCommand(ctx context.Context, key, content string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}

	switch fields[0] {
	case "/help":
		return helpText, true
	case "/new":
		return al.resetSession(ctx, key), true
	case "/model":
		if len(fields) == 1 {
			return fmt.Sprintf("Current model: `%s`", al.Model()), true
		}
		old := al.Model()
		al.SetModel(fields[1])
		logger.InfoCF("agent", fmt.Sprintf("Model switched: %s -> %s", old, fields[1]), nil)
		return fmt.Sprintf("Model switched: `%s` -> `%s`", old, fields[1]), true
	}
	return "", false
}

// resetSession clears the window and marks the on-disk log so the old
// conversation is not restored after a restart.
func (al *AgentLoop) resetSession(ctx context.Context, key string) string {
	al.memory.Clear(key)

	al.mu.Lock()
	al.warmed[key] = true
	al.mu.Unlock()

	if al.history != nil {
		if err := al.history.Append(ctx, key, memory.MemoryEntry{Role: "system", Content: resetMarker}); err != nil {
			logger.WarnCF("agent", "Failed to mark session reset", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
	logger.InfoCF("agent", "Session reset", map[string]interface{}{"session_key": key})
	return "New session started."
}
