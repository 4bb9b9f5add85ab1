package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsynpy/nanobot/pkg/memory"
	"github.com/lsynpy/nanobot/pkg/providers"
	"github.com/lsynpy/nanobot/pkg/tools"
)

func call(id string) providers.ToolCall {
	return providers.ToolCall{ID: id, Name: "think", Arguments: map[string]interface{}{}}
}

func TestSanitizeHistory_DropsLeadingOrphans(t *testing.T) {
	history := []memory.MemoryEntry{
		{Role: "tool", Content: "stale", ToolCallID: "gone"},
		{Role: "tool", Content: "stale", ToolCallID: "gone2"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}

	msgs := sanitizeHistory(history)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestSanitizeHistory_DropsIncompleteBatch(t *testing.T) {
	history := []memory.MemoryEntry{
		{Role: "user", Content: "q1"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{call("a"), call("b")}},
		{Role: "tool", Content: "ra", ToolCallID: "a"},
		{Role: "user", Content: "q2"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{call("c")}},
		{Role: "tool", Content: "rc", ToolCallID: "c"},
		{Role: "assistant", Content: "done"},
	}

	msgs := sanitizeHistory(history)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "user", "assistant", "tool", "assistant"}, roles)
	assert.Equal(t, "c", msgs[3].ToolCallID)
}

func TestContextBuilder_BuildMessagesOrder(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "memory"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "memory", "MEMORY.md"), []byte("User likes tea."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "SOUL.md"), []byte("Be kind."), 0644))

	cb := NewContextBuilder(workspace)
	registry := tools.NewToolRegistry()
	registry.Register(tools.NewThinkTool())
	cb.SetToolsRegistry(registry)

	history := []memory.MemoryEntry{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
	}
	msgs := cb.BuildMessages(history, "now", nil, "telegram", "42")

	require.Len(t, msgs, 4)
	system := msgs[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "User likes tea.")
	assert.Contains(t, system.Content, "## SOUL.md")
	assert.Contains(t, system.Content, "- `think` - ")
	assert.Contains(t, system.Content, "Channel: telegram\nChat ID: 42")

	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "reply", msgs[2].Content)
	assert.Equal(t, providers.Message{Role: "user", Content: "now"}, msgs[3])
}

func TestContextBuilder_MediaBecomesContentParts(t *testing.T) {
	workspace := t.TempDir()
	note := filepath.Join(workspace, "note.txt")
	require.NoError(t, os.WriteFile(note, []byte("attached text"), 0644))

	cb := NewContextBuilder(workspace)
	msgs := cb.BuildMessages(nil, "see file", []string{note, filepath.Join(workspace, "missing.png")}, "", "")

	user := msgs[len(msgs)-1]
	require.Len(t, user.ContentParts, 1)
	assert.Contains(t, user.ContentParts[0].Text, "attached text")
	assert.NotContains(t, msgs[0].Content, "## Current Session")
}

func TestContextBuilder_ToolAdjacency(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())
	msgs := []providers.Message{{Role: "system"}}
	msgs = cb.AddAssistantMessage(msgs, "", []providers.ToolCall{call("x")})
	msgs = cb.AddToolResult(msgs, "x", "think", "ok")

	require.Len(t, msgs, 3)
	assert.Equal(t, "x", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "x", msgs[2].ToolCallID)
	assert.Equal(t, "think", msgs[2].Name)
}
