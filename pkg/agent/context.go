package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/media"
	"github.com/lsynpy/nanobot/pkg/memory"
	"github.com/lsynpy/nanobot/pkg/providers"
	"github.com/lsynpy/nanobot/pkg/skills"
	"github.com/lsynpy/nanobot/pkg/tools"
)

var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// ContextBuilder assembles the message list sent to the provider: system
// prompt, the session window and the current user turn.
type ContextBuilder struct {
	workspace    string
	skillsLoader *skills.SkillsLoader
	tools        *tools.ToolRegistry
	now          func() time.Time
}

func NewContextBuilder(workspace string) *ContextBuilder {
	// builtin skills ship next to the binary's working directory
	wd, _ := os.Getwd()
	return &ContextBuilder{
		workspace:    workspace,
		skillsLoader: skills.NewSkillsLoader(workspace, filepath.Join(wd, "skills")),
		now:          time.Now,
	}
}

// SetToolsRegistry sets the registry whose summaries go into the prompt.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

func (cb *ContextBuilder) getIdentity() string {
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# nanobot

You are nanobot, a helpful AI assistant. You can call tools to act on the user's behalf.

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s
- Long-term memory: %s/memory/MEMORY.md
- Skills: %s/skills/{skill-name}/SKILL.md

## Rules

1. When an action is needed, call the matching tool. Never claim you did something you did not do.
2. Reply to the user directly with text. Use the message tool only to reach a different chat or to send attachments.
3. To remember something for later, write it to %s/memory/MEMORY.md.`,
		cb.now().Format("2006-01-02 15:04 (Monday)"), rt, workspacePath, workspacePath, workspacePath, workspacePath)
}

func (cb *ContextBuilder) buildToolsSection() string {
	if cb.tools == nil {
		return ""
	}
	summaries := cb.tools.GetSummaries()
	if len(summaries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Available Tools\n\n")
	for _, s := range summaries {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BuildSystemPrompt joins identity, bootstrap files, long-term memory,
// skills and tools with "---" separators.
func (cb *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{cb.getIdentity()}

	if bootstrap := cb.LoadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if notes := cb.LoadLongTermMemory(); notes != "" {
		parts = append(parts, "# Memory\n\n"+notes)
	}

	if always := cb.skillsLoader.AlwaysSkills(); len(always) > 0 {
		if content := cb.skillsLoader.LoadSkillsForContext(always); content != "" {
			parts = append(parts, "# Active Skills\n\n"+content)
		}
	}

	if summary := cb.skillsLoader.BuildSkillsSummary(); summary != "" {
		parts = append(parts, fmt.Sprintf(`# Skills

The following skills extend your capabilities. To use a skill, read its SKILL.md file.
Skills with available="false" need their requirements installed first.

%s`, summary))
	}

	if toolsSection := cb.buildToolsSection(); toolsSection != "" {
		parts = append(parts, toolsSection)
	}

	return strings.Join(parts, "\n\n---\n\n")
}

func (cb *ContextBuilder) LoadBootstrapFiles() string {
	var sb strings.Builder
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(cb.workspace, name))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(sb.String())
}

// LoadLongTermMemory returns workspace/memory/MEMORY.md, if present.
func (cb *ContextBuilder) LoadLongTermMemory() string {
	data, err := os.ReadFile(filepath.Join(cb.workspace, "memory", "MEMORY.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// BuildMessages returns system prompt, sanitized history and the current
// user message, in that order. Media paths become content parts.
func (cb *ContextBuilder) BuildMessages(history []memory.MemoryEntry, current string, mediaPaths []string, channel, chatID string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt()
	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	logger.DebugCF("agent", "System prompt built", map[string]interface{}{
		"total_chars":   len(systemPrompt),
		"section_count": strings.Count(systemPrompt, "\n\n---\n\n") + 1,
	})

	past := sanitizeHistory(history)
	messages := make([]providers.Message, 0, len(past)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, past...)

	userMsg := providers.Message{Role: "user", Content: current}
	if len(mediaPaths) > 0 {
		userMsg.ContentParts = media.Parts(mediaPaths)
	}
	return append(messages, userMsg)
}

// sanitizeHistory converts the window to provider messages. Tool results
// whose request is gone (evicted or never completed) and assistant tool
// requests missing any of their results are dropped, since providers reject
// both.
func sanitizeHistory(history []memory.MemoryEntry) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	dropped := 0
	for i := 0; i < len(history); {
		entry := history[i]
		if entry.Role == "tool" {
			dropped++
			i++
			continue
		}
		if entry.Role != "assistant" || len(entry.ToolCalls) == 0 {
			out = append(out, entry.Message())
			i++
			continue
		}

		j := i + 1
		answered := make(map[string]bool)
		for j < len(history) && history[j].Role == "tool" {
			answered[history[j].ToolCallID] = true
			j++
		}
		complete := true
		for _, tc := range entry.ToolCalls {
			if !answered[tc.ID] {
				complete = false
				break
			}
		}
		if complete {
			for k := i; k < j; k++ {
				out = append(out, history[k].Message())
			}
		} else {
			dropped += j - i
		}
		i = j
	}

	if dropped > 0 {
		logger.DebugCF("agent", "Dropped incomplete tool exchanges from history", map[string]interface{}{
			"dropped": dropped,
		})
	}
	return out
}

func (cb *ContextBuilder) AddAssistantMessage(messages []providers.Message, content string, toolCalls []providers.ToolCall) []providers.Message {
	return append(messages, providers.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func (cb *ContextBuilder) AddToolResult(messages []providers.Message, toolCallID, toolName, result string) []providers.Message {
	return append(messages, providers.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: toolCallID,
		Name:       toolName,
	})
}

// GetSkillsInfo returns information about loaded skills.
func (cb *ContextBuilder) GetSkillsInfo() map[string]interface{} {
	all := cb.skillsLoader.ListSkills()
	names := make([]string, 0, len(all))
	available := 0
	for _, s := range all {
		names = append(names, s.Name)
		if len(s.Missing()) == 0 {
			available++
		}
	}
	return map[string]interface{}{
		"total":     len(all),
		"available": available,
		"names":     names,
	}
}
