package tools

import (
	"context"
	"fmt"

	"github.com/lsynpy/nanobot/pkg/memory"
)

// MemorySearch is the part of memory.VectorStore the tool needs.
type MemorySearch interface {
	Search(ctx context.Context, query string, limit int, source string) ([]memory.SearchResult, error)
}

// MemorySearchTool gives the model semantic recall over past turns and
// MEMORY.md notes.
type MemorySearchTool struct {
	store MemorySearch
}

func NewMemorySearchTool(store MemorySearch) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string {
	return "search_memory"
}

func (t *MemorySearchTool) Description() string {
	return "Search your memory of past conversations and saved notes about the user. Use it when the user refers to something discussed before or when prior preferences could change your answer."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural language description of what to recall",
				"minLength":   1,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
				"minimum":     1,
				"maximum":     20,
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Restrict results to one source",
				"enum":        []string{"all", memory.SourceConversations, memory.SourceNotes},
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}

	limit := 5
	if l, ok := args["limit"].(float64); ok && int(l) > 0 {
		limit = int(l)
	}
	source, _ := args["source"].(string)

	results, err := t.store.Search(ctx, query, limit, source)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err)).WithError(err)
	}
	return SilentResult(memory.FormatResults(results))
}
