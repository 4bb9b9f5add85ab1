package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/providers"
)

// RetryHint follows every error text handed back to the model.
const RetryHint = "\n\n[Analyze the error above and try a different approach.]"

// ToolRegistry holds tools by name. Registering an existing name replaces
// the previous tool.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Resolved
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Resolved),
	}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	delete(r.schemas, name)
}

func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the tool names sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// registered returns the tool names in registration order.
func (r *ToolRegistry) registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func (r *ToolRegistry) snapshot() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// GetDefinitions returns the tool schemas in function-calling form.
func (r *ToolRegistry) GetDefinitions() []map[string]interface{} {
	tools := r.snapshot()
	defs := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, ToolToSchema(tool))
	}
	return defs
}

// ToProviderDefs returns the definitions passed to LLMProvider.Chat.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	tools := r.snapshot()
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// GetSummaries returns one "- `name` - description" line per tool.
func (r *ToolRegistry) GetSummaries() []string {
	tools := r.snapshot()
	summaries := make([]string, 0, len(tools))
	for _, tool := range tools {
		summaries = append(summaries, fmt.Sprintf("- `%s` - %s", tool.Name(), tool.Description()))
	}
	return summaries
}

// Execute runs a tool and returns the text for the model.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	return r.ExecuteWithContext(ctx, name, args, "", "").ForLLM
}

// ExecuteWithContext runs the named tool for the given channel and chat.
// It never panics and never returns nil: unknown tools, invalid arguments,
// failures, panics and timeouts all come back as an error result whose
// ForLLM ends with RetryHint.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		logger.WarnCF("tool", "Tool not found", map[string]interface{}{
			"tool": name,
		})
		return ErrorResult(fmt.Sprintf("Error: Tool '%s' not found. Available: %s", name, strings.Join(r.registered(), ", ")) + RetryHint)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	var errs []string
	if v, ok := tool.(Validator); ok {
		errs = v.Validate(args)
	} else {
		resolved, schemaErrs := r.schemaFor(tool)
		errs = schemaErrs
		if errs == nil {
			errs = validateResolved(resolved, args)
		}
	}
	if len(errs) > 0 {
		logger.WarnCF("tool", "Invalid tool parameters", map[string]interface{}{
			"tool":   name,
			"errors": errs,
		})
		return ErrorResult(fmt.Sprintf("Error: Invalid parameters for tool '%s': %s", name, strings.Join(errs, "; ")) + RetryHint)
	}

	if channel != "" || chatID != "" {
		ctx = WithExecutionTarget(ctx, channel, chatID)
	}

	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name,
	})

	start := time.Now()
	result := r.run(ctx, tool, args)
	duration := time.Since(start)

	if result.IsError || result.Err != nil {
		msg := result.ForLLM
		if msg == "" && result.Err != nil {
			msg = result.Err.Error()
		}
		if !strings.HasPrefix(msg, "Error") {
			msg = fmt.Sprintf("Error executing %s: %s", name, msg)
		}
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       msg,
		})
		return &ToolResult{
			ForLLM:  msg + RetryHint,
			ForUser: result.ForUser,
			Silent:  result.Silent,
			IsError: true,
			Err:     result.Err,
		}
	}

	logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
		"tool":          name,
		"duration_ms":   duration.Milliseconds(),
		"result_length": len(result.ForLLM),
	})

	if strings.HasPrefix(result.ForLLM, "Error") {
		out := *result
		out.ForLLM += RetryHint
		return &out
	}
	return result
}

// run executes tool in its own goroutine so that a tool ignoring its
// context still cannot hold the turn past the deadline.
func (r *ToolRegistry) run(ctx context.Context, tool Tool, args map[string]interface{}) *ToolResult {
	if tt, ok := tool.(TimeoutTool); ok && tt.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tt.Timeout())
		defer cancel()
	}

	done := make(chan *ToolResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorCF("tool", "Tool panicked", map[string]interface{}{
					"tool":  tool.Name(),
					"panic": fmt.Sprint(p),
				})
				done <- ErrorResult(fmt.Sprintf("panic: %v", p))
			}
		}()
		res := tool.Execute(ctx, args)
		if res == nil {
			res = NewToolResult("")
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.IsError && ctx.Err() != nil {
			return interrupted(tool, ctx.Err())
		}
		return res
	case <-ctx.Done():
		return interrupted(tool, ctx.Err())
	}
}

func interrupted(tool Tool, err error) *ToolResult {
	if d := timeoutOf(tool); d > 0 && errors.Is(err, context.DeadlineExceeded) {
		return ErrorResult(fmt.Sprintf("timed out after %s", d)).WithError(err)
	}
	return ErrorResult(err.Error()).WithError(err)
}

func timeoutOf(tool Tool) time.Duration {
	if tt, ok := tool.(TimeoutTool); ok {
		return tt.Timeout()
	}
	return 0
}
