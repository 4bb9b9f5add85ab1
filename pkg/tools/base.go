package tools

import (
	"context"
	"time"
)

// Tool is the capability every agent tool implements. Parameters returns a
// JSON-schema object describing the accepted arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// Validator lets a tool replace the registry's schema validation.
type Validator interface {
	Validate(args map[string]interface{}) []string
}

// TimeoutTool bounds each execution of the tool.
type TimeoutTool interface {
	Timeout() time.Duration
}

type executionKey struct{}

type execution struct {
	channel string
	chatID  string
}

// WithExecutionTarget attaches the channel and chat a tool call is serving.
func WithExecutionTarget(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, executionKey{}, execution{channel: channel, chatID: chatID})
}

// ExecutionTarget returns the channel and chat set by WithExecutionTarget.
func ExecutionTarget(ctx context.Context) (channel, chatID string) {
	if ex, ok := ctx.Value(executionKey{}).(execution); ok {
		return ex.channel, ex.chatID
	}
	return "", ""
}

// ToolToSchema renders a tool in the OpenAI function-calling shape.
func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
