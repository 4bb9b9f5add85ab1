package tools

import "context"

// ThinkTool gives the model a scratchpad. The thought is not shown to the
// user and has no side effects.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool {
	return &ThinkTool{}
}

func (t *ThinkTool) Name() string {
	return "think"
}

func (t *ThinkTool) Description() string {
	return "Think through a problem step by step before acting. Nothing is executed and the user does not see the thought. Use it to plan multi-step tool use or to check a result before answering."
}

func (t *ThinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"thought": map[string]interface{}{
				"type":        "string",
				"description": "Your reasoning",
				"minLength":   1,
			},
		},
		"required": []string{"thought"},
	}
}

func (t *ThinkTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if thought, _ := args["thought"].(string); thought == "" {
		return ErrorResult("thought is required")
	}
	return SilentResult("Thought recorded.")
}
