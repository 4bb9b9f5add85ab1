package providers

import (
	"context"
	"fmt"

	"github.com/lsynpy/nanobot/pkg/logger"
)

// FinishReasonError marks a response synthesized from a failed call.
const FinishReasonError = "error"

// SafeChat calls p and never returns an error or panics: any failure comes
// back as a response whose Content is the error text and whose
// FinishReason is "error". max_tokens is clamped to at least 1.
func SafeChat(ctx context.Context, p LLMProvider, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (resp *LLMResponse) {
	opts := make(map[string]interface{}, len(options))
	for k, v := range options {
		opts[k] = v
	}
	if mt, ok := opts["max_tokens"].(int); ok && mt < 1 {
		opts["max_tokens"] = 1
		logger.WarnCF("provider", "max_tokens clamped to 1", map[string]interface{}{"requested": mt})
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("provider", "Provider panicked", map[string]interface{}{
				"model": model,
				"panic": fmt.Sprint(r),
			})
			resp = errorResponse(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := p.Chat(ctx, messages, tools, model, opts)
	if err != nil {
		logger.ErrorCF("provider", "LLM call failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return errorResponse(err)
	}
	if out == nil {
		return errorResponse(fmt.Errorf("empty response"))
	}
	return out
}

func errorResponse(err error) *LLMResponse {
	return &LLMResponse{
		Content:      fmt.Sprintf("Error calling LLM: %v", err),
		FinishReason: FinishReasonError,
	}
}
