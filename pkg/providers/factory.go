package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lsynpy/nanobot/pkg/config"
)

var ErrNoProvider = errors.New("no LLM provider configured")

const (
	openRouterBase = "https://openrouter.ai/api/v1"
	dashScopeBase  = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// CreateProvider resolves the single provider used for every call, and the
// model name to send to it.
func CreateProvider(cfg *config.Config) (LLMProvider, string, error) {
	d := cfg.Agents.Defaults
	p := cfg.Providers
	model := d.Model
	name := strings.ToLower(d.Provider)
	if name == "" || name == "auto" {
		name = detectProvider(model, p)
	}

	switch name {
	case "anthropic", "claude":
		if p.Anthropic.APIKey == "" {
			return nil, "", fmt.Errorf("%w: anthropic api_key is empty", ErrNoProvider)
		}
		model = strings.TrimPrefix(model, "anthropic/")
		return NewClaudeProvider(p.Anthropic.APIKey, p.Anthropic.APIBase, p.Anthropic.ExtraHeaders), model, nil
	case "openrouter":
		base := firstNonEmpty(p.OpenRouter.APIBase, openRouterBase)
		return NewOpenAIProvider(p.OpenRouter.APIKey, base, model, p.OpenRouter.ExtraHeaders), model, nil
	case "dashscope":
		base := firstNonEmpty(p.DashScope.APIBase, dashScopeBase)
		model = strings.TrimPrefix(model, "dashscope/")
		return NewOpenAIProvider(p.DashScope.APIKey, base, model, p.DashScope.ExtraHeaders), model, nil
	case "vllm":
		if p.VLLM.APIBase == "" {
			return nil, "", fmt.Errorf("%w: vllm api_base is empty", ErrNoProvider)
		}
		model = strings.TrimPrefix(model, "hosted_vllm/")
		return NewOpenAIProvider(p.VLLM.APIKey, p.VLLM.APIBase, model, p.VLLM.ExtraHeaders), model, nil
	case "openai":
		if p.OpenAI.APIKey == "" {
			return nil, "", fmt.Errorf("%w: openai api_key is empty", ErrNoProvider)
		}
		model = strings.TrimPrefix(model, "openai/")
		return NewOpenAIProvider(p.OpenAI.APIKey, p.OpenAI.APIBase, model, p.OpenAI.ExtraHeaders), model, nil
	}
	return nil, "", fmt.Errorf("%w for model %q", ErrNoProvider, model)
}

// detectProvider picks a provider from the model name, then from whichever
// credentials are present.
func detectProvider(model string, p config.ProvidersConfig) string {
	m := strings.ToLower(model)
	switch {
	case p.OpenRouter.APIKey != "" && strings.HasPrefix(m, "openrouter/"):
		return "openrouter"
	case strings.Contains(m, "claude") || strings.HasPrefix(m, "anthropic/"):
		if p.Anthropic.APIKey != "" {
			return "anthropic"
		}
	case strings.Contains(m, "qwen") || strings.HasPrefix(m, "dashscope/"):
		if p.DashScope.APIKey != "" {
			return "dashscope"
		}
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "openai/") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3"):
		if p.OpenAI.APIKey != "" {
			return "openai"
		}
	case strings.HasPrefix(m, "hosted_vllm/"):
		return "vllm"
	}

	switch {
	case p.OpenRouter.APIKey != "":
		return "openrouter"
	case p.Anthropic.APIKey != "":
		return "anthropic"
	case p.OpenAI.APIKey != "":
		return "openai"
	case p.DashScope.APIKey != "":
		return "dashscope"
	case p.VLLM.APIBase != "":
		return "vllm"
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
