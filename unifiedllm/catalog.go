package unifiedllm

import "slices"

// ModelInfo is one catalog entry. ContextWindow sizes the prompt budget
// when the operator does not set one.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output,omitempty"`
	Local         bool     `json:"local"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models lists the models janitor knows by name, best first within each
// provider. The first entry per provider is its default.
var Models = []ModelInfo{
	// Local models served by Ollama.
	{
		ID: "qwen2.5-coder:32b", Provider: "ollama", DisplayName: "Qwen2.5 Coder 32B",
		ContextWindow: 32768, MaxOutput: 8192, Local: true,
		Aliases: []string{"qwen-coder", "qwen2.5-coder"},
	},
	{
		ID: "qwen2.5-coder:14b", Provider: "ollama", DisplayName: "Qwen2.5 Coder 14B",
		ContextWindow: 32768, MaxOutput: 8192, Local: true,
	},
	{
		ID: "qwen2.5-coder:7b", Provider: "ollama", DisplayName: "Qwen2.5 Coder 7B",
		ContextWindow: 32768, MaxOutput: 8192, Local: true,
	},
	{
		ID: "deepseek-coder-v2:16b", Provider: "ollama", DisplayName: "DeepSeek Coder V2 Lite",
		ContextWindow: 163840, MaxOutput: 8192, Local: true,
		Aliases: []string{"deepseek-coder"},
	},
	{
		ID: "llama3.1:8b", Provider: "ollama", DisplayName: "Llama 3.1 8B",
		ContextWindow: 131072, MaxOutput: 4096, Local: true,
		Aliases: []string{"llama3.1"},
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 8192,
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// OpenAI
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, MaxOutput: 32768,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutput: 16384,
		Aliases: []string{"4o-mini"},
	},
}

// GetModelInfo looks a model up by ID or alias. It returns nil for models
// outside the catalog.
func GetModelInfo(modelID string) *ModelInfo {
	i := slices.IndexFunc(Models, func(m ModelInfo) bool {
		return m.ID == modelID || slices.Contains(m.Aliases, modelID)
	})
	if i < 0 {
		return nil
	}
	return &Models[i]
}

// ListModels returns a copy of the catalog, restricted to provider unless
// provider is empty.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		return slices.Clone(Models)
	}
	return slices.DeleteFunc(slices.Clone(Models), func(m ModelInfo) bool { return m.Provider != provider })
}

// GetLatestModel returns the provider's preferred model, or nil.
func GetLatestModel(provider string) *ModelInfo {
	i := slices.IndexFunc(Models, func(m ModelInfo) bool { return m.Provider == provider })
	if i < 0 {
		return nil
	}
	return &Models[i]
}

func ContextWindowFor(modelID string, fallback int) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return fallback
}
