package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("qwen2.5-coder:32b")
	if info == nil {
		t.Fatal("expected to find qwen2.5-coder:32b")
	}
	if info.Provider != "ollama" {
		t.Errorf("expected provider %q, got %q", "ollama", info.Provider)
	}
	if info.ContextWindow != 32768 {
		t.Errorf("expected context window 32768, got %d", info.ContextWindow)
	}
	if !info.Local {
		t.Error("expected a local model")
	}

	info = GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected to find model by alias 'sonnet'")
	}
	if info.ID != "claude-sonnet-4-5" {
		t.Errorf("expected id %q, got %q", "claude-sonnet-4-5", info.ID)
	}

	if info := GetModelInfo("nonexistent-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	for _, provider := range []string{"ollama", "anthropic", "openai"} {
		models := ListModels(provider)
		if len(models) == 0 {
			t.Errorf("expected at least one %s model", provider)
		}
		for _, m := range models {
			if m.Provider != provider {
				t.Errorf("expected provider %s, got %q", provider, m.Provider)
			}
		}
	}

	if got := ListModels("unknown"); len(got) != 0 {
		t.Errorf("expected no models for unknown provider, got %d", len(got))
	}
}

func TestGetLatestModel(t *testing.T) {
	latest := GetLatestModel("ollama")
	if latest == nil || latest.ID != "qwen2.5-coder:32b" {
		t.Errorf("expected qwen2.5-coder:32b as the ollama default, got %v", latest)
	}
	if GetLatestModel("unknown") != nil {
		t.Error("expected nil for unknown provider")
	}
}

func TestContextWindowFor(t *testing.T) {
	if got := ContextWindowFor("gpt-4o-mini", 1); got != 128000 {
		t.Errorf("expected 128000, got %d", got)
	}
	if got := ContextWindowFor("made-up", 32768); got != 32768 {
		t.Errorf("expected fallback 32768, got %d", got)
	}
}
