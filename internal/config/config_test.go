package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecNumbers(t *testing.T) {
	cfg := Default()
	if cfg.MaxIterations != 20 || cfg.TokenBudget != 200_000 || cfg.MaxErrors != 3 {
		t.Fatalf("unexpected top-level defaults: %+v", cfg)
	}
	if cfg.Memory.CompressionThreshold != 0.7 || cfg.Memory.EvictionThreshold != 0.9 {
		t.Fatalf("unexpected memory thresholds: %+v", cfg.Memory)
	}
	if cfg.Adapter.MaxRetries != 4 || cfg.Adapter.CircuitFailureThreshold != 5 {
		t.Fatalf("unexpected adapter defaults: %+v", cfg.Adapter)
	}
}

func TestResolveModelPrefersExplicitModel(t *testing.T) {
	pc := ProviderConfig{Name: "anthropic", Model: "claude-custom", ModelTier: ModelTierFast}
	if got := pc.ResolveModel(); got != "claude-custom" {
		t.Fatalf("expected explicit model to win, got %q", got)
	}
}

func TestResolveModelFallsBackToTier(t *testing.T) {
	pc := ProviderConfig{Name: "openai", ModelTier: ModelTierPowerful}
	if got := pc.ResolveModel(); got == "" {
		t.Fatal("expected a non-empty resolved model for a known tier")
	}
}

func TestToLLMConfigRoutesByProviderName(t *testing.T) {
	sc := Default()
	sc.Provider = ProviderConfig{Name: "anthropic", APIKey: "key", Model: "claude-x"}
	llmCfg := sc.ToLLMConfig()
	if llmCfg.LLMClient.Provider != "anthropic" {
		t.Fatalf("expected anthropic provider, got %q", llmCfg.LLMClient.Provider)
	}
	if llmCfg.LLMClient.Anthropic.Model != "claude-x" {
		t.Fatalf("expected model to carry through, got %q", llmCfg.LLMClient.Anthropic.Model)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxIterations != Default().MaxIterations {
		t.Fatal("expected Load(\"\") to return Default()")
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	body := "maxIterations: 7\nprovider:\n  name: openai\n  apiKey: test-key\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxIterations != 7 {
		t.Fatalf("expected override maxIterations=7, got %d", cfg.MaxIterations)
	}
	if cfg.Provider.APIKey != "test-key" {
		t.Fatalf("expected provider apiKey to be loaded, got %q", cfg.Provider.APIKey)
	}
	// Fields the file didn't mention keep the Default() value.
	if cfg.Memory.MaxTokens != Default().Memory.MaxTokens {
		t.Fatalf("expected untouched field to keep default, got %d", cfg.Memory.MaxTokens)
	}
}
