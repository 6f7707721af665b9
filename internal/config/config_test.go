package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigSuccessAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfgContent := `
llm_client:
  provider: anthropic
  anthropic:
    api_key: "key"
    model: "claude-opus"
specialists:
  - name: researcher
    description: "answers factual lookups"
    provider: openai
    model: "gpt-5"
`
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LLMClient.Provider != "anthropic" {
		t.Errorf("unexpected provider: %v", cfg.LLMClient.Provider)
	}
	if cfg.LLMClient.Anthropic.Model != "claude-opus" {
		t.Errorf("unexpected anthropic model: %v", cfg.LLMClient.Anthropic.Model)
	}
	if len(cfg.Specialists) != 1 || cfg.Specialists[0].Name != "researcher" {
		t.Fatalf("unexpected specialists: %+v", cfg.Specialists)
	}
	if cfg.Context.MaxTokens != 8000 {
		t.Errorf("expected default max_tokens 8000, got %d", cfg.Context.MaxTokens)
	}
	if cfg.Scheduler.MaxIterations != 2 {
		t.Errorf("expected default max_iterations 2, got %d", cfg.Scheduler.MaxIterations)
	}
	if cfg.Quality.Threshold != 0.75 {
		t.Errorf("expected default quality threshold 0.75, got %v", cfg.Quality.Threshold)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "bad.*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.WriteString("not: [invalid yaml"); err != nil {
		t.Fatalf("failed to write bad yaml: %v", err)
	}
	tmpFile.Close()

	_, err = LoadConfig(tmpFile.Name())
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}
