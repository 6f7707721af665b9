package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestIntFromEnv(t *testing.T) {
	key := "COGROUTER_TEST_INT_FROM_ENV"
	old := os.Getenv(key)
	defer func() { _ = os.Setenv(key, old) }()

	_ = os.Unsetenv(key)
	if got := intFromEnv(key, 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	_ = os.Setenv(key, "123")
	if got := intFromEnv(key, 7); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

func TestBoolFromEnv(t *testing.T) {
	key := "COGROUTER_TEST_BOOL_FROM_ENV"
	old := os.Getenv(key)
	defer func() { _ = os.Setenv(key, old) }()

	_ = os.Unsetenv(key)
	if got := boolFromEnv(key, true); !got {
		t.Fatalf("expected default true")
	}
	_ = os.Setenv(key, "0")
	if got := boolFromEnv(key, true); got {
		t.Fatalf("expected false for '0'")
	}
	_ = os.Setenv(key, "yes")
	if got := boolFromEnv(key, false); !got {
		t.Fatalf("expected true for 'yes'")
	}
}

func TestLoadSpecialistsFromEnv(t *testing.T) {
	old := os.Getenv("SPECIALISTS_CONFIG")
	defer func() { _ = os.Setenv("SPECIALISTS_CONFIG", old) }()

	_ = os.Setenv("SPECIALISTS_CONFIG", `
- name: test-specialist
  description: "handles calendar lookups"
  provider: google
  model: gemini-pro
`)

	var cfg Config
	if err := loadSpecialists(&cfg); err != nil {
		t.Fatalf("loadSpecialists returned error: %v", err)
	}
	if len(cfg.Specialists) != 1 || cfg.Specialists[0].Name != "test-specialist" {
		t.Fatalf("unexpected specialists: %#v", cfg.Specialists)
	}
}

func TestLoadSpecialistsEmptyWhenUnset(t *testing.T) {
	old := os.Getenv("SPECIALISTS_CONFIG")
	defer func() { _ = os.Setenv("SPECIALISTS_CONFIG", old) }()
	_ = os.Unsetenv("SPECIALISTS_CONFIG")

	var cfg Config
	if err := loadSpecialists(&cfg); err != nil {
		t.Fatalf("loadSpecialists returned error: %v", err)
	}
	if len(cfg.Specialists) != 0 {
		t.Fatalf("expected no specialists, got %d", len(cfg.Specialists))
	}
}

func TestLoadAppliesDefaultsWithNoEnv(t *testing.T) {
	for _, key := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_LLM_API_KEY",
		"CONTEXT_MAX_TOKENS", "SCHEDULER_MAX_ITERATIONS", "SPECIALISTS_CONFIG",
	} {
		old := os.Getenv(key)
		_ = os.Unsetenv(key)
		defer func(k, v string) { _ = os.Setenv(k, v) }(key, old)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LLMClient.Provider != "default" {
		t.Fatalf("expected provider fallback 'default', got %q", cfg.LLMClient.Provider)
	}
	if cfg.Context.MaxTokens != 8000 {
		t.Fatalf("expected default max tokens 8000, got %d", cfg.Context.MaxTokens)
	}
}
