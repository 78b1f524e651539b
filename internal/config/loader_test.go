package config

import "testing"

func TestLoad_RequiresLLMProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_API_KEY", "key")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when LLM_PROVIDER is unset")
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "key")
	t.Setenv("MEMORY_LANGUAGE", "zh")
	t.Setenv("TZ", "UTC")
	t.Setenv("REDIS_QUEUE_SERIALIZATION_MODE", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Language != "zh" {
		t.Errorf("language = %q, want zh", cfg.Language)
	}
	if cfg.Queue.SerializationMode != "json" {
		t.Errorf("serialization mode should fall back to json for an invalid value, got %q", cfg.Queue.SerializationMode)
	}
	if cfg.Queue.GlobalPrefix == "" {
		t.Error("expected a default global redis prefix")
	}
	if cfg.Vectorize.MaxConcurrent == 0 {
		t.Error("expected a default vectorize max concurrency")
	}
}

func TestLoad_InvalidLanguageFallsBackToEnglish(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "key")
	t.Setenv("MEMORY_LANGUAGE", "fr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Language != "en" {
		t.Errorf("language = %q, want en fallback", cfg.Language)
	}
}
