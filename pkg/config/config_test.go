package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "INDEX_BACKEND", "ENCODER_PROVIDER", "RETRIEVAL_K", "REASONER_TEMPERATURE", "REASONER_TIMEOUT", "OLLAMA_BASE_URL", "OLLAMA_CHAT_URL", "JWT_SECRET"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.Port != "3001" || cfg.IndexBackend != "sqlite" || cfg.EncoderProvider != "ollama" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RetrievalK != 5 || cfg.ReasonerTemperature != 0.1 || cfg.TextEmbeddingDimension != 384 {
		t.Fatalf("unexpected RAG defaults: k=%d temp=%v dim=%d", cfg.RetrievalK, cfg.ReasonerTemperature, cfg.TextEmbeddingDimension)
	}
	if cfg.ReasonerTimeout != 2*time.Minute || cfg.EncoderTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.ReasonerTimeout, cfg.EncoderTimeout)
	}
	if cfg.JWTSecret != "" {
		t.Fatal("JWT secret must default to empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")
	t.Setenv("OLLAMA_CHAT_URL", "https://ollama.com")
	t.Setenv("RETRIEVAL_K", "8")
	t.Setenv("REASONER_TEMPERATURE", "0.3")
	t.Setenv("REASONER_TIMEOUT", "45s")
	t.Setenv("MCP_ENABLED", "false")
	t.Setenv("INDEX_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://user:secret@db:5432/pitwall")

	cfg := Load()
	if cfg.OllamaEmbedURL != "http://gpu-box:11434" || cfg.OllamaChatURL != "https://ollama.com" {
		t.Fatalf("endpoint fallback wrong: %s %s", cfg.OllamaEmbedURL, cfg.OllamaChatURL)
	}
	if cfg.RetrievalK != 8 || cfg.ReasonerTemperature != 0.3 || cfg.ReasonerTimeout != 45*time.Second || cfg.MCPEnabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if dsn := cfg.DSN(); strings.Contains(dsn, "secret") || !strings.Contains(dsn, "db:5432") {
		t.Fatalf("DSN = %q", dsn)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("RETRIEVAL_K", "five")
	t.Setenv("ENCODER_TIMEOUT", "soon")
	t.Setenv("REASONER_TEMPERATURE", "cold")
	cfg := Load()
	if cfg.RetrievalK != 5 || cfg.EncoderTimeout != 30*time.Second || cfg.ReasonerTemperature != 0.1 {
		t.Fatalf("fallbacks not used: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.IndexBackend = "redis" }},
		{"encoder", func(c *Config) { c.EncoderProvider = "openai" }},
		{"dimension", func(c *Config) { c.TextEmbeddingDimension = 0 }},
		{"k", func(c *Config) { c.RetrievalK = -1 }},
		{"temperature", func(c *Config) { c.ReasonerTemperature = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
