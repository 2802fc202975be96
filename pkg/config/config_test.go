package config

import "testing"

func validBase() *Config {
	return &Config{
		Milvus: MilvusConfig{VectorDim: 1024},
		Ingest: IngestConfig{MaxTokens: 512, Window: 2, PacingMode: "fixed"},
		Chat:   ChatConfig{TopK: 5, ScoreThreshold: 0.55},
	}
}

func TestValidateOK(t *testing.T) {
	if err := validBase().Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_tokens", func(c *Config) { c.Ingest.MaxTokens = 0 }},
		{"negative window", func(c *Config) { c.Ingest.Window = -1 }},
		{"unknown pacing mode", func(c *Config) { c.Ingest.PacingMode = "burst" }},
		{"rate mode without rps", func(c *Config) { c.Ingest.PacingMode = "rate"; c.Ingest.PacingRPS = 0 }},
		{"zero top_k", func(c *Config) { c.Chat.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Chat.ScoreThreshold = 1.5 }},
		{"zero vector dim", func(c *Config) { c.Milvus.VectorDim = 0 }},
		{"jwt enabled without secret", func(c *Config) { c.JWT.Enabled = true }},
	}
	for _, tc := range cases {
		c := validBase()
		tc.mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}
