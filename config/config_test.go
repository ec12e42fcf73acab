package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"priorart/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Index.ChunkTokens != 512 {
		t.Errorf("expected ChunkTokens=512, got %d", cfg.Index.ChunkTokens)
	}
	if cfg.Index.ChunkOverlap != 128 {
		t.Errorf("expected ChunkOverlap=128, got %d", cfg.Index.ChunkOverlap)
	}
	if cfg.Index.K1 != 1.2 {
		t.Errorf("expected K1=1.2, got %f", cfg.Index.K1)
	}
	if cfg.Index.B != 0.75 {
		t.Errorf("expected B=0.75, got %f", cfg.Index.B)
	}
	if cfg.Retrieve.TopK != 24 {
		t.Errorf("expected TopK=24, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.CandidateK != 200 {
		t.Errorf("expected CandidateK=200, got %d", cfg.Retrieve.CandidateK)
	}
	if cfg.Retrieve.Alpha != 0.5 {
		t.Errorf("expected Alpha=0.5, got %f", cfg.Retrieve.Alpha)
	}
	if cfg.Retrieve.ExactThreshold != 20000 {
		t.Errorf("expected ExactThreshold=20000, got %d", cfg.Retrieve.ExactThreshold)
	}
	if cfg.Rerank.Enabled {
		t.Error("expected reranking to be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "priorart.yaml")

	content := `
index:
  chunk_tokens: 256
  chunk_overlap: 32
retrieve:
  top_k: 10
  search_timeout: 750ms
rerank:
  enabled: true
  provider: http
  endpoint: http://localhost:8080/rerank
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Index.ChunkTokens != 256 {
		t.Errorf("expected ChunkTokens=256, got %d", cfg.Index.ChunkTokens)
	}
	if cfg.Retrieve.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.SearchTimeout != 750*time.Millisecond {
		t.Errorf("expected SearchTimeout=750ms, got %v", cfg.Retrieve.SearchTimeout)
	}
	// unspecified values keep defaults
	if cfg.Index.K1 != 1.2 {
		t.Errorf("expected default K1=1.2, got %f", cfg.Index.K1)
	}
	if cfg.Rerank.TopN != 50 {
		t.Errorf("expected default TopN=50, got %d", cfg.Rerank.TopN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "priorart.yaml")
	if err := os.WriteFile(configPath, []byte("index: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieve.TopK != 24 {
		t.Errorf("expected defaults without a config file, got TopK=%d", cfg.Retrieve.TopK)
	}

	if err := EnsureDataDir(tmpDir); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(tmpDir, DataDirName, "config.yaml")
	if err := os.WriteFile(nested, []byte("retrieve:\n  top_k: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieve.TopK != 7 {
		t.Errorf("expected TopK=7 from %s, got %d", nested, cfg.Retrieve.TopK)
	}

	root := filepath.Join(tmpDir, "priorart.yaml")
	if err := os.WriteFile(root, []byte("retrieve:\n  top_k: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieve.TopK != 9 {
		t.Errorf("expected priorart.yaml to take precedence, got TopK=%d", cfg.Retrieve.TopK)
	}
}

func TestSaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "priorart.yaml")

	cfg := DefaultConfig()
	cfg.Retrieve.Alpha = 0.3
	cfg.Rerank.Timeout = 1500 * time.Millisecond
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Retrieve.Alpha != 0.3 {
		t.Errorf("expected Alpha=0.3, got %f", loaded.Retrieve.Alpha)
	}
	if loaded.Rerank.Timeout != 1500*time.Millisecond {
		t.Errorf("expected rerank timeout 1.5s, got %v", loaded.Rerank.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Index.ChunkTokens = 0 }},
		{"overlap equals size", func(c *Config) { c.Index.ChunkOverlap = c.Index.ChunkTokens }},
		{"negative overlap", func(c *Config) { c.Index.ChunkOverlap = -1 }},
		{"b above one", func(c *Config) { c.Index.B = 1.1 }},
		{"top_k zero", func(c *Config) { c.Retrieve.TopK = 0 }},
		{"top_k above 100", func(c *Config) { c.Retrieve.TopK = 101 }},
		{"candidate below top_k", func(c *Config) { c.Retrieve.CandidateK = 10 }},
		{"alpha above one", func(c *Config) { c.Retrieve.Alpha = 1.5 }},
		{"unknown fusion", func(c *Config) { c.Retrieve.Fusion = "borda" }},
		{"no timeout", func(c *Config) { c.Retrieve.SearchTimeout = 0 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "voyage" }},
		{"http rerank without endpoint", func(c *Config) {
			c.Rerank.Enabled = true
			c.Rerank.Provider = "http"
		}},
		{"rerank top_n below top_k", func(c *Config) {
			c.Rerank.Enabled = true
			c.Rerank.TopN = 5
		}},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"unknown vector backend", func(c *Config) { c.Storage.Vector = "faiss" }},
		{"no workers", func(c *Config) { c.Ingest.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	if got := IndexDBPath("/corpus"); got != filepath.Join("/corpus", ".priorart", "index.db") {
		t.Errorf("unexpected IndexDBPath: %s", got)
	}
	if got := SQLitePath("/corpus"); got != filepath.Join("/corpus", ".priorart", "patents.sqlite") {
		t.Errorf("unexpected SQLitePath: %s", got)
	}
}
