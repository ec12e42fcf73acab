package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"priorart/internal/domain"
)

// DataDirName is the per-corpus directory holding indexes and config.
const DataDirName = ".priorart"

// Config holds all configuration for the retrieval engine.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Pack      PackConfig      `yaml:"pack"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig holds chunking and lexical indexing configuration.
type IndexConfig struct {
	ChunkTokens  int      `yaml:"chunk_tokens"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	K1           float64  `yaml:"k1"`
	B            float64  `yaml:"b"`
	Stopwords    []string `yaml:"stopwords"` // added to the built-in list
	Shards       int      `yaml:"shards"`
}

// RetrieveConfig holds query-time configuration.
type RetrieveConfig struct {
	TopK           int           `yaml:"top_k"`
	CandidateK     int           `yaml:"candidate_k"` // per-index candidate budget before fusion
	Alpha          float64       `yaml:"alpha"`       // lexical weight in [0,1]
	Fusion         string        `yaml:"fusion"`      // "zscore" or "rrf"
	ExactThreshold int           `yaml:"exact_threshold"`
	IVFLists       int           `yaml:"ivf_lists"` // 0 = sqrt(corpus)
	NProbe         int           `yaml:"nprobe"`
	SearchTimeout  time.Duration `yaml:"search_timeout"`
	CacheSize      int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// PackConfig holds context packing configuration.
type PackConfig struct {
	WindowSize int    `yaml:"window_size"` // neighbouring chunks added on each side
	Output     string `yaml:"output"`      // file written by "pack"; empty means stdout
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Provider          string  `yaml:"provider"` // "openai", "ollama", "mock"
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"` // Environment variable for API key
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
}

// RerankConfig holds optional reranking configuration.
type RerankConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // "http" or "local"
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	TopN      int           `yaml:"top_n"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the reranker.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "bolt", "sqlite", "memory"
	Vector  string `yaml:"vector"`  // "flat" or "chromem"
}

// IngestConfig holds document loading configuration.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	Workers  int      `yaml:"workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			ChunkTokens:  512,
			ChunkOverlap: 128,
			K1:           1.2,
			B:            0.75,
			Shards:       4,
		},
		Retrieve: RetrieveConfig{
			TopK:           24,
			CandidateK:     200,
			Alpha:          0.5,
			Fusion:         "zscore",
			ExactThreshold: 20000,
			NProbe:         8,
			SearchTimeout:  2 * time.Second,
			CacheSize:      128,
			CacheTTL:       5 * time.Minute,
		},
		Pack: PackConfig{
			WindowSize: 1,
		},
		Embedding: EmbeddingConfig{
			Enabled:    true,
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimension:  768,
			BatchSize:  64,
			MaxRetries: 3,
		},
		Rerank: RerankConfig{
			Enabled:  false,
			Provider: "local",
			TopN:     50,
			Timeout:  3 * time.Second,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxRequests:  1,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				FailureRatio: 0.5,
			},
		},
		Storage: StorageConfig{
			Backend: "bolt",
			Vector:  "flat",
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.json", "**/*.yaml", "**/*.yml"},
			Excludes: []string{"**/.priorart/**", "**/.git/**"},
			Workers:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks every setting that would otherwise fail later at query or
// ingest time.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	ix := c.Index
	if ix.ChunkTokens <= 0 {
		return invalid("index.chunk_tokens must be positive, got %d", ix.ChunkTokens)
	}
	if ix.ChunkOverlap < 0 || ix.ChunkOverlap >= ix.ChunkTokens {
		return invalid("index.chunk_overlap must be in [0, %d), got %d", ix.ChunkTokens, ix.ChunkOverlap)
	}
	if ix.K1 < 0 || ix.B < 0 || ix.B > 1 {
		return invalid("index.k1 must be >= 0 and index.b in [0,1]")
	}
	if ix.Shards <= 0 {
		return invalid("index.shards must be positive, got %d", ix.Shards)
	}

	r := c.Retrieve
	if r.TopK < 1 || r.TopK > 100 {
		return invalid("retrieve.top_k must be in [1,100], got %d", r.TopK)
	}
	if r.CandidateK < r.TopK {
		return invalid("retrieve.candidate_k (%d) must be >= top_k (%d)", r.CandidateK, r.TopK)
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		return invalid("retrieve.alpha must be in [0,1], got %v", r.Alpha)
	}
	if r.Fusion != "zscore" && r.Fusion != "rrf" {
		return invalid("retrieve.fusion must be zscore or rrf, got %q", r.Fusion)
	}
	if r.ExactThreshold < 0 || r.NProbe <= 0 || r.IVFLists < 0 {
		return invalid("retrieve.exact_threshold, ivf_lists must be >= 0 and nprobe positive")
	}
	if r.SearchTimeout <= 0 {
		return invalid("retrieve.search_timeout must be positive")
	}
	if r.CacheSize < 0 {
		return invalid("retrieve.cache_size must be >= 0")
	}

	if c.Pack.WindowSize < 0 {
		return invalid("pack.window_size must be >= 0")
	}

	if c.Embedding.Enabled {
		switch c.Embedding.Provider {
		case "openai", "ollama", "mock":
		default:
			return invalid("embedding.provider must be openai, ollama or mock, got %q", c.Embedding.Provider)
		}
		if c.Embedding.Provider == "mock" && c.Embedding.Dimension <= 0 {
			return invalid("embedding.dimension must be positive for the mock provider")
		}
		if c.Embedding.MaxRetries < 0 || c.Embedding.RequestsPerSecond < 0 {
			return invalid("embedding.max_retries and requests_per_second must be >= 0")
		}
	}

	if c.Rerank.Enabled {
		switch c.Rerank.Provider {
		case "local":
		case "http":
			if c.Rerank.Endpoint == "" {
				return invalid("rerank.endpoint is required for the http provider")
			}
		default:
			return invalid("rerank.provider must be http or local, got %q", c.Rerank.Provider)
		}
		if c.Rerank.TopN < r.TopK {
			return invalid("rerank.top_n (%d) must be >= retrieve.top_k (%d)", c.Rerank.TopN, r.TopK)
		}
		if c.Rerank.Timeout <= 0 {
			return invalid("rerank.timeout must be positive")
		}
	}

	switch c.Storage.Backend {
	case "bolt", "sqlite", "memory":
	default:
		return invalid("storage.backend must be bolt, sqlite or memory, got %q", c.Storage.Backend)
	}
	switch c.Storage.Vector {
	case "flat", "chromem":
	default:
		return invalid("storage.vector must be flat or chromem, got %q", c.Storage.Vector)
	}

	if c.Ingest.Workers <= 0 {
		return invalid("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		return invalid("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for priorart.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "priorart.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, DataDirName, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the bbolt database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, DataDirName, "index.db")
}

// SQLitePath returns the path to the sqlite database.
func SQLitePath(dir string) string {
	return filepath.Join(dir, DataDirName, "patents.sqlite")
}

// ChromemPath returns the directory of the chromem-go collection.
func ChromemPath(dir string) string {
	return filepath.Join(dir, DataDirName, "vectors")
}

// EnsureDataDir ensures the data directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, DataDirName), 0755)
}
