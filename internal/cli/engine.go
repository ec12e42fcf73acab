package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"priorart/config"
	"priorart/internal/adapter/analyzer"
	"priorart/internal/adapter/cache"
	"priorart/internal/adapter/chunker"
	"priorart/internal/adapter/embedding"
	"priorart/internal/adapter/lexical"
	"priorart/internal/adapter/memstore"
	"priorart/internal/adapter/rerank"
	"priorart/internal/adapter/sqlitestore"
	"priorart/internal/adapter/store"
	"priorart/internal/adapter/vectorindex"
	"priorart/internal/port"
	"priorart/internal/usecase"
)

const chromemCollection = "chunks"

// engine holds the wired components for one command invocation.
type engine struct {
	cfg       *config.Config
	store     port.Store
	tokenizer *analyzer.Tokenizer
	lexical   *lexical.Index
	vector    port.VectorIndex
	embedder  port.Embedder
	reranker  port.Reranker
	cache     *cache.QueryCache

	retriever port.Retriever
	retrieve  *usecase.RetrieveUseCase
	ingest    *usecase.IngestUseCase
}

// openEngine opens storage under dir and rebuilds the in-memory indexes
// from it.
func openEngine(ctx context.Context, dir string, cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{cfg: cfg}

	st, rebuilt, err := openStore(dir, cfg, logger)
	if err != nil {
		return nil, err
	}
	e.store = st

	if err := e.build(ctx, dir, rebuilt, logger); err != nil {
		st.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) build(ctx context.Context, dir string, rebuilt bool, logger zerolog.Logger) error {
	cfg := e.cfg
	e.tokenizer = analyzer.NewTokenizer(cfg.Index.Stopwords...)

	lex, err := lexical.New(lexical.Config{
		K1:     cfg.Index.K1,
		B:      cfg.Index.B,
		Shards: cfg.Index.Shards,
	}, e.tokenizer)
	if err != nil {
		return err
	}
	n, err := lex.Warm(ctx, e.store)
	if err != nil {
		return fmt.Errorf("failed to warm lexical index: %w", err)
	}
	e.lexical = lex
	logger.Debug().Int("chunks", n).Msg("lexical index warmed")

	if cfg.Embedding.Enabled {
		if e.embedder, err = newEmbedder(cfg.Embedding, logger); err != nil {
			return err
		}
		if e.vector, err = e.openVector(ctx, dir, rebuilt, logger); err != nil {
			return err
		}
	}

	if cfg.Rerank.Enabled {
		if e.reranker, err = newReranker(cfg.Rerank, e.tokenizer, logger); err != nil {
			return err
		}
	}

	e.retrieve, err = usecase.NewRetrieveUseCase(e.store, e.lexical, e.vector, e.embedder, e.reranker,
		usecase.RetrieveOptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}
	e.retriever = e.retrieve

	var inv usecase.Invalidator
	if cfg.Retrieve.CacheSize > 0 {
		e.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)
		e.retriever = cache.NewCachedRetriever(e.retrieve, e.cache)
		inv = e.cache
	}

	chk, err := chunker.NewWindowChunker(cfg.Index.ChunkTokens, cfg.Index.ChunkOverlap, e.tokenizer)
	if err != nil {
		return err
	}
	e.ingest = usecase.NewIngestUseCase(e.store, chk, e.lexical, e.vector, e.embedder, inv, usecase.IngestOptions{
		Workers:        cfg.Ingest.Workers,
		EmbedBatchSize: cfg.Embedding.BatchSize,
	}, logger)
	return nil
}

// openStore opens the configured backend. For bbolt it also applies schema
// migrations and clears the store when the index configuration changed.
func openStore(dir string, cfg *config.Config, logger zerolog.Logger) (port.Store, bool, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memstore.NewMemoryStore(), false, nil
	case "sqlite":
		if err := config.EnsureDataDir(dir); err != nil {
			return nil, false, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := sqlitestore.New(config.SQLitePath(dir))
		if err != nil {
			return nil, false, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, false, nil
	}

	if err := config.EnsureDataDir(dir); err != nil {
		return nil, false, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(config.IndexDBPath(dir))
	if err != nil {
		return nil, false, fmt.Errorf("failed to open index store: %w", err)
	}

	migration, err := st.CheckMigration(cfg)
	if err != nil {
		st.Close()
		return nil, false, fmt.Errorf("failed to check migration: %w", err)
	}

	rebuilt := false
	if migration.NeedsRebuild {
		logger.Warn().Str("reason", migration.Reason).Msg("index rebuild required, clearing stored documents")
		if err := st.Clear(); err != nil {
			st.Close()
			return nil, false, fmt.Errorf("failed to clear index: %w", err)
		}
		rebuilt = true
	} else if migration.NeedsMigration {
		logger.Info().Str("reason", migration.Reason).Msg("running schema migration")
	}
	if migration.NeedsRebuild || migration.NeedsMigration {
		if err := st.Migrate(cfg); err != nil {
			st.Close()
			return nil, false, fmt.Errorf("migration failed: %w", err)
		}
	}
	return st, rebuilt, nil
}

func (e *engine) openVector(ctx context.Context, dir string, rebuilt bool, logger zerolog.Logger) (port.VectorIndex, error) {
	cfg := e.cfg
	dim := e.embedder.Dimension()

	if cfg.Storage.Vector == "chromem" {
		path := ""
		if cfg.Storage.Backend != "memory" {
			path = config.ChromemPath(dir)
			if rebuilt {
				if err := os.RemoveAll(path); err != nil {
					return nil, fmt.Errorf("failed to clear vector collection: %w", err)
				}
			}
		}
		return vectorindex.NewChromem(path, chromemCollection, dim, logger)
	}

	idx, err := vectorindex.New(vectorindex.Config{
		Dimension:      dim,
		ExactThreshold: cfg.Retrieve.ExactThreshold,
		Lists:          cfg.Retrieve.IVFLists,
		NProbe:         cfg.Retrieve.NProbe,
		Iterations:     vectorindex.DefaultConfig(dim).Iterations,
	}, e.store, logger)
	if err != nil {
		return nil, err
	}
	n, err := idx.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	logger.Debug().Int("vectors", n).Msg("vector index loaded")
	return idx, nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger zerolog.Logger) (port.Embedder, error) {
	var (
		base port.Embedder
		err  error
	)
	switch cfg.Provider {
	case "openai":
		base, err = embedding.NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dimension)
	case "ollama":
		base, err = embedding.NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimension)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	retry := embedding.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.RequestsPerSecond = cfg.RequestsPerSecond
	return embedding.NewRetryingEmbedder(base, retry, logger), nil
}

func newReranker(cfg config.RerankConfig, tok port.Tokenizer, logger zerolog.Logger) (port.Reranker, error) {
	var r port.Reranker
	switch cfg.Provider {
	case "local":
		r = rerank.NewTermOverlapReranker(tok)
	case "http":
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		hr, err := rerank.NewHTTPReranker(cfg.Endpoint, cfg.Model, apiKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		r = hr
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Provider)
	}

	if !cfg.Breaker.Enabled {
		return r, nil
	}
	bc := rerank.DefaultBreakerConfig()
	if cfg.Breaker.MaxRequests > 0 {
		bc.MaxRequests = cfg.Breaker.MaxRequests
	}
	if cfg.Breaker.Interval > 0 {
		bc.Interval = cfg.Breaker.Interval
	}
	if cfg.Breaker.Timeout > 0 {
		bc.Timeout = cfg.Breaker.Timeout
	}
	if cfg.Breaker.FailureRatio > 0 {
		bc.ReadyToTripRatio = cfg.Breaker.FailureRatio
	}
	return rerank.NewBreakerReranker(r, bc, logger), nil
}

// Close releases storage.
func (e *engine) Close() error {
	var errs []error
	if c, ok := e.vector.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}
