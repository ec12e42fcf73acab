package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"priorart/config"
	"priorart/internal/adapter/embedding"
	"priorart/internal/adapter/store"
	"priorart/internal/adapter/vectorindex"
	"priorart/internal/domain"
	"priorart/internal/port"
)

func main() {
	indexPath := flag.String("index", ".", "Path to the corpus directory holding .priorart/")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	nprobe := flag.Int("nprobe", 0, "IVF lists to probe (default from config)")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -index ./corpus -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (model connection, stored vectors)")
		fmt.Println("  2. Semantic similarity (query vs results)")
		fmt.Println("  3. IVF recall and latency against exact search")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *nprobe > 0 {
		cfg.Retrieve.NProbe = *nprobe
	}

	st, err := store.NewBoltStore(config.IndexDBPath(*indexPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	embedder, exact, ivf, err := setupEmbedding(ctx, st, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Semantic search not available: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	count, _ := st.CountEmbeddings()
	fmt.Printf("Embeddings stored: %d\n", count)
	fmt.Printf("Model: %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", embedder.Dimension())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	queryVec, err := embedder.Embed(ctx, []string{*query})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Query embedded: %d dimensions\n\n", len(queryVec[0]))

	start := time.Now()
	results, err := exact.Search(ctx, queryVec[0], *topK, domain.Filters{})
	exactTook := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}

	fmt.Printf("Top %d semantic matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		chunk, _ := st.GetChunk(ctx, r.ChunkID)

		preview := []rune(chunk.Text)
		if len(preview) > 150 {
			preview = append(preview[:150], []rune("...")...)
		}

		similarity := r.Score
		totalScore += similarity

		rating := "LOW"
		if similarity > 0.7 {
			rating = "HIGH"
		} else if similarity > 0.5 {
			rating = "GOOD"
		} else if similarity > 0.3 {
			rating = "OK"
		}

		fmt.Printf("%d. [%s %.3f] %s %s [%d:%d]\n", i+1, rating, similarity, r.DocID, chunk.Section, chunk.Start, chunk.End)
		fmt.Printf("   %s\n\n", strings.ReplaceAll(string(preview), "\n", " "))
	}

	// The first IVF search builds the lists.
	start = time.Now()
	if _, err := ivf.Search(ctx, queryVec[0], *topK, domain.Filters{}); err != nil {
		fmt.Fprintf(os.Stderr, "IVF search error: %v\n", err)
		os.Exit(1)
	}
	buildTook := time.Since(start)

	start = time.Now()
	approx, err := ivf.Search(ctx, queryVec[0], *topK, domain.Filters{})
	ivfTook := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "IVF search error: %v\n", err)
		os.Exit(1)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)
	fmt.Printf("  Exact search:       %s\n", exactTook)
	fmt.Printf("  IVF build:          %s\n", buildTook)
	fmt.Printf("  IVF search:         %s (nprobe %d)\n", ivfTook, cfg.Retrieve.NProbe)
	fmt.Printf("  IVF recall@%d:      %.3f\n", *topK, overlap(results, approx))

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-ingestion")
	}
}

// overlap is the share of exact results the approximate search also found.
func overlap(exact, approx []domain.ScoredID) float64 {
	if len(exact) == 0 {
		return math.NaN()
	}
	found := make(map[string]bool, len(approx))
	for _, r := range approx {
		found[r.ChunkID] = true
	}
	hits := 0
	for _, r := range exact {
		if found[r.ChunkID] {
			hits++
		}
	}
	return float64(hits) / float64(len(exact))
}

func setupEmbedding(ctx context.Context, st *store.BoltStore, cfg *config.Config) (port.Embedder, *vectorindex.Index, *vectorindex.Index, error) {
	if !cfg.Embedding.Enabled {
		return nil, nil, nil, fmt.Errorf("embeddings not enabled in config")
	}

	var embedder port.Embedder
	var err error

	switch cfg.Embedding.Provider {
	case "ollama":
		embedder, err = embedding.NewOllamaEmbedder(cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimension)
	case "openai":
		embedder, err = embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimension)
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimension)
	default:
		return nil, nil, nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedder init failed: %w", err)
	}

	count, _ := st.CountEmbeddings()
	if count == 0 {
		return nil, nil, nil, fmt.Errorf("no embeddings - run 'priorart ingest' with embedding.enabled=true")
	}

	dim := embedder.Dimension()
	exactCfg := vectorindex.DefaultConfig(dim)
	exactCfg.ExactThreshold = math.MaxInt
	ivfCfg := vectorindex.DefaultConfig(dim)
	ivfCfg.ExactThreshold = 0
	ivfCfg.Lists = cfg.Retrieve.IVFLists
	ivfCfg.NProbe = cfg.Retrieve.NProbe

	var indexes [2]*vectorindex.Index
	for i, c := range []vectorindex.Config{exactCfg, ivfCfg} {
		idx, err := vectorindex.New(c, st, zerolog.Nop())
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := idx.Load(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("loading embeddings: %w", err)
		}
		indexes[i] = idx
	}
	return embedder, indexes[0], indexes[1], nil
}
