package port

import "context"

// Reranker scores query-passage pairs for relevance.
type Reranker interface {
	// Rerank scores texts against the query.
	// Returns results sorted by relevance score (highest first).
	Rerank(ctx context.Context, query string, texts []string) ([]RerankedResult, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}

// RerankedResult represents a reranked passage.
type RerankedResult struct {
	Index int     // Original index in the input slice
	Score float64 // Relevance score (higher is better)
}
