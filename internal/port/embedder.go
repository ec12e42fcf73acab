package port

import (
	"context"

	"priorart/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex searches chunk embeddings by similarity.
type VectorIndex interface {
	// Upsert adds or replaces embeddings keyed by chunk id.
	Upsert(ctx context.Context, records []domain.EmbeddingRecord) error

	// Search returns the k most similar chunks passing filters, best first.
	Search(ctx context.Context, query []float32, k int, filters domain.Filters) ([]domain.ScoredID, error)

	// Delete removes embeddings by chunk id. Unknown ids are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// Replace removes chunkIDs and upserts records as one update.
	Replace(ctx context.Context, remove []string, records []domain.EmbeddingRecord) error

	// Records returns the embeddings held for ids. Unknown ids are skipped.
	Records(ctx context.Context, ids []string) ([]domain.EmbeddingRecord, error)

	// Len returns the number of indexed embeddings.
	Len() int

	// Metric names the similarity measure behind Search scores.
	Metric() string
}
