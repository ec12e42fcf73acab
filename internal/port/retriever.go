package port

import (
	"context"

	"priorart/internal/domain"
)

// LexicalIndex is a keyword index over chunks.
type LexicalIndex interface {
	// Index inserts chunks, replacing any chunk with the same id.
	Index(chunks []domain.Chunk) error

	// Delete removes chunks by id.
	Delete(chunkIDs []string) error

	// Replace removes chunkIDs and inserts chunks as one update.
	Replace(remove []string, chunks []domain.Chunk) error

	// Search returns the k best chunks for text that pass filters.
	// An empty index yields an empty result, not an error.
	Search(ctx context.Context, text string, k int, filters domain.Filters) ([]domain.ScoredID, error)

	// Len returns the number of indexed chunks.
	Len() int
}

// Retriever answers a query with citation-ready passages.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.Query) ([]domain.Passage, error)
}
