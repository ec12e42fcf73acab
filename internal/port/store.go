package port

import (
	"context"

	"priorart/internal/domain"
)

// DocumentStore persists documents and their chunks.
type DocumentStore interface {
	// PutDocument stores doc and replaces all of its previous chunks.
	PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error

	GetDocument(ctx context.Context, id string) (domain.Document, error)

	// DeleteDocument removes doc and its chunks, returning the removed chunk ids.
	DeleteDocument(ctx context.Context, id string) ([]string, error)

	ListDocuments(ctx context.Context) ([]domain.Document, error)

	GetChunk(ctx context.Context, id string) (domain.Chunk, error)

	// ChunksBySection returns the chunks of one section ordered by Seq.
	ChunksBySection(ctx context.Context, docID, section string) ([]domain.Chunk, error)

	// ChunkIDs returns the ids of all chunks of a document.
	ChunkIDs(ctx context.Context, docID string) ([]string, error)

	// AllChunks streams every stored chunk to fn.
	AllChunks(ctx context.Context, fn func(domain.Chunk) error) error

	Close() error
}

// EmbeddingStore persists chunk embeddings.
type EmbeddingStore interface {
	PutEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error

	DeleteEmbeddings(ctx context.Context, chunkIDs []string) error

	// LoadEmbeddings streams every stored embedding to fn.
	LoadEmbeddings(ctx context.Context, fn func(domain.EmbeddingRecord) error) error
}

// Store is a backend providing both documents and embeddings.
type Store interface {
	DocumentStore
	EmbeddingStore
}
