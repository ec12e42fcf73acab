package domain

import (
	"context"
	"errors"
)

// Error kinds surfaced by the retrieval core. Callers match them with errors.Is.
var (
	// ErrInvalidConfiguration rejects bad chunk sizes, k, alpha or dimensions
	// before any work starts. Never retried.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIndexUnavailable indicates an index is not built or cannot be searched.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrEmbeddingService indicates the embedding collaborator failed.
	ErrEmbeddingService = errors.New("embedding service failure")

	// ErrRerankService indicates the reranking collaborator failed.
	// Retrieval degrades to the fused order instead of surfacing it.
	ErrRerankService = errors.New("rerank service failure")

	// ErrPartialIngestion summarises a batch where some documents failed.
	ErrPartialIngestion = errors.New("partial ingestion failure")

	// ErrInvalidDocument indicates a malformed document.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptySection indicates a section without any text to index.
	ErrEmptySection = errors.New("empty section")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Classify returns the kind name of err for logs and status output.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrEmptySection), errors.Is(err, ErrInvalidDocument):
		return "invalid_document"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrEmbeddingService):
		return "embedding_service_failure"
	case errors.Is(err, ErrRerankService):
		return "rerank_service_failure"
	case errors.Is(err, ErrPartialIngestion):
		return "partial_ingestion_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
