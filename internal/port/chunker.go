package port

import "priorart/internal/domain"

// Chunker splits one section of a document into offset-tracked windows.
type Chunker interface {
	Chunk(doc domain.Document, section domain.Section) ([]domain.Chunk, error)
}
