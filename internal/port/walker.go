package port

import (
	"context"

	"priorart/internal/domain"
)

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}

// DocumentLoader reads patent documents from files.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (domain.Document, error)
}
