package lexical

import (
	"context"

	"priorart/internal/domain"
)

const warmBatch = 1000

// ChunkSource streams stored chunks.
type ChunkSource interface {
	AllChunks(ctx context.Context, fn func(domain.Chunk) error) error
}

// Warm loads every chunk from src into the index and returns the count.
func (idx *Index) Warm(ctx context.Context, src ChunkSource) (int, error) {
	batch := make([]domain.Chunk, 0, warmBatch)
	total := 0
	err := src.AllChunks(ctx, func(ch domain.Chunk) error {
		batch = append(batch, ch)
		if len(batch) == warmBatch {
			if err := idx.Index(batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if len(batch) > 0 {
		if err := idx.Index(batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}
