package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"priorart/internal/domain"
)

type storedVector struct {
	Vector  []float32 `json:"v"`
	DocID   string    `json:"d"`
	Section string    `json:"s"`
	Class   string    `json:"c,omitempty"`
	Seq     int       `json:"q"`
}

// PutEmbeddings adds or replaces embeddings keyed by chunk id.
func (s *BoltStore) PutEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		for _, rec := range records {
			data, err := json.Marshal(storedVector{
				Vector:  rec.Vector,
				DocID:   rec.DocID,
				Section: rec.Section,
				Class:   rec.Class,
				Seq:     rec.Seq,
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.ChunkID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEmbeddings removes embeddings by chunk id.
func (s *BoltStore) DeleteEmbeddings(ctx context.Context, chunkIDs []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		for _, id := range chunkIDs {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadEmbeddings streams all stored embeddings.
func (s *BoltStore) LoadEmbeddings(ctx context.Context, fn func(domain.EmbeddingRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("embedding %s: %w", k, err)
			}
			return fn(domain.EmbeddingRecord{
				ChunkID: string(k),
				DocID:   stored.DocID,
				Section: stored.Section,
				Class:   stored.Class,
				Seq:     stored.Seq,
				Vector:  stored.Vector,
			})
		})
	})
}

// CountEmbeddings returns the number of stored embeddings.
func (s *BoltStore) CountEmbeddings() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEmbeddings).Stats().KeyN
		return nil
	})
	return n, err
}
