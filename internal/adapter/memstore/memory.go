package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"priorart/internal/domain"
	"priorart/internal/port"
)

type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]domain.Document
	chunks     map[string]domain.Chunk
	docChunks  map[string][]string
	embeddings map[string]domain.EmbeddingRecord
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[string]domain.Document),
		chunks:     make(map[string]domain.Chunk),
		docChunks:  make(map[string][]string),
		embeddings: make(map[string]domain.EmbeddingRecord),
	}
}

func (s *MemoryStore) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteChunksLocked(doc.ID)
	s.docs[doc.ID] = doc
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
		ids = append(ids, chunk.ID)
	}
	s.docChunks[doc.ID] = ids
	return nil
}

func (s *MemoryStore) deleteChunksLocked(docID string) []string {
	ids := s.docChunks[docID]
	for _, id := range ids {
		delete(s.chunks, id)
	}
	delete(s.docChunks, docID)
	return ids
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	removed := s.deleteChunksLocked(id)
	delete(s.docs, id)
	return removed, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return chunk, nil
}

func (s *MemoryStore) ChunksBySection(ctx context.Context, docID, section string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []domain.Chunk
	for _, id := range s.docChunks[docID] {
		if chunk, ok := s.chunks[id]; ok && chunk.Section == section {
			chunks = append(chunks, chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

func (s *MemoryStore) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.docChunks[docID]...), nil
}

// AllChunks iterates over a copy so fn may call back into the store.
func (s *MemoryStore) AllChunks(ctx context.Context, fn func(domain.Chunk) error) error {
	s.mu.RLock()
	chunks := make([]domain.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	s.mu.RUnlock()

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) PutEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		s.embeddings[r.ChunkID] = r
	}
	return nil
}

func (s *MemoryStore) DeleteEmbeddings(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.embeddings, id)
	}
	return nil
}

func (s *MemoryStore) LoadEmbeddings(ctx context.Context, fn func(domain.EmbeddingRecord) error) error {
	s.mu.RLock()
	records := make([]domain.EmbeddingRecord, 0, len(s.embeddings))
	for _, r := range s.embeddings {
		records = append(records, r)
	}
	s.mu.RUnlock()

	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
