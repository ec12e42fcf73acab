package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"priorart/internal/domain"
)

var (
	bucketDocs       = []byte("docs")
	bucketChunks     = []byte("chunks")
	bucketBlobs      = []byte("blobs")
	bucketDocChunks  = []byte("doc_chunks")
	bucketEmbeddings = []byte("embeddings")
	bucketStats      = []byte("stats")
)

// BoltStore persists documents, chunks and embeddings in a single bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketEmbeddings, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

type docMeta struct {
	Title           string           `json:"title"`
	Sections        []domain.Section `json:"sections"`
	Class           string           `json:"class,omitempty"`
	PublicationDate int64            `json:"publication_date,omitempty"`
	Inventor        string           `json:"inventor,omitempty"`
	Assignee        string           `json:"assignee,omitempty"`
}

type chunkMeta struct {
	DocID      string   `json:"doc_id"`
	Section    string   `json:"section"`
	Class      string   `json:"class,omitempty"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Seq        int      `json:"seq"`
	TokenCount int      `json:"token_count"`
	Terms      []string `json:"terms"`
}

func encodeDoc(doc domain.Document) ([]byte, error) {
	meta := docMeta{
		Title:    doc.Title,
		Sections: doc.Sections,
		Class:    doc.Class,
		Inventor: doc.Inventor,
		Assignee: doc.Assignee,
	}
	if !doc.PublicationDate.IsZero() {
		meta.PublicationDate = doc.PublicationDate.Unix()
	}
	return json.Marshal(meta)
}

func decodeDoc(id string, data []byte) (domain.Document, error) {
	var meta docMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{
		ID:       id,
		Title:    meta.Title,
		Sections: meta.Sections,
		Class:    meta.Class,
		Inventor: meta.Inventor,
		Assignee: meta.Assignee,
	}
	if meta.PublicationDate != 0 {
		doc.PublicationDate = time.Unix(meta.PublicationDate, 0).UTC()
	}
	return doc, nil
}

func decodeChunk(tx *bbolt.Tx, id string, data []byte) (domain.Chunk, error) {
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Chunk{}, err
	}
	text := tx.Bucket(bucketBlobs).Get([]byte(id))
	return domain.Chunk{
		ID:         id,
		DocID:      meta.DocID,
		Section:    meta.Section,
		Class:      meta.Class,
		Text:       string(text),
		Start:      meta.Start,
		End:        meta.End,
		Seq:        meta.Seq,
		TokenCount: meta.TokenCount,
		Terms:      meta.Terms,
	}, nil
}

// PutDocument stores doc and its chunks in one transaction, removing any
// chunks of a previous version first.
func (s *BoltStore) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := deleteChunks(tx, doc.ID); err != nil {
			return err
		}

		data, err := encodeDoc(doc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}

		chunksBucket := tx.Bucket(bucketChunks)
		blobsBucket := tx.Bucket(bucketBlobs)
		chunkIDs := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			data, err := json.Marshal(chunkMeta{
				DocID:      chunk.DocID,
				Section:    chunk.Section,
				Class:      chunk.Class,
				Start:      chunk.Start,
				End:        chunk.End,
				Seq:        chunk.Seq,
				TokenCount: chunk.TokenCount,
				Terms:      chunk.Terms,
			})
			if err != nil {
				return err
			}
			if err := chunksBucket.Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			if err := blobsBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, chunk.ID)
		}

		chunkIDsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocChunks).Put([]byte(doc.ID), chunkIDsData)
	})
}

func docChunkIDs(tx *bbolt.Tx, docID string) ([]string, error) {
	data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func deleteChunks(tx *bbolt.Tx, docID string) ([]string, error) {
	ids, err := docChunkIDs(tx, docID)
	if err != nil {
		return nil, err
	}
	chunksBucket := tx.Bucket(bucketChunks)
	blobsBucket := tx.Bucket(bucketBlobs)
	for _, id := range ids {
		if err := chunksBucket.Delete([]byte(id)); err != nil {
			return nil, err
		}
		if err := blobsBucket.Delete([]byte(id)); err != nil {
			return nil, err
		}
	}
	return ids, tx.Bucket(bucketDocChunks).Delete([]byte(docID))
}

func (s *BoltStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		var err error
		doc, err = decodeDoc(id, data)
		return err
	})
	return doc, err
}

func (s *BoltStore) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketDocs).Get([]byte(id)) == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		var err error
		removed, err = deleteChunks(tx, id)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
	return removed, err
}

func (s *BoltStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := decodeDoc(string(k), v)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

func (s *BoltStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
		}
		var err error
		chunk, err = decodeChunk(tx, id, data)
		return err
	})
	return chunk, err
}

func (s *BoltStore) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		ids, err = docChunkIDs(tx, docID)
		return err
	})
	return ids, err
}

func (s *BoltStore) ChunksBySection(ctx context.Context, docID, section string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids, err := docChunkIDs(tx, docID)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketChunks)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			chunk, err := decodeChunk(tx, id, data)
			if err != nil {
				return err
			}
			if chunk.Section == section {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	})
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, err
}

func (s *BoltStore) AllChunks(ctx context.Context, fn func(domain.Chunk) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := decodeChunk(tx, string(k), v)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", k, err)
			}
			return fn(chunk)
		})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
