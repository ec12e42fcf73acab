package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"priorart/internal/domain"
)

const (
	metaDocID   = "doc_id"
	metaSection = "section"
	metaClass   = "class"
	metaSeq     = "seq"
)

// Chromem is a vector index backed by a chromem-go collection. It is exact
// at every corpus size. Embeddings are always supplied by the caller.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	logger     zerolog.Logger

	mu sync.RWMutex
}

// NewChromem opens the named collection. An empty dbPath keeps it in memory.
func NewChromem(dbPath, collectionName string, dimension int, logger zerolog.Logger) (*Chromem, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: vector dimension must be positive, got %d", domain.ErrInvalidConfiguration, dimension)
	}

	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}

	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	logger.Debug().Str("collection", collectionName).Int("count", c.Count()).Msg("opened chromem collection")

	return &Chromem{
		db:         db,
		collection: c,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

func (c *Chromem) Metric() string {
	return MetricCosine
}

func (c *Chromem) Len() int {
	return c.collection.Count()
}

func (c *Chromem) Upsert(ctx context.Context, records []domain.EmbeddingRecord) error {
	return c.Replace(ctx, nil, records)
}

func (c *Chromem) Delete(ctx context.Context, chunkIDs []string) error {
	return c.Replace(ctx, chunkIDs, nil)
}

// Replace adds and then deletes stale ids under a write lock, so Search on
// this instance never observes a partial update.
func (c *Chromem) Replace(ctx context.Context, remove []string, records []domain.EmbeddingRecord) error {
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != c.dimension {
			return fmt.Errorf("%w: embedding for %s has dimension %d, index expects %d",
				domain.ErrInvalidConfiguration, rec.ChunkID, len(rec.Vector), c.dimension)
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ChunkID,
			Content:   rec.ChunkID,
			Embedding: append([]float32(nil), rec.Vector...),
			Metadata: map[string]string{
				metaDocID:   rec.DocID,
				metaSection: rec.Section,
				metaClass:   rec.Class,
				metaSeq:     strconv.Itoa(rec.Seq),
			},
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(docs) > 0 {
		if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add embeddings: %w", err)
		}
	}
	if stale := staleIDs(remove, records); len(stale) > 0 {
		if err := c.collection.Delete(ctx, nil, nil, stale...); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
	}
	return nil
}

// Records returns the stored embeddings for ids, skipping unknown ones.
func (c *Chromem) Records(ctx context.Context, ids []string) ([]domain.EmbeddingRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.EmbeddingRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := c.collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		seq, _ := strconv.Atoi(doc.Metadata[metaSeq])
		out = append(out, domain.EmbeddingRecord{
			ChunkID: doc.ID,
			DocID:   doc.Metadata[metaDocID],
			Section: doc.Metadata[metaSection],
			Class:   doc.Metadata[metaClass],
			Seq:     seq,
			Vector:  append([]float32(nil), doc.Embedding...),
		})
	}
	return out, nil
}

// Search queries the collection once per allowed section, since chromem
// where clauses only express equality.
func (c *Chromem) Search(ctx context.Context, query []float32, k int, filters domain.Filters) ([]domain.ScoredID, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfiguration, k)
	}
	if len(query) != c.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d",
			domain.ErrInvalidConfiguration, len(query), c.dimension)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	count := c.collection.Count()
	if count == 0 {
		return []domain.ScoredID{}, nil
	}
	n := min(k, count)

	var wheres []map[string]string
	if len(filters.Sections) == 0 {
		wheres = append(wheres, classWhere(filters.Class, nil))
	}
	for _, section := range filters.Sections {
		wheres = append(wheres, classWhere(filters.Class, map[string]string{metaSection: section}))
	}

	seen := map[string]struct{}{}
	var results []domain.ScoredID
	for _, where := range wheres {
		res, err := c.collection.QueryEmbedding(ctx, append([]float32(nil), query...), n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		for _, r := range res {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			seq, _ := strconv.Atoi(r.Metadata[metaSeq])
			results = append(results, domain.ScoredID{
				ChunkID: r.ID,
				DocID:   r.Metadata[metaDocID],
				Seq:     seq,
				Score:   float64(r.Similarity),
			})
		}
	}

	results = domain.TopK(results, k)
	if results == nil {
		results = []domain.ScoredID{}
	}
	return results, nil
}

func classWhere(class string, where map[string]string) map[string]string {
	if class == "" {
		return where
	}
	if where == nil {
		where = map[string]string{}
	}
	where[metaClass] = class
	return where
}
