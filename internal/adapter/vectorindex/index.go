package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// MetricCosine is the similarity reported by every backend in this package.
const MetricCosine = "cosine"

// Config controls exact versus inverted-file search.
type Config struct {
	Dimension int
	// ExactThreshold is the largest candidate set searched exhaustively.
	ExactThreshold int
	// Lists is the number of IVF clusters; 0 picks sqrt(n).
	Lists int
	// NProbe is how many clusters are scanned per query.
	NProbe int
	// Iterations of k-means when building the IVF structure.
	Iterations int
}

// DefaultConfig returns the defaults for a given embedding dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:      dimension,
		ExactThreshold: 20000,
		NProbe:         8,
		Iterations:     10,
	}
}

func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive, got %d", domain.ErrInvalidConfiguration, c.Dimension)
	}
	if c.ExactThreshold < 0 {
		return fmt.Errorf("%w: exact threshold must be >= 0", domain.ErrInvalidConfiguration)
	}
	if c.NProbe <= 0 {
		return fmt.Errorf("%w: nprobe must be positive, got %d", domain.ErrInvalidConfiguration, c.NProbe)
	}
	if c.Lists < 0 || c.Iterations < 0 {
		return fmt.Errorf("%w: lists and iterations must be >= 0", domain.ErrInvalidConfiguration)
	}
	return nil
}

type item struct {
	id      string
	docID   string
	section string
	class   string
	seq     int
	vec     []float32
}

// snapshot is immutable once published except for its lazily built IVF.
type snapshot struct {
	items []*item
	byID  map[string]*item

	ivfOnce sync.Once
	ivf     *ivf
}

// Index is a cosine-similarity index over unit-normalized embeddings.
// Searches run against an immutable snapshot; writers serialize on a mutex
// and publish a replacement snapshot.
type Index struct {
	cfg    Config
	store  port.EmbeddingStore
	logger zerolog.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty index persisting through store, which may be nil for
// a purely in-memory index.
func New(cfg Config, store port.EmbeddingStore, logger zerolog.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idx := &Index{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
	idx.snap.Store(&snapshot{byID: map[string]*item{}})
	return idx, nil
}

// Metric returns the similarity measure of Search scores.
func (idx *Index) Metric() string {
	return MetricCosine
}

// Len returns the number of indexed embeddings.
func (idx *Index) Len() int {
	return len(idx.snap.Load().items)
}

// Load reads every embedding from the backing store into memory.
func (idx *Index) Load(ctx context.Context) (int, error) {
	if idx.store == nil {
		return 0, nil
	}
	var records []domain.EmbeddingRecord
	err := idx.store.LoadEmbeddings(ctx, func(rec domain.EmbeddingRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load embeddings: %w", err)
	}
	if err := idx.checkDims(records); err != nil {
		return 0, err
	}
	idx.apply(nil, records)
	return len(records), nil
}

// Upsert adds or replaces embeddings.
func (idx *Index) Upsert(ctx context.Context, records []domain.EmbeddingRecord) error {
	return idx.Replace(ctx, nil, records)
}

// Delete removes embeddings by chunk id.
func (idx *Index) Delete(ctx context.Context, chunkIDs []string) error {
	return idx.Replace(ctx, chunkIDs, nil)
}

// Replace removes chunkIDs and upserts records, persisting first and then
// publishing both changes in one snapshot.
func (idx *Index) Replace(ctx context.Context, remove []string, records []domain.EmbeddingRecord) error {
	if err := idx.checkDims(records); err != nil {
		return err
	}
	if len(remove) == 0 && len(records) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.store != nil {
		// Put before delete: a failed put leaves the store untouched, and
		// ids being rewritten must not be deleted afterwards.
		if len(records) > 0 {
			if err := idx.store.PutEmbeddings(ctx, records); err != nil {
				return fmt.Errorf("put embeddings: %w", err)
			}
		}
		if stale := staleIDs(remove, records); len(stale) > 0 {
			if err := idx.store.DeleteEmbeddings(ctx, stale); err != nil {
				return fmt.Errorf("delete embeddings: %w", err)
			}
		}
	}
	idx.publish(remove, records)
	return nil
}

// Records returns the indexed embeddings for ids, skipping unknown ones.
// Vectors come back unit-normalized.
func (idx *Index) Records(ctx context.Context, ids []string) ([]domain.EmbeddingRecord, error) {
	snap := idx.snap.Load()
	out := make([]domain.EmbeddingRecord, 0, len(ids))
	for _, id := range ids {
		it, ok := snap.byID[id]
		if !ok {
			continue
		}
		out = append(out, domain.EmbeddingRecord{
			ChunkID: it.id,
			DocID:   it.docID,
			Section: it.section,
			Class:   it.class,
			Seq:     it.seq,
			Vector:  append([]float32(nil), it.vec...),
		})
	}
	return out, nil
}

// staleIDs are the ids in remove that records does not rewrite.
func staleIDs(remove []string, records []domain.EmbeddingRecord) []string {
	if len(records) == 0 {
		return remove
	}
	kept := make(map[string]struct{}, len(records))
	for _, rec := range records {
		kept[rec.ChunkID] = struct{}{}
	}
	var stale []string
	for _, id := range remove {
		if _, ok := kept[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func (idx *Index) apply(remove []string, records []domain.EmbeddingRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.publish(remove, records)
}

// publish must be called with mu held.
func (idx *Index) publish(remove []string, records []domain.EmbeddingRecord) {
	cur := idx.snap.Load()
	byID := make(map[string]*item, len(cur.byID)+len(records))
	for id, it := range cur.byID {
		byID[id] = it
	}
	for _, id := range remove {
		delete(byID, id)
	}
	for _, rec := range records {
		byID[rec.ChunkID] = &item{
			id:      rec.ChunkID,
			docID:   rec.DocID,
			section: rec.Section,
			class:   rec.Class,
			seq:     rec.Seq,
			vec:     normalize(rec.Vector),
		}
	}

	items := make([]*item, 0, len(byID))
	for _, it := range byID {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	idx.snap.Store(&snapshot{items: items, byID: byID})
}

func (idx *Index) checkDims(records []domain.EmbeddingRecord) error {
	for _, rec := range records {
		if len(rec.Vector) != idx.cfg.Dimension {
			return fmt.Errorf("%w: embedding for %s has dimension %d, index expects %d",
				domain.ErrInvalidConfiguration, rec.ChunkID, len(rec.Vector), idx.cfg.Dimension)
		}
	}
	return nil
}

// Search returns the k most cosine-similar chunks passing filters. Candidate
// sets no larger than ExactThreshold are scored exhaustively; larger ones go
// through the IVF lists and are re-scored exactly.
func (idx *Index) Search(ctx context.Context, query []float32, k int, filters domain.Filters) ([]domain.ScoredID, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfiguration, k)
	}
	if len(query) != idx.cfg.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d",
			domain.ErrInvalidConfiguration, len(query), idx.cfg.Dimension)
	}

	snap := idx.snap.Load()
	if len(snap.items) == 0 {
		return []domain.ScoredID{}, nil
	}
	q := normalize(query)

	candidates := snap.items
	if !filters.IsEmpty() {
		candidates = make([]*item, 0, len(snap.items))
		for _, it := range snap.items {
			if filters.Match(it.section, it.class) {
				candidates = append(candidates, it)
			}
		}
	}

	if len(candidates) > idx.cfg.ExactThreshold {
		candidates = idx.probe(snap, q, k, filters)
	}

	results := make([]domain.ScoredID, 0, len(candidates))
	for i, it := range candidates {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results = append(results, domain.ScoredID{
			ChunkID: it.id,
			DocID:   it.docID,
			Seq:     it.seq,
			Score:   dot(q, it.vec),
		})
	}
	return domain.TopK(results, k), nil
}

func (idx *Index) probe(snap *snapshot, q []float32, k int, filters domain.Filters) []*item {
	snap.ivfOnce.Do(func() {
		start := time.Now()
		snap.ivf = buildIVF(snap.items, idx.cfg.Lists, idx.cfg.Iterations)
		idx.logger.Debug().
			Int("vectors", len(snap.items)).
			Int("lists", len(snap.ivf.centroids)).
			Dur("took", time.Since(start)).
			Msg("built ivf lists")
	})
	return snap.ivf.candidates(q, idx.cfg.NProbe, k, filters)
}
