package lexical

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/domain"
	"priorart/internal/port"
)

// Config holds BM25 parameters and the shard count.
type Config struct {
	K1     float64
	B      float64
	Shards int
}

// DefaultConfig returns the standard BM25 parameters over four shards.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75, Shards: 4}
}

// Validate rejects parameters BM25 cannot use.
func (c Config) Validate() error {
	if c.K1 < 0 {
		return fmt.Errorf("%w: bm25 k1 must be >= 0, got %v", domain.ErrInvalidConfiguration, c.K1)
	}
	if c.B < 0 || c.B > 1 {
		return fmt.Errorf("%w: bm25 b must be in [0,1], got %v", domain.ErrInvalidConfiguration, c.B)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("%w: shards must be positive, got %d", domain.ErrInvalidConfiguration, c.Shards)
	}
	return nil
}

type entry struct {
	docID   string
	section string
	class   string
	seq     int
	length  int
	tf      map[string]int
}

type posting struct {
	chunkID string
	tf      int
}

// snapshot is never mutated after it is published.
type snapshot struct {
	entries  map[string]*entry
	postings map[string][]posting
	totalLen int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		entries:  map[string]*entry{},
		postings: map[string][]posting{},
	}
}

type shard struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// Index is a BM25 inverted index split into shards. Documents hash to a
// shard; writers lock only their shard and publish a new snapshot, readers
// never lock.
type Index struct {
	cfg       Config
	tokenizer port.Tokenizer
	shards    []*shard
}

// New creates an empty index.
func New(cfg Config, tokenizer port.Tokenizer) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer()
	}
	idx := &Index{
		cfg:       cfg,
		tokenizer: tokenizer,
		shards:    make([]*shard, cfg.Shards),
	}
	for i := range idx.shards {
		s := &shard{}
		s.snap.Store(emptySnapshot())
		idx.shards[i] = s
	}
	return idx, nil
}

func (idx *Index) shardFor(docID string) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % uint32(len(idx.shards)))
}

// Index inserts chunks. A chunk id already present is replaced.
func (idx *Index) Index(chunks []domain.Chunk) error {
	return idx.Replace(nil, chunks)
}

// Delete removes chunks by id. Unknown ids are ignored.
func (idx *Index) Delete(chunkIDs []string) error {
	return idx.Replace(chunkIDs, nil)
}

// Replace removes the given ids and inserts chunks. Each shard switches to
// its new state in a single step, so a reader sees a document either wholly
// before or wholly after the change.
func (idx *Index) Replace(remove []string, add []domain.Chunk) error {
	drop := make(map[string]struct{}, len(remove)+len(add))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	adds := make([][]domain.Chunk, len(idx.shards))
	for _, ch := range add {
		if ch.ID == "" {
			return fmt.Errorf("%w: chunk without id", domain.ErrInvalidDocument)
		}
		drop[ch.ID] = struct{}{}
		i := idx.shardFor(ch.DocID)
		adds[i] = append(adds[i], ch)
	}
	if len(drop) == 0 {
		return nil
	}

	for i, s := range idx.shards {
		idx.applyShard(s, drop, adds[i])
	}
	return nil
}

func (idx *Index) applyShard(s *shard, drop map[string]struct{}, add []domain.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	var present []string
	for id := range drop {
		if _, ok := cur.entries[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 && len(add) == 0 {
		return
	}

	next := &snapshot{
		entries:  make(map[string]*entry, len(cur.entries)+len(add)),
		postings: make(map[string][]posting, len(cur.postings)),
		totalLen: cur.totalLen,
	}
	for id, e := range cur.entries {
		next.entries[id] = e
	}
	for term, list := range cur.postings {
		next.postings[term] = list
	}

	// Posting lists are shared with older snapshots, so touched lists are
	// rebuilt rather than edited.
	touched := map[string]struct{}{}
	for _, id := range present {
		e := next.entries[id]
		for term := range e.tf {
			touched[term] = struct{}{}
		}
		next.totalLen -= e.length
		delete(next.entries, id)
	}
	for term := range touched {
		old := next.postings[term]
		kept := make([]posting, 0, len(old))
		for _, p := range old {
			if _, gone := drop[p.chunkID]; !gone {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(next.postings, term)
		} else {
			next.postings[term] = kept
		}
	}

	for _, ch := range add {
		terms := ch.Terms
		if terms == nil {
			terms = idx.tokenizer.Tokenize(ch.Text)
		}
		e := &entry{
			docID:   ch.DocID,
			section: ch.Section,
			class:   ch.Class,
			seq:     ch.Seq,
			length:  len(terms),
			tf:      analyzer.TermFrequencies(terms),
		}
		if prev, ok := next.entries[ch.ID]; ok {
			// duplicate id within the same batch
			next.totalLen -= prev.length
			for term := range prev.tf {
				next.postings[term] = withoutChunk(next.postings[term], ch.ID)
			}
		}
		next.entries[ch.ID] = e
		next.totalLen += e.length
		for term, tf := range e.tf {
			old := next.postings[term]
			list := make([]posting, len(old), len(old)+1)
			copy(list, old)
			next.postings[term] = append(list, posting{chunkID: ch.ID, tf: tf})
		}
	}

	s.snap.Store(next)
}

func withoutChunk(list []posting, chunkID string) []posting {
	out := make([]posting, 0, len(list))
	for _, p := range list {
		if p.chunkID != chunkID {
			out = append(out, p)
		}
	}
	return out
}

// Search scores chunks passing filters against text and returns the top k.
// Corpus statistics are global; filters only exclude candidates.
func (idx *Index) Search(ctx context.Context, text string, k int, filters domain.Filters) ([]domain.ScoredID, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfiguration, k)
	}

	snaps := idx.snapshots()
	var totalChunks, totalLen int
	for _, snap := range snaps {
		totalChunks += len(snap.entries)
		totalLen += snap.totalLen
	}
	if totalChunks == 0 {
		return []domain.ScoredID{}, nil
	}

	terms := uniqueTerms(idx.tokenizer.Tokenize(text))
	if len(terms) == 0 {
		return []domain.ScoredID{}, nil
	}

	N := float64(totalChunks)
	avgDl := float64(totalLen) / N
	if avgDl == 0 {
		avgDl = 1
	}

	idf := make(map[string]float64, len(terms))
	for _, term := range terms {
		n := 0
		for _, snap := range snaps {
			n += len(snap.postings[term])
		}
		if n > 0 {
			idf[term] = math.Log((N-float64(n)+0.5)/(float64(n)+0.5) + 1)
		}
	}

	k1, b := idx.cfg.K1, idx.cfg.B
	var results []domain.ScoredID
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores := make(map[string]float64)
		for _, term := range terms {
			w, ok := idf[term]
			if !ok {
				continue
			}
			for _, p := range snap.postings[term] {
				e := snap.entries[p.chunkID]
				if !filters.Match(e.section, e.class) {
					continue
				}
				tf := float64(p.tf)
				dl := float64(e.length)
				scores[p.chunkID] += w * (tf * (k1 + 1)) / (tf + k1*(1-b+b*dl/avgDl))
			}
		}
		for id, score := range scores {
			e := snap.entries[id]
			results = append(results, domain.ScoredID{
				ChunkID: id,
				DocID:   e.docID,
				Seq:     e.seq,
				Score:   score,
			})
		}
	}

	results = domain.TopK(results, k)
	if results == nil {
		results = []domain.ScoredID{}
	}
	return results, nil
}

func (idx *Index) snapshots() []*snapshot {
	snaps := make([]*snapshot, len(idx.shards))
	for i, s := range idx.shards {
		snaps[i] = s.snap.Load()
	}
	return snaps
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	n := 0
	for _, snap := range idx.snapshots() {
		n += len(snap.entries)
	}
	return n
}

// Stats describes the current index contents.
type Stats struct {
	Chunks      int
	Terms       int
	AvgChunkLen float64
	ShardSizes  []int
}

// Stats returns corpus statistics. Terms counts distinct terms per shard
// summed, so a term present in two shards counts twice.
func (idx *Index) Stats() Stats {
	var st Stats
	totalLen := 0
	for _, snap := range idx.snapshots() {
		st.Chunks += len(snap.entries)
		st.Terms += len(snap.postings)
		st.ShardSizes = append(st.ShardSizes, len(snap.entries))
		totalLen += snap.totalLen
	}
	if st.Chunks > 0 {
		st.AvgChunkLen = float64(totalLen) / float64(st.Chunks)
	}
	return st
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
