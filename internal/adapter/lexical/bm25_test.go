package lexical

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/domain"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(DefaultConfig(), analyzer.NewTokenizer())
	require.NoError(t, err)
	return idx
}

func chunk(id, docID, section string, seq int, text string) domain.Chunk {
	return domain.Chunk{ID: id, DocID: docID, Section: section, Seq: seq, Text: text}
}

func ids(results []domain.ScoredID) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ChunkID)
	}
	return out
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := newIndex(t)

	results, err := idx.Search(context.Background(), "turbine blade", 10, domain.Filters{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_RanksByBM25(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Index([]domain.Chunk{
		chunk("c1", "doc1", "abstract", 0, "A turbine blade with internal cooling channels"),
		chunk("c2", "doc2", "abstract", 0, "Battery electrode with lithium coating"),
		chunk("c3", "doc3", "claims", 0, "Cooling channels cooling fins and cooling air in a turbine"),
	}))

	results, err := idx.Search(context.Background(), "cooling turbine", 10, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"c3", "c1"}, ids(results))
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "doc3", results[0].DocID)
}

func TestSearch_FiltersBeforeScoring(t *testing.T) {
	idx := newIndex(t)
	var chunks []domain.Chunk
	for i := 0; i < 20; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("d%02d", i), "doc-desc", "description", i, "rotor rotor rotor shaft"))
	}
	chunks = append(chunks,
		chunk("c1", "doc-claims", "claims", 0, "a rotor"),
		chunk("c2", "doc-claims", "claims", 1, "a rotor assembly"),
	)
	require.NoError(t, idx.Index(chunks))

	results, err := idx.Search(context.Background(), "rotor", 2, domain.Filters{Sections: []string{"claims"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(results))
}

func TestSearch_ClassFilter(t *testing.T) {
	idx := newIndex(t)
	a := chunk("a", "doc1", "claims", 0, "semiconductor wafer")
	a.Class = "H01L"
	b := chunk("b", "doc2", "claims", 0, "semiconductor wafer")
	b.Class = "F01D"
	require.NoError(t, idx.Index([]domain.Chunk{a, b}))

	results, err := idx.Search(context.Background(), "wafer", 5, domain.Filters{Class: "F01D"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(results))
}

func TestSearch_TieBreakBySeqThenDoc(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Index([]domain.Chunk{
		chunk("x3", "docB", "claims", 0, "gear train"),
		chunk("x2", "docA", "claims", 1, "gear train"),
		chunk("x1", "docA", "claims", 0, "gear train"),
	}))

	results, err := idx.Search(context.Background(), "gear", 3, domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x3", "x2"}, ids(results))
}

func TestIndex_ReplaceSameID(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Index([]domain.Chunk{chunk("c1", "doc1", "claims", 0, "hydraulic pump")}))
	require.NoError(t, idx.Index([]domain.Chunk{chunk("c1", "doc1", "claims", 0, "electric motor")}))

	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search(context.Background(), "pump", 5, domain.Filters{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "motor", 5, domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(results))
}

func TestIndex_Delete(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Index([]domain.Chunk{
		chunk("c1", "doc1", "claims", 0, "valve seat"),
		chunk("c2", "doc2", "claims", 0, "valve stem"),
	}))
	require.NoError(t, idx.Delete([]string{"c1", "missing"}))

	results, err := idx.Search(context.Background(), "valve", 5, domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids(results))
	assert.Equal(t, 1, idx.Stats().Chunks)
}

func TestSearch_InvalidK(t *testing.T) {
	idx := newIndex(t)
	_, err := idx.Search(context.Background(), "valve", 0, domain.Filters{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{K1: 1.2, B: 1.5, Shards: 1}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = New(Config{K1: 1.2, B: 0.75, Shards: 0}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSearch_StatsAreGlobalAcrossShards(t *testing.T) {
	one, err := New(Config{K1: 1.2, B: 0.75, Shards: 1}, nil)
	require.NoError(t, err)
	many, err := New(Config{K1: 1.2, B: 0.75, Shards: 8}, nil)
	require.NoError(t, err)

	var chunks []domain.Chunk
	for i := 0; i < 30; i++ {
		text := "compressor stage"
		if i%3 == 0 {
			text = "compressor blade tip clearance"
		}
		chunks = append(chunks, chunk(fmt.Sprintf("c%02d", i), fmt.Sprintf("doc%d", i), "claims", 0, text))
	}
	require.NoError(t, one.Index(chunks))
	require.NoError(t, many.Index(chunks))

	a, err := one.Search(context.Background(), "blade compressor", 30, domain.Filters{})
	require.NoError(t, err)
	b, err := many.Search(context.Background(), "blade compressor", 30, domain.Filters{})
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ChunkID, b[i].ChunkID)
		assert.InDelta(t, a[i].Score, b[i].Score, 1e-9)
	}
}

func TestSearch_ConcurrentWithWrites(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Index([]domain.Chunk{chunk("base", "doc0", "claims", 0, "piston ring")}))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				doc := fmt.Sprintf("doc-%d-%d", w, i)
				assert.NoError(t, idx.Index([]domain.Chunk{chunk(doc+"-c", doc, "claims", 0, "piston ring groove")}))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				results, err := idx.Search(context.Background(), "piston", 5, domain.Filters{})
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 201, idx.Len())
}

type sliceSource []domain.Chunk

func (s sliceSource) AllChunks(ctx context.Context, fn func(domain.Chunk) error) error {
	for _, ch := range s {
		if err := fn(ch); err != nil {
			return err
		}
	}
	return nil
}

func TestWarm(t *testing.T) {
	idx := newIndex(t)
	var src sliceSource
	for i := 0; i < 2500; i++ {
		src = append(src, chunk(fmt.Sprintf("c%d", i), fmt.Sprintf("doc%d", i%40), "description", i, "heat exchanger"))
	}

	n, err := idx.Warm(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	assert.Equal(t, 2500, idx.Len())
}
