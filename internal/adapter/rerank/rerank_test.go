package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/domain"
	"priorart/internal/port"
)

func TestHTTPReranker_Rerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gear backlash", req.Query)
		assert.Equal(t, "bge-reranker", req.Model)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Len(t, req.Documents, 3)

		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 0, RelevanceScore: 0.1},
			{Index: 2, RelevanceScore: 0.9},
			{Index: 1, RelevanceScore: 0.5},
		}})
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, "bge-reranker", "secret", time.Second)
	require.NoError(t, err)

	results, err := r.Rerank(context.Background(), "gear backlash", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, 0, results[2].Index)
	assert.Equal(t, "bge-reranker", r.ModelName())
}

func TestHTTPReranker_ServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, "", "", time.Second)
	require.NoError(t, err)
	_, err = r.Rerank(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrRerankService)

	_, err = NewHTTPReranker("", "", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestHTTPReranker_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL, "", "", 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = r.Rerank(ctx, "q", []string{"a"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTermOverlapReranker(t *testing.T) {
	r := NewTermOverlapReranker(nil)
	results, err := r.Rerank(context.Background(), "planetary gear carrier", []string{
		"a bearing housing",
		"planetary gear set with carrier",
		"sun gear",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, 2, results[1].Index)
	assert.Equal(t, 0, results[2].Index)
	assert.Equal(t, "term-overlap", r.ModelName())
}

type failingReranker struct {
	calls int
}

func (f *failingReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	f.calls++
	return nil, errors.New("model crashed")
}

func (f *failingReranker) ModelName() string { return "failing" }

func TestBreakerReranker_OpensAfterFailures(t *testing.T) {
	inner := &failingReranker{}
	cfg := DefaultBreakerConfig()
	cfg.Timeout = time.Hour
	b := NewBreakerReranker(inner, cfg, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := b.Rerank(context.Background(), "q", []string{"a"})
		assert.Error(t, err)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Rerank(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrRerankService)
	assert.Equal(t, 3, inner.calls, "open breaker must not call through")
}

func TestBreakerReranker_PassesResults(t *testing.T) {
	b := NewBreakerReranker(NewTermOverlapReranker(nil), DefaultBreakerConfig(), zerolog.Nop())
	results, err := b.Rerank(context.Background(), "valve", []string{"pump", "valve"})
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, "term-overlap", b.ModelName())
}

func TestReorder(t *testing.T) {
	candidates := []domain.ScoredID{
		{ChunkID: "a", Score: 3},
		{ChunkID: "b", Score: 2},
		{ChunkID: "c", Score: 1},
		{ChunkID: "d", Score: 0.5},
	}
	results := []port.RerankedResult{
		{Index: 2, Score: 0.9},
		{Index: 0, Score: 0.4},
		{Index: 1, Score: 0.4},
	}

	out, err := Reorder(candidates, results)
	require.NoError(t, err)
	ids := []string{out[0].ChunkID, out[1].ChunkID, out[2].ChunkID, out[3].ChunkID}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0.5, out[3].Score)

	_, err = Reorder(candidates, []port.RerankedResult{{Index: 9}})
	assert.ErrorIs(t, err, domain.ErrRerankService)
}
