package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/domain"
)

func TestRetrieve_EmptyIndex(t *testing.T) {
	s := newTestStack(t)
	got, err := s.retriever(t, nil).Retrieve(context.Background(), domain.Query{Text: "battery", K: 5})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieve_InvalidQuery(t *testing.T) {
	s := newTestStack(t)
	r := s.retriever(t, nil)
	for _, q := range []domain.Query{
		{Text: "battery", K: 0},
		{Text: "battery", K: MaxK + 1},
		{Text: "   ", K: 5},
	} {
		_, err := r.Retrieve(context.Background(), q)
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "query %+v", q)
	}
}

func TestNewRetrieveUseCase_RejectsBadAlpha(t *testing.T) {
	s := newTestStack(t)
	opts := testOptions()
	opts.Alpha = 1.5
	_, err := NewRetrieveUseCase(s.store, s.lexical, s.vector, s.embedder, nil, opts, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRetrieve_RanksMatchingDocumentFirst(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())

	got, err := s.retriever(t, nil).Retrieve(context.Background(), domain.Query{
		Text: "battery module cooling plate serpentine channels",
		K:    5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "US1", got[0].DocumentID)
	assert.Equal(t, "Battery cooling", got[0].Title)
	assert.Equal(t, "battery module cooling plate serpentine channels", got[0].Query)
}

func TestRetrieve_PassagesResolveToSectionText(t *testing.T) {
	s := newTestStack(t)
	docs := samplePatents()
	s.ingestAll(t, docs)

	got, err := s.retriever(t, nil).Retrieve(context.Background(), domain.Query{Text: "comprising drive blade", K: MaxK})
	require.NoError(t, err)

	byID := make(map[string]domain.Document)
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, p := range got {
		text, ok := byID[p.DocumentID].SectionText(p.Section)
		require.True(t, ok)
		runes := []rune(text)
		require.LessOrEqual(t, p.End, len(runes))
		assert.Equal(t, string(runes[p.Start:p.End]), p.Text)
	}
}

func TestRetrieve_BoundedOutputAndNoDuplicates(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	r := s.retriever(t, nil)

	got, err := r.Retrieve(context.Background(), domain.Query{Text: "comprising carbon drone", K: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// The vector side returns every chunk, so a large k gets the whole corpus.
	all, err := r.Retrieve(context.Background(), domain.Query{Text: "comprising carbon drone", K: MaxK})
	require.NoError(t, err)
	assert.Len(t, all, s.lexical.Len())

	type triple struct {
		doc, section string
		start, end   int
	}
	seen := make(map[triple]bool)
	for _, p := range all {
		key := triple{p.DocumentID, p.Section, p.Start, p.End}
		assert.False(t, seen[key], "duplicate passage %+v", key)
		seen[key] = true
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	r := s.retriever(t, nil)
	q := domain.Query{Text: "heat pump compressor valve", K: 10}

	first, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_Filters(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	r := s.retriever(t, nil)

	got, err := r.Retrieve(context.Background(), domain.Query{
		Text:    "drive blade pump",
		K:       MaxK,
		Filters: domain.Filters{Sections: []string{domain.SectionClaims}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, p := range got {
		assert.Equal(t, domain.SectionClaims, p.Section)
	}

	got, err = r.Retrieve(context.Background(), domain.Query{
		Text:    "solar tracker",
		K:       MaxK,
		Filters: domain.Filters{Class: "H02S"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, p := range got {
		assert.Equal(t, "US2", p.DocumentID)
	}
}

func TestRetrieve_RerankReorders(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	q := domain.Query{Text: "slew drive tracker", K: MaxK}

	base, err := s.retriever(t, nil).Retrieve(context.Background(), q)
	require.NoError(t, err)
	reranked, err := s.retriever(t, reverseReranker{}).Retrieve(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, reranked, len(base))
	for i := range base {
		want := base[len(base)-1-i]
		assert.Equal(t, want.DocumentID, reranked[i].DocumentID)
		assert.Equal(t, want.Start, reranked[i].Start)
		assert.Equal(t, want.Section, reranked[i].Section)
	}
}

func TestRetrieve_RerankWindowCoversK(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	ctx := context.Background()
	q := domain.Query{Text: "blade cooling compressor drive", K: 6}

	base, err := s.retriever(t, nil).Retrieve(ctx, q)
	require.NoError(t, err)
	require.Len(t, base, 6)

	opts := testOptions()
	opts.RerankTopN = 2
	r, err := NewRetrieveUseCase(s.store, s.lexical, s.vector, s.embedder, reverseReranker{}, opts, zerolog.Nop())
	require.NoError(t, err)
	got, err := r.Retrieve(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 6)

	for i := range got {
		assert.Equal(t, base[len(base)-1-i].DocumentID, got[i].DocumentID)
		assert.Equal(t, base[len(base)-1-i].Start, got[i].Start)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score, "scores must not increase at %d", i)
		}
	}
}

func TestRetrieve_RerankFailureFallsBackToFusedOrder(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	q := domain.Query{Text: "wind turbine blade spar", K: 6}

	base, err := s.retriever(t, nil).Retrieve(context.Background(), q)
	require.NoError(t, err)

	failed, err := s.retriever(t, failingReranker{}).Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, base, failed)

	opts := testOptions()
	opts.RerankTimeout = 20 * time.Millisecond
	slow, err := NewRetrieveUseCase(s.store, s.lexical, s.vector, s.embedder, slowReranker{}, opts, zerolog.Nop())
	require.NoError(t, err)
	timedOut, err := slow.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, base, timedOut)
}

func TestRetrieve_DegradesToSingleIndex(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	q := domain.Query{Text: "landing gear drone", K: 5}

	lexicalOnly, err := NewRetrieveUseCase(s.store, s.lexical, nil, nil, nil, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	want, err := lexicalOnly.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, want)

	brokenVec, err := NewRetrieveUseCase(s.store, s.lexical, brokenVector{s.vector}, s.embedder, nil, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	got, err := brokenVec.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	brokenEmb, err := NewRetrieveUseCase(s.store, s.lexical, s.vector, brokenEmbedder{s.embedder}, nil, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	got, err = brokenEmb.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	vectorOnly, err := NewRetrieveUseCase(s.store, brokenLexical{s.lexical}, s.vector, s.embedder, nil, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	got, err = vectorOnly.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	bothBroken, err := NewRetrieveUseCase(s.store, brokenLexical{s.lexical}, brokenVector{s.vector}, s.embedder, nil, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	_, err = bothBroken.Retrieve(context.Background(), q)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, "index_unavailable", domain.Classify(err))
}

func TestRetrieve_ConcurrentQueriesDuringIngest(t *testing.T) {
	s := newTestStack(t)
	docs := samplePatents()
	s.ingestAll(t, docs[:2])
	r := s.retriever(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				got, err := r.Retrieve(context.Background(), domain.Query{Text: "comprising", K: 10})
				assert.NoError(t, err)
				for _, p := range got {
					assert.NotEmpty(t, strings.TrimSpace(p.Text))
				}
			}
		}()
	}
	_, err := s.ingest.Ingest(context.Background(), docs[2:])
	require.NoError(t, err)
	wg.Wait()
}

func TestRetrieve_CancelledContext(t *testing.T) {
	s := newTestStack(t)
	s.ingestAll(t, samplePatents())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.retriever(t, nil).Retrieve(ctx, domain.Query{Text: "battery", K: 3})
	assert.ErrorIs(t, err, context.Canceled)
}
