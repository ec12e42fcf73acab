package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/adapter/chunker"
	"priorart/internal/adapter/embedding"
	"priorart/internal/adapter/fusion"
	"priorart/internal/adapter/lexical"
	"priorart/internal/adapter/memstore"
	"priorart/internal/adapter/vectorindex"
	"priorart/internal/domain"
	"priorart/internal/port"
)

const testDim = 64

type testStack struct {
	store    *memstore.MemoryStore
	lexical  *lexical.Index
	vector   *vectorindex.Index
	embedder port.Embedder
	ingest   *IngestUseCase
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	tok := analyzer.NewTokenizer()
	ch, err := chunker.NewWindowChunker(4, 1, tok)
	require.NoError(t, err)
	lex, err := lexical.New(lexical.DefaultConfig(), tok)
	require.NoError(t, err)
	st := memstore.NewMemoryStore()
	vec, err := vectorindex.New(vectorindex.DefaultConfig(testDim), st, zerolog.Nop())
	require.NoError(t, err)
	emb := embedding.NewMockEmbedder(testDim)

	s := &testStack{store: st, lexical: lex, vector: vec, embedder: emb}
	s.ingest = NewIngestUseCase(st, ch, lex, vec, emb, nil, IngestOptions{Workers: 3}, zerolog.Nop())
	return s
}

func testOptions() RetrieveOptions {
	return RetrieveOptions{
		CandidateK:    200,
		Alpha:         0.5,
		Fusion:        fusion.MethodZScore,
		SearchTimeout: 2 * time.Second,
		RerankTopN:    200,
		RerankTimeout: time.Second,
	}
}

func (s *testStack) retriever(t *testing.T, reranker port.Reranker) *RetrieveUseCase {
	t.Helper()
	r, err := NewRetrieveUseCase(s.store, s.lexical, s.vector, s.embedder, reranker, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	return r
}

func samplePatents() []domain.Document {
	return []domain.Document{
		{ID: "US1", Title: "Battery cooling", Class: "H01M", Sections: []domain.Section{
			{Name: domain.SectionAbstract, Text: "A liquid cooling plate for lithium battery modules."},
			{Name: domain.SectionClaims, Text: "1. A battery module comprising a cooling plate with serpentine channels."},
		}},
		{ID: "US2", Title: "Solar tracker", Class: "H02S", Sections: []domain.Section{
			{Name: domain.SectionAbstract, Text: "A single axis solar tracker with a slew drive."},
			{Name: domain.SectionClaims, Text: "1. A tracker comprising a torque tube and a slew drive."},
		}},
		{ID: "US3", Title: "Heat pump", Class: "F25B", Sections: []domain.Section{
			{Name: domain.SectionAbstract, Text: "A heat pump using a variable speed compressor."},
			{Name: domain.SectionClaims, Text: "1. A heat pump comprising a compressor and an expansion valve."},
		}},
		{ID: "US4", Title: "Wind blade", Class: "F03D", Sections: []domain.Section{
			{Name: domain.SectionAbstract, Text: "A wind turbine blade with a carbon spar cap."},
			{Name: domain.SectionClaims, Text: "1. A blade comprising a spar cap made of pultruded carbon."},
		}},
		{ID: "US5", Title: "Drone landing", Class: "B64U", Sections: []domain.Section{
			{Name: domain.SectionAbstract, Text: "A landing gear for unmanned aerial vehicles."},
			{Name: domain.SectionClaims, Text: "1. A drone comprising retractable landing legs."},
		}},
	}
}

func (s *testStack) ingestAll(t *testing.T, docs []domain.Document) {
	t.Helper()
	statuses, err := s.ingest.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, statuses, len(docs))
}

type reverseReranker struct{}

func (reverseReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	out := make([]port.RerankedResult, len(texts))
	for i := range texts {
		out[i] = port.RerankedResult{Index: i, Score: float64(i)}
	}
	return out, nil
}

func (reverseReranker) ModelName() string { return "reverse" }

type failingReranker struct{}

func (failingReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	return nil, domain.ErrRerankService
}

func (failingReranker) ModelName() string { return "failing" }

type slowReranker struct{}

func (slowReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowReranker) ModelName() string { return "slow" }

var errBroken = errors.New("broken")

type brokenVector struct {
	port.VectorIndex
}

func (brokenVector) Search(ctx context.Context, q []float32, k int, f domain.Filters) ([]domain.ScoredID, error) {
	return nil, errBroken
}

type brokenLexical struct {
	port.LexicalIndex
}

func (brokenLexical) Search(ctx context.Context, text string, k int, f domain.Filters) ([]domain.ScoredID, error) {
	return nil, errBroken
}

type brokenEmbedder struct {
	port.Embedder
}

func (brokenEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, domain.ErrEmbeddingService
}

type staticRetriever struct {
	passages []domain.Passage
	err      error
}

func (r staticRetriever) Retrieve(ctx context.Context, q domain.Query) ([]domain.Passage, error) {
	return append([]domain.Passage(nil), r.passages...), r.err
}
