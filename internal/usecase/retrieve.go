package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"priorart/config"
	"priorart/internal/adapter/fusion"
	"priorart/internal/adapter/rerank"
	"priorart/internal/domain"
	"priorart/internal/port"
)

// MaxK is the largest number of passages a single query may ask for.
const MaxK = 100

// RetrieveOptions tunes the retrieval pipeline.
type RetrieveOptions struct {
	CandidateK    int           // per-index candidate budget
	Alpha         float64       // lexical weight in fusion
	Fusion        fusion.Method // zscore or rrf
	SearchTimeout time.Duration // bound on both index searches, query embedding included
	RerankTopN    int           // fused candidates sent to the reranker, raised to the query's k
	RerankTimeout time.Duration
}

// RetrieveOptionsFromConfig extracts retrieval options from cfg.
func RetrieveOptionsFromConfig(cfg *config.Config) RetrieveOptions {
	return RetrieveOptions{
		CandidateK:    cfg.Retrieve.CandidateK,
		Alpha:         cfg.Retrieve.Alpha,
		Fusion:        fusion.Method(cfg.Retrieve.Fusion),
		SearchTimeout: cfg.Retrieve.SearchTimeout,
		RerankTopN:    cfg.Rerank.TopN,
		RerankTimeout: cfg.Rerank.Timeout,
	}
}

func (o RetrieveOptions) validate() error {
	if err := fusion.ValidateAlpha(o.Alpha); err != nil {
		return err
	}
	if o.CandidateK <= 0 {
		return fmt.Errorf("%w: candidate budget must be positive, got %d", domain.ErrInvalidConfiguration, o.CandidateK)
	}
	if o.SearchTimeout <= 0 {
		return fmt.Errorf("%w: search timeout must be positive", domain.ErrInvalidConfiguration)
	}
	switch o.Fusion {
	case fusion.MethodZScore, fusion.MethodRRF, "":
	default:
		return fmt.Errorf("%w: unknown fusion method %q", domain.ErrInvalidConfiguration, o.Fusion)
	}
	return nil
}

// RetrieveUseCase answers queries by fusing lexical and vector search.
type RetrieveUseCase struct {
	store    port.DocumentStore
	lexical  port.LexicalIndex
	vector   port.VectorIndex // nil disables vector search
	embedder port.Embedder
	reranker port.Reranker // nil disables reranking
	opts     RetrieveOptions
	logger   zerolog.Logger
}

var _ port.Retriever = (*RetrieveUseCase)(nil)

// NewRetrieveUseCase creates a new retrieve use case. vector, embedder and
// reranker may be nil.
func NewRetrieveUseCase(
	store port.DocumentStore,
	lexical port.LexicalIndex,
	vector port.VectorIndex,
	embedder port.Embedder,
	reranker port.Reranker,
	opts RetrieveOptions,
	logger zerolog.Logger,
) (*RetrieveUseCase, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if reranker != nil && opts.RerankTimeout <= 0 {
		return nil, fmt.Errorf("%w: rerank timeout must be positive", domain.ErrInvalidConfiguration)
	}
	if vector == nil || embedder == nil {
		vector, embedder = nil, nil
	}
	return &RetrieveUseCase{
		store:    store,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		reranker: reranker,
		opts:     opts,
		logger:   logger,
	}, nil
}

// ValidateQuery rejects empty text and k outside [1, MaxK].
func ValidateQuery(q domain.Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query text is empty", domain.ErrInvalidConfiguration)
	}
	if q.K < 1 || q.K > MaxK {
		return fmt.Errorf("%w: k must be in [1,%d], got %d", domain.ErrInvalidConfiguration, MaxK, q.K)
	}
	return nil
}

// Retrieve returns at most q.K passages, best first.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, q domain.Query) ([]domain.Passage, error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	if u.lexical == nil {
		return nil, fmt.Errorf("%w: lexical index not built", domain.ErrIndexUnavailable)
	}

	start := time.Now()
	candidateK := max(u.opts.CandidateK, q.K)

	lexical, vector, err := u.search(ctx, q, candidateK)
	if err != nil {
		return nil, err
	}

	alpha := u.opts.Alpha
	switch {
	case vector == nil:
		alpha = 1
	case lexical == nil:
		alpha = 0
	}
	fused, err := fusion.Combine(u.opts.Fusion, lexical, vector, alpha)
	if err != nil {
		return nil, err
	}

	r := newResolver(u.store)
	var ordered []domain.ScoredID
	if u.reranker != nil && len(fused) > 0 {
		ordered, err = u.rerank(ctx, q.Text, q.K, fused, r)
		if err != nil {
			return nil, err
		}
	} else {
		ordered = fused
	}

	passages, err := u.collect(ctx, q, ordered, r)
	if err != nil {
		return nil, err
	}

	u.logger.Debug().
		Str("query", q.Text).
		Int("lexical", len(lexical)).
		Int("vector", len(vector)).
		Int("fused", len(fused)).
		Int("returned", len(passages)).
		Dur("took", time.Since(start)).
		Msg("retrieved")
	return passages, nil
}

// search runs both indexes concurrently. A nil slice marks a side that was
// disabled or failed; an empty slice is a successful search with no hits.
func (u *RetrieveUseCase) search(ctx context.Context, q domain.Query, k int) ([]domain.ScoredID, []domain.ScoredID, error) {
	searchCtx, cancel := context.WithTimeout(ctx, u.opts.SearchTimeout)
	defer cancel()

	var (
		lexical, vector []domain.ScoredID
		lexErr, vecErr  error
		g               errgroup.Group
	)

	g.Go(func() error {
		lexical, lexErr = u.lexical.Search(searchCtx, q.Text, k, q.Filters)
		if lexErr == nil && lexical == nil {
			lexical = []domain.ScoredID{}
		}
		return nil
	})

	if u.vector != nil {
		g.Go(func() error {
			embeddings, err := u.embedder.Embed(searchCtx, []string{q.Text})
			if err != nil {
				vecErr = fmt.Errorf("embedding query: %w", err)
				return nil
			}
			if len(embeddings) != 1 {
				vecErr = fmt.Errorf("%w: got %d query embeddings", domain.ErrEmbeddingService, len(embeddings))
				return nil
			}
			vector, vecErr = u.vector.Search(searchCtx, embeddings[0], k, q.Filters)
			if vecErr == nil && vector == nil {
				vector = []domain.ScoredID{}
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if errors.Is(lexErr, domain.ErrInvalidConfiguration) {
		return nil, nil, lexErr
	}

	switch {
	case lexErr != nil && (u.vector == nil || vecErr != nil):
		return nil, nil, fmt.Errorf("%w: lexical: %v; vector: %v", domain.ErrIndexUnavailable, lexErr, vecErr)
	case lexErr != nil:
		u.logger.Warn().Err(lexErr).Str("kind", domain.Classify(lexErr)).Msg("lexical search failed, using vector results only")
		lexical = nil
	case vecErr != nil:
		u.logger.Warn().Err(vecErr).Str("kind", domain.Classify(vecErr)).Msg("vector search failed, using lexical results only")
		vector = nil
	}
	return lexical, vector, nil
}

// rerank scores the top fused candidates and returns them in reranked order
// followed by the remaining fused candidates. Any reranker failure falls back
// to the fused order.
func (u *RetrieveUseCase) rerank(ctx context.Context, query string, k int, fused []domain.ScoredID, r *resolver) ([]domain.ScoredID, error) {
	// The window always covers k so no returned passage keeps a fused score.
	n := max(u.opts.RerankTopN, k)
	if u.opts.RerankTopN <= 0 || n > len(fused) {
		n = len(fused)
	}

	head := make([]domain.ScoredID, 0, n)
	texts := make([]string, 0, n)
	for _, c := range fused[:n] {
		chunk, ok, err := r.chunk(ctx, c.ChunkID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		head = append(head, c)
		texts = append(texts, chunk.Text)
	}
	if len(head) == 0 {
		return fused, nil
	}

	rctx, cancel := context.WithTimeout(ctx, u.opts.RerankTimeout)
	defer cancel()

	results, err := u.reranker.Rerank(rctx, query, texts)
	if err == nil {
		var reordered []domain.ScoredID
		reordered, err = rerank.Reorder(head, results)
		if err == nil {
			return append(reordered, fused[n:]...), nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	u.logger.Warn().
		Err(err).
		Str("kind", domain.Classify(err)).
		Str("model", u.reranker.ModelName()).
		Msg("rerank failed, keeping fused order")
	return fused, nil
}

type citation struct {
	docID   string
	section string
	start   int
	end     int
}

// collect resolves ordered ids into passages until k distinct citations are
// gathered.
func (u *RetrieveUseCase) collect(ctx context.Context, q domain.Query, ordered []domain.ScoredID, r *resolver) ([]domain.Passage, error) {
	seenIDs := make(map[string]struct{}, q.K)
	seenSpans := make(map[citation]struct{}, q.K)
	passages := make([]domain.Passage, 0, min(q.K, len(ordered)))

	for _, c := range ordered {
		if len(passages) == q.K {
			break
		}
		if _, dup := seenIDs[c.ChunkID]; dup {
			continue
		}
		seenIDs[c.ChunkID] = struct{}{}

		chunk, ok, err := r.chunk(ctx, c.ChunkID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		key := citation{chunk.DocID, chunk.Section, chunk.Start, chunk.End}
		if _, dup := seenSpans[key]; dup {
			continue
		}
		seenSpans[key] = struct{}{}

		passages = append(passages, domain.Passage{
			DocumentID: chunk.DocID,
			Title:      r.title(ctx, chunk.DocID),
			Section:    chunk.Section,
			Text:       chunk.Text,
			Start:      chunk.Start,
			End:        chunk.End,
			Score:      c.Score,
			Query:      q.Text,
		})
	}
	return passages, nil
}

// resolver memoizes store lookups for one query.
type resolver struct {
	store  port.DocumentStore
	chunks map[string]domain.Chunk
	titles map[string]string
}

func newResolver(store port.DocumentStore) *resolver {
	return &resolver{
		store:  store,
		chunks: make(map[string]domain.Chunk),
		titles: make(map[string]string),
	}
}

// chunk returns ok=false for ids no longer in the store, which happens when a
// document is replaced between search and resolution.
func (r *resolver) chunk(ctx context.Context, id string) (domain.Chunk, bool, error) {
	if c, ok := r.chunks[id]; ok {
		return c, true, nil
	}
	c, err := r.store.GetChunk(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Chunk{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Chunk{}, false, ctx.Err()
		}
		return domain.Chunk{}, false, fmt.Errorf("%w: resolving chunk %s: %v", domain.ErrIndexUnavailable, id, err)
	}
	r.chunks[id] = c
	return c, true, nil
}

func (r *resolver) title(ctx context.Context, docID string) string {
	if t, ok := r.titles[docID]; ok {
		return t
	}
	var title string
	if doc, err := r.store.GetDocument(ctx, docID); err == nil {
		title = doc.Title
	}
	r.titles[docID] = title
	return title
}
