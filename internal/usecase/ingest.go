package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"priorart/internal/domain"
	"priorart/internal/port"
)

const docLockStripes = 64

// Invalidator drops cached query results after the corpus changes.
type Invalidator interface {
	Invalidate()
}

// IngestOptions tunes ingestion.
type IngestOptions struct {
	Workers        int
	EmbedBatchSize int
	// OnDocument is called once per document as it finishes. It may be called
	// from several goroutines at once.
	OnDocument func(domain.IngestStatus)
}

// IngestUseCase chunks, embeds and indexes documents.
type IngestUseCase struct {
	store    port.DocumentStore
	chunker  port.Chunker
	lexical  port.LexicalIndex
	vector   port.VectorIndex // nil disables embedding
	embedder port.Embedder
	cache    Invalidator
	opts     IngestOptions
	logger   zerolog.Logger

	// Serialises replacement of the same document id.
	docLocks [docLockStripes]sync.Mutex
}

// NewIngestUseCase creates a new ingest use case. vector, embedder and cache
// may be nil.
func NewIngestUseCase(
	store port.DocumentStore,
	chunker port.Chunker,
	lexical port.LexicalIndex,
	vector port.VectorIndex,
	embedder port.Embedder,
	cache Invalidator,
	opts IngestOptions,
	logger zerolog.Logger,
) *IngestUseCase {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 64
	}
	if vector == nil || embedder == nil {
		vector, embedder = nil, nil
	}
	return &IngestUseCase{
		store:    store,
		chunker:  chunker,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

// SetOnDocument replaces the per-document callback. It must not be called
// while Ingest is running.
func (u *IngestUseCase) SetOnDocument(fn func(domain.IngestStatus)) {
	u.opts.OnDocument = fn
}

// Ingest indexes docs and returns one status per document in input order.
// A failing document never stops the batch; if any failed the returned error
// wraps domain.ErrPartialIngestion.
func (u *IngestUseCase) Ingest(ctx context.Context, docs []domain.Document) ([]domain.IngestStatus, error) {
	batchID := uuid.NewString()
	logger := u.logger.With().Str("batch", batchID).Logger()
	start := time.Now()

	statuses := make([]domain.IngestStatus, len(docs))
	g := new(errgroup.Group)
	g.SetLimit(u.opts.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			status := domain.IngestStatus{DocumentID: doc.ID}
			if err := ctx.Err(); err != nil {
				status.Err = err
			} else {
				status.Chunks, status.Err = u.ingestOne(ctx, doc)
			}
			if status.Err != nil {
				logger.Warn().
					Err(status.Err).
					Str("doc", doc.ID).
					Str("kind", domain.Classify(status.Err)).
					Msg("document failed")
			}
			statuses[i] = status
			if u.opts.OnDocument != nil {
				u.opts.OnDocument(status)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(docs) > 0 && u.cache != nil {
		u.cache.Invalidate()
	}

	failed, chunks := 0, 0
	for _, s := range statuses {
		if s.OK() {
			chunks += s.Chunks
		} else {
			failed++
		}
	}
	logger.Info().
		Int("documents", len(docs)).
		Int("failed", failed).
		Int("chunks", chunks).
		Dur("took", time.Since(start)).
		Msg("ingest finished")

	if failed > 0 {
		return statuses, fmt.Errorf("%w: %d of %d documents failed", domain.ErrPartialIngestion, failed, len(docs))
	}
	return statuses, nil
}

// ValidateDocument checks the structural requirements of a document. Section
// text is checked by the chunker.
func ValidateDocument(doc domain.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidDocument)
	}
	if len(doc.Sections) == 0 {
		return fmt.Errorf("%w: document %s has no sections", domain.ErrInvalidDocument, doc.ID)
	}
	seen := make(map[string]struct{}, len(doc.Sections))
	for _, s := range doc.Sections {
		if s.Name == "" {
			return fmt.Errorf("%w: document %s has an unnamed section", domain.ErrInvalidDocument, doc.ID)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: document %s repeats section %q", domain.ErrInvalidDocument, doc.ID, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

func (u *IngestUseCase) ingestOne(ctx context.Context, doc domain.Document) (int, error) {
	if err := ValidateDocument(doc); err != nil {
		return 0, err
	}

	var chunks []domain.Chunk
	for _, section := range doc.Sections {
		sectionChunks, err := u.chunker.Chunk(doc, section)
		if err != nil {
			return 0, err
		}
		chunks = append(chunks, sectionChunks...)
	}

	// Nothing is written until every chunk is embedded.
	records, err := u.embed(ctx, chunks)
	if err != nil {
		return 0, err
	}

	lock := u.lockFor(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := u.previousVersion(ctx, doc.ID)
	if err != nil {
		return 0, err
	}

	// Each step pushes its undo before running; fail unwinds them in reverse.
	var undo []func() error
	fail := func(err error) (int, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			if rerr := undo[i](); rerr != nil {
				u.logger.Error().Err(rerr).Str("doc", doc.ID).Msg("failed to restore previous version")
			}
		}
		return 0, err
	}

	if u.vector != nil {
		undo = append(undo, func() error {
			return u.vector.Replace(context.WithoutCancel(ctx), chunkIDs(chunks), prev.records)
		})
		if err := u.vector.Replace(ctx, prev.chunkIDs, records); err != nil {
			return fail(fmt.Errorf("vector index: %w", err))
		}
	}

	undo = append(undo, func() error {
		restoreCtx := context.WithoutCancel(ctx)
		if !prev.exists {
			_, err := u.store.DeleteDocument(restoreCtx, doc.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		return u.store.PutDocument(restoreCtx, prev.doc, prev.chunks)
	})
	if err := u.store.PutDocument(ctx, doc, chunks); err != nil {
		return fail(fmt.Errorf("storing document: %w", err))
	}

	if err := u.lexical.Replace(prev.chunkIDs, chunks); err != nil {
		return fail(fmt.Errorf("lexical index: %w", err))
	}

	u.logger.Debug().Str("doc", doc.ID).Int("chunks", len(chunks)).Int("replaced", len(prev.chunkIDs)).Msg("indexed document")
	return len(chunks), nil
}

// priorVersion is what a replacement has to put back if it fails midway.
type priorVersion struct {
	exists   bool
	doc      domain.Document
	chunks   []domain.Chunk
	chunkIDs []string
	records  []domain.EmbeddingRecord
}

func (u *IngestUseCase) previousVersion(ctx context.Context, id string) (priorVersion, error) {
	var prev priorVersion
	doc, err := u.store.GetDocument(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return prev, nil
	}
	if err != nil {
		return prev, fmt.Errorf("reading previous version: %w", err)
	}
	prev.exists = true
	prev.doc = doc

	prev.chunkIDs, err = u.store.ChunkIDs(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return prev, fmt.Errorf("reading previous chunks: %w", err)
	}
	for _, cid := range prev.chunkIDs {
		c, err := u.store.GetChunk(ctx, cid)
		if err != nil {
			return prev, fmt.Errorf("reading previous chunk %s: %w", cid, err)
		}
		prev.chunks = append(prev.chunks, c)
	}
	if u.vector != nil {
		if prev.records, err = u.vector.Records(ctx, prev.chunkIDs); err != nil {
			return prev, fmt.Errorf("reading previous embeddings: %w", err)
		}
	}
	return prev, nil
}

func chunkIDs(chunks []domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

func (u *IngestUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingRecord, error) {
	if u.embedder == nil || len(chunks) == 0 {
		return nil, nil
	}

	records := make([]domain.EmbeddingRecord, 0, len(chunks))
	for i := 0; i < len(chunks); i += u.opts.EmbedBatchSize {
		end := min(i+u.opts.EmbedBatchSize, len(chunks))
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vectors, err := u.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", domain.ErrEmbeddingService, len(vectors), len(batch))
		}
		for j, c := range batch {
			records = append(records, domain.EmbeddingRecord{
				ChunkID: c.ID,
				DocID:   c.DocID,
				Section: c.Section,
				Class:   c.Class,
				Seq:     c.Seq,
				Vector:  vectors[j],
			})
		}
	}
	return records, nil
}

// Delete removes a document from storage and both indexes.
func (u *IngestUseCase) Delete(ctx context.Context, id string) error {
	lock := u.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	removed, err := u.store.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := u.lexical.Delete(removed); err != nil {
		return fmt.Errorf("lexical index: %w", err)
	}
	if u.vector != nil {
		if err := u.vector.Delete(ctx, removed); err != nil {
			return fmt.Errorf("vector index: %w", err)
		}
	}
	if u.cache != nil {
		u.cache.Invalidate()
	}
	u.logger.Info().Str("doc", id).Int("chunks", len(removed)).Msg("deleted document")
	return nil
}

func (u *IngestUseCase) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &u.docLocks[h.Sum32()%docLockStripes]
}
