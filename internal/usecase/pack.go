package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// PackUseCase builds the passage bundle handed to generation.
type PackUseCase struct {
	retriever  port.Retriever
	store      port.DocumentStore
	windowSize int
	logger     zerolog.Logger
}

// NewPackUseCase creates a new pack use case. windowSize is the number of
// neighbouring chunks added on each side of a retrieved passage.
func NewPackUseCase(retriever port.Retriever, store port.DocumentStore, windowSize int, logger zerolog.Logger) (*PackUseCase, error) {
	if windowSize < 0 {
		return nil, fmt.Errorf("%w: window size must be >= 0, got %d", domain.ErrInvalidConfiguration, windowSize)
	}
	return &PackUseCase{
		retriever:  retriever,
		store:      store,
		windowSize: windowSize,
		logger:     logger,
	}, nil
}

// Pack retrieves passages for q, widens them and merges overlapping spans.
func (u *PackUseCase) Pack(ctx context.Context, q domain.Query) (domain.ContextPack, error) {
	start := time.Now()

	passages, err := u.retriever.Retrieve(ctx, q)
	if err != nil {
		return domain.ContextPack{}, err
	}

	docs := make(map[string]domain.Document)
	if u.windowSize > 0 {
		for i, p := range passages {
			widened, err := u.widen(ctx, p, docs)
			if err != nil {
				return domain.ContextPack{}, err
			}
			passages[i] = widened
		}
	}

	merged, err := u.mergeOverlapping(ctx, passages, docs)
	if err != nil {
		return domain.ContextPack{}, err
	}

	return domain.ContextPack{
		Query:           q.Text,
		Passages:        merged,
		TotalChunks:     len(passages),
		RetrievalTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func (u *PackUseCase) document(ctx context.Context, id string, docs map[string]domain.Document) (domain.Document, error) {
	if doc, ok := docs[id]; ok {
		return doc, nil
	}
	doc, err := u.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	docs[id] = doc
	return doc, nil
}

// widen extends p to cover windowSize neighbouring chunks on each side.
// Passages whose chunk can no longer be found are returned unchanged.
func (u *PackUseCase) widen(ctx context.Context, p domain.Passage, docs map[string]domain.Document) (domain.Passage, error) {
	chunks, err := u.store.ChunksBySection(ctx, p.DocumentID, p.Section)
	if err != nil {
		return p, err
	}

	at := -1
	for i, c := range chunks {
		if c.Start == p.Start && c.End == p.End {
			at = i
			break
		}
	}
	if at < 0 {
		u.logger.Debug().Str("doc", p.DocumentID).Str("section", p.Section).Msg("passage chunk not found, not widening")
		return p, nil
	}

	lo := max(at-u.windowSize, 0)
	hi := min(at+u.windowSize, len(chunks)-1)
	if lo == at && hi == at {
		return p, nil
	}

	doc, err := u.document(ctx, p.DocumentID, docs)
	if err != nil {
		return p, err
	}
	text, ok := doc.SectionText(p.Section)
	if !ok {
		return p, nil
	}
	runes := []rune(text)
	p.Start = chunks[lo].Start
	p.End = min(chunks[hi].End, len(runes))
	p.Text = string(runes[p.Start:p.End])
	return p, nil
}

// mergeOverlapping joins passages of the same section whose spans overlap or
// touch. The merged passage keeps the best score and the rank of its best
// member.
func (u *PackUseCase) mergeOverlapping(ctx context.Context, passages []domain.Passage, docs map[string]domain.Document) ([]domain.Passage, error) {
	if len(passages) <= 1 {
		return passages, nil
	}

	type ranked struct {
		p    domain.Passage
		rank int
	}
	type sectionKey struct{ doc, section string }

	groups := make(map[sectionKey][]ranked)
	var order []sectionKey
	for i, p := range passages {
		k := sectionKey{p.DocumentID, p.Section}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ranked{p: p, rank: i})
	}

	var out []ranked
	for _, k := range order {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].p.Start < group[j].p.Start })

		cur := group[0]
		mergedAny := false
		flush := func() error {
			if mergedAny {
				doc, err := u.document(ctx, cur.p.DocumentID, docs)
				if err != nil {
					return err
				}
				if text, ok := doc.SectionText(cur.p.Section); ok {
					runes := []rune(text)
					cur.p.Text = string(runes[cur.p.Start:min(cur.p.End, len(runes))])
				}
			}
			out = append(out, cur)
			return nil
		}

		for _, next := range group[1:] {
			if next.p.Start <= cur.p.End {
				cur.p.End = max(cur.p.End, next.p.End)
				if next.p.Score > cur.p.Score {
					cur.p.Score = next.p.Score
				}
				cur.rank = min(cur.rank, next.rank)
				mergedAny = true
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
			cur, mergedAny = next, false
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	result := make([]domain.Passage, len(out))
	for i, r := range out {
		result[i] = r.p
	}
	return result, nil
}
