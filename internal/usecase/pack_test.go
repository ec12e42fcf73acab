package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/domain"
)

func passageFor(c domain.Chunk, score float64) domain.Passage {
	return domain.Passage{
		DocumentID: c.DocID,
		Section:    c.Section,
		Text:       c.Text,
		Start:      c.Start,
		End:        c.End,
		Score:      score,
	}
}

func TestPackWindowExpansion(t *testing.T) {
	s := newTestStack(t)
	docs := samplePatents()
	s.ingestAll(t, docs)
	ctx := context.Background()

	claims, err := s.store.ChunksBySection(ctx, "US1", domain.SectionClaims)
	require.NoError(t, err)
	require.Len(t, claims, 4)

	retriever := staticRetriever{passages: []domain.Passage{passageFor(claims[1], 2.0)}}
	packer, err := NewPackUseCase(retriever, s.store, 1, zerolog.Nop())
	require.NoError(t, err)

	pack, err := packer.Pack(ctx, domain.Query{Text: "cooling plate", K: 1})
	require.NoError(t, err)
	require.Len(t, pack.Passages, 1)

	text, _ := docs[0].SectionText(domain.SectionClaims)
	runes := []rune(text)
	p := pack.Passages[0]
	assert.Equal(t, claims[0].Start, p.Start)
	assert.Equal(t, claims[2].End, p.End)
	assert.Equal(t, string(runes[p.Start:p.End]), p.Text)
	assert.Equal(t, 2.0, p.Score)
	assert.Equal(t, 1, pack.TotalChunks)
	assert.Equal(t, "cooling plate", pack.Query)
}

func TestPackMergeOverlapping(t *testing.T) {
	s := newTestStack(t)
	docs := samplePatents()
	s.ingestAll(t, docs)
	ctx := context.Background()

	claims, err := s.store.ChunksBySection(ctx, "US1", domain.SectionClaims)
	require.NoError(t, err)
	abstract, err := s.store.ChunksBySection(ctx, "US1", domain.SectionAbstract)
	require.NoError(t, err)

	retriever := staticRetriever{passages: []domain.Passage{
		passageFor(abstract[0], 3.0),
		passageFor(claims[2], 2.5),
		passageFor(claims[1], 1.0),
	}}
	packer, err := NewPackUseCase(retriever, s.store, 0, zerolog.Nop())
	require.NoError(t, err)

	pack, err := packer.Pack(ctx, domain.Query{Text: "q", K: 3})
	require.NoError(t, err)
	require.Len(t, pack.Passages, 2)
	assert.Equal(t, 3, pack.TotalChunks)

	assert.Equal(t, domain.SectionAbstract, pack.Passages[0].Section)

	merged := pack.Passages[1]
	text, _ := docs[0].SectionText(domain.SectionClaims)
	assert.Equal(t, claims[1].Start, merged.Start)
	assert.Equal(t, claims[2].End, merged.End)
	assert.Equal(t, string([]rune(text)[merged.Start:merged.End]), merged.Text)
	assert.Equal(t, 2.5, merged.Score)
}

func TestPackEmptyAndErrors(t *testing.T) {
	s := newTestStack(t)

	packer, err := NewPackUseCase(staticRetriever{}, s.store, 1, zerolog.Nop())
	require.NoError(t, err)
	pack, err := packer.Pack(context.Background(), domain.Query{Text: "q", K: 1})
	require.NoError(t, err)
	assert.Empty(t, pack.Passages)
	assert.GreaterOrEqual(t, pack.RetrievalTimeMS, 0.0)

	boom := errors.New("boom")
	packer, err = NewPackUseCase(staticRetriever{err: boom}, s.store, 1, zerolog.Nop())
	require.NoError(t, err)
	_, err = packer.Pack(context.Background(), domain.Query{Text: "q", K: 1})
	assert.ErrorIs(t, err, boom)

	_, err = NewPackUseCase(staticRetriever{}, s.store, -1, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
