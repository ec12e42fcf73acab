package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "patents.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePatent() (domain.Document, []domain.Chunk) {
	doc := domain.Document{
		ID:              "EP100",
		Title:           "Heat exchanger",
		Class:           "F28D",
		PublicationDate: time.Date(2019, 11, 20, 0, 0, 0, 0, time.UTC),
		Inventor:        "A. Inventor",
		Sections: []domain.Section{
			{Name: domain.SectionClaims, Text: "1. A heat exchanger comprising fins."},
			{Name: domain.SectionAbstract, Text: "Fins improve heat transfer."},
		},
	}
	chunks := []domain.Chunk{
		{ID: "c1", DocID: "EP100", Section: domain.SectionClaims, Class: "F28D", Text: "exchanger comprising fins.", Start: 10, End: 36, Seq: 1, TokenCount: 3, Terms: []string{"exchanger", "fins"}},
		{ID: "c0", DocID: "EP100", Section: domain.SectionClaims, Class: "F28D", Text: "1. A heat ", Start: 0, End: 10, Seq: 0, TokenCount: 3, Terms: []string{"heat"}},
	}
	return doc, chunks
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// Reopening is a no-op.
	require.NoError(t, s.Close())
	s2, err := New(s.Path())
	require.NoError(t, err)
	defer s2.Close()
	v, err = s2.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestStore_DocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, chunks := samplePatent()
	require.NoError(t, s.PutDocument(ctx, doc, chunks))

	got, err := s.GetDocument(ctx, "EP100")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Class, got.Class)
	assert.Equal(t, doc.Inventor, got.Inventor)
	assert.Equal(t, doc.Sections, got.Sections)
	assert.True(t, doc.PublicationDate.Equal(got.PublicationDate))

	claims, err := s.ChunksBySection(ctx, "EP100", domain.SectionClaims)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, chunks[1], claims[0])
	assert.Equal(t, chunks[0], claims[1])

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ReplaceAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, chunks := samplePatent()
	require.NoError(t, s.PutDocument(ctx, doc, chunks))

	doc.Title = "Improved heat exchanger"
	require.NoError(t, s.PutDocument(ctx, doc, chunks[:1]))

	ids, err := s.ChunkIDs(ctx, "EP100")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Improved heat exchanger", docs[0].Title)

	removed, err := s.DeleteDocument(ctx, "EP100")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, removed)

	_, err = s.GetChunk(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.DeleteDocument(ctx, "EP100")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_AllChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, chunks := samplePatent()
	require.NoError(t, s.PutDocument(ctx, doc, chunks))

	var seen []string
	require.NoError(t, s.AllChunks(ctx, func(c domain.Chunk) error {
		seen = append(seen, c.ID)
		return nil
	}))
	assert.Equal(t, []string{"c0", "c1"}, seen)
}

func TestStore_Embeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []domain.EmbeddingRecord{
		{ChunkID: "c0", DocID: "EP100", Section: "claims", Class: "F28D", Seq: 0, Vector: []float32{0.6, 0.8, -0.5}},
		{ChunkID: "c1", DocID: "EP100", Section: "claims", Seq: 1, Vector: []float32{1, 0, 0}},
	}
	require.NoError(t, s.PutEmbeddings(ctx, recs))
	require.NoError(t, s.DeleteEmbeddings(ctx, []string{"c1"}))

	var loaded []domain.EmbeddingRecord
	require.NoError(t, s.LoadEmbeddings(ctx, func(r domain.EmbeddingRecord) error {
		loaded = append(loaded, r)
		return nil
	}))
	require.Len(t, loaded, 1)
	assert.Equal(t, recs[0], loaded[0])
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.4028235e38}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
