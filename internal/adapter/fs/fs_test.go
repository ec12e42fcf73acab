package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWalker_IncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), "{}")
	writeFile(t, filepath.Join(root, "nested", "b.yaml"), "id: b")
	writeFile(t, filepath.Join(root, "notes.txt"), "skip")
	writeFile(t, filepath.Join(root, ".priorart", "config.yaml"), "skip")

	w, err := NewWalker(nil, []string{"**/.priorart/**"})
	require.NoError(t, err)
	files, err := w.Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"a.json", "nested/b.yaml"}, rel)
}

func TestWalker_RejectsBadPattern(t *testing.T) {
	_, err := NewWalker([]string{"**/*.json"}, []string{"[unclosed"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestLoader_JSONSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "US123.json")
	writeFile(t, path, `{
		"id": "US123",
		"title": "Widget",
		"cpc_class": "A01B",
		"publication_date": "2020-05-01",
		"sections": [
			{"name": "claims", "text": "1. A widget."},
			{"name": "abstract", "text": "A small widget."}
		]
	}`)

	doc, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "US123", doc.ID)
	assert.Equal(t, "A01B", doc.Class)
	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), doc.PublicationDate)
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "claims", doc.Sections[0].Name)
}

func TestLoader_YAMLFlatFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EP9.yaml")
	writeFile(t, path, `id: EP9
title: Pump
publication_date: 2018-02-03
abstract: A pump.
claims: |
  1. A pump comprising an impeller.
`)

	doc, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, domain.SectionAbstract, doc.Sections[0].Name)
	assert.Equal(t, domain.SectionClaims, doc.Sections[1].Name)
	assert.Equal(t, 2018, doc.PublicationDate.Year())
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, "{not json")
	_, err := NewLoader().Load(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	txt := filepath.Join(dir, "x.txt")
	writeFile(t, txt, "hello")
	_, err = NewLoader().Load(context.Background(), txt)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	date := filepath.Join(dir, "date.json")
	writeFile(t, date, `{"id": "X", "publication_date": "yesterday"}`)
	_, err = NewLoader().Load(context.Background(), date)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}

func TestDecode(t *testing.T) {
	doc, err := Decode([]byte(`{"id":"EP9","abstract":"A valve.","publication_date":"20210304"}`), ".JSON")
	require.NoError(t, err)
	assert.Equal(t, "EP9", doc.ID)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, 2021, doc.PublicationDate.Year())

	_, err = Decode([]byte("id: x"), ".txt")
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}
