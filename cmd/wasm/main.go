//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"syscall/js"
	"time"

	"github.com/rs/zerolog"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/adapter/chunker"
	"priorart/internal/adapter/fs"
	"priorart/internal/adapter/lexical"
	"priorart/internal/adapter/memstore"
	"priorart/internal/domain"
	"priorart/internal/usecase"
)

// Browser build: lexical-only retrieval over an in-memory store.

var (
	tokenizer *analyzer.Tokenizer
	chk       *chunker.WindowChunker
	store     *memstore.MemoryStore
	lex       *lexical.Index
	ingestUC  *usecase.IngestUseCase
	retrieve  *usecase.RetrieveUseCase
)

func init() {
	tokenizer = analyzer.NewTokenizer()
	var err error
	chk, err = chunker.NewWindowChunker(256, 64, tokenizer)
	if err != nil {
		panic(err)
	}
	reset()
}

func reset() {
	store = memstore.NewMemoryStore()
	var err error
	lex, err = lexical.New(lexical.DefaultConfig(), tokenizer)
	if err != nil {
		panic(err)
	}
	ingestUC = usecase.NewIngestUseCase(store, chk, lex, nil, nil, nil, usecase.IngestOptions{}, zerolog.Nop())
	retrieve, err = usecase.NewRetrieveUseCase(store, lex, nil, nil, nil, usecase.RetrieveOptions{
		CandidateK:    200,
		Alpha:         1,
		SearchTimeout: 2 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		panic(err)
	}
}

func main() {
	c := make(chan struct{})

	js.Global().Set("priorartIngest", js.FuncOf(ingestDocument))
	js.Global().Set("priorartQuery", js.FuncOf(queryPassages))
	js.Global().Set("priorartDelete", js.FuncOf(deleteDocument))
	js.Global().Set("priorartClear", js.FuncOf(clearIndex))
	js.Global().Set("priorartStats", js.FuncOf(getStats))

	<-c
}

// ingestDocument takes a patent as JSON text, in the same format as the
// files read by "priorart ingest".
func ingestDocument(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: priorartIngest(patentJSON)")
	}

	doc, err := fs.Decode([]byte(args[0].String()), ".json")
	if err != nil {
		return makeError(err.Error())
	}

	statuses, err := ingestUC.Ingest(context.Background(), []domain.Document{doc})
	if err != nil {
		return makeError(domain.Classify(err) + ": " + statuses[0].Err.Error())
	}

	return makeResult(map[string]interface{}{
		"success":  true,
		"chunks":   statuses[0].Chunks,
		"document": doc.ID,
	})
}

func queryPassages(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: priorartQuery(query, [topK], [sections])")
	}

	q := domain.Query{Text: args[0].String(), K: 5}
	if len(args) > 1 {
		q.K = args[1].Int()
	}
	if len(args) > 2 {
		for i := 0; i < args[2].Length(); i++ {
			q.Filters.Sections = append(q.Filters.Sections, args[2].Index(i).String())
		}
	}

	passages, err := retrieve.Retrieve(context.Background(), q)
	if err != nil {
		return makeError("search failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"results": passages,
		"query":   q.Text,
	})
}

func deleteDocument(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: priorartDelete(documentID)")
	}
	if err := ingestUC.Delete(context.Background(), args[0].String()); err != nil {
		return makeError(err.Error())
	}
	return makeResult(map[string]interface{}{
		"success": true,
	})
}

func clearIndex(this js.Value, args []js.Value) interface{} {
	reset()
	return makeResult(map[string]interface{}{
		"success": true,
	})
}

func getStats(this js.Value, args []js.Value) interface{} {
	docs, _ := store.ListDocuments(context.Background())

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	stats := lex.Stats()
	return makeResult(map[string]interface{}{
		"totalDocs":   len(docs),
		"totalChunks": stats.Chunks,
		"terms":       stats.Terms,
		"avgChunkLen": stats.AvgChunkLen,
		"documents":   ids,
	})
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data map[string]interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
