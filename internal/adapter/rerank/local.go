package rerank

import (
	"context"
	"sort"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/port"
)

// TermOverlapReranker scores passages by the fraction of distinct query terms
// they contain. It needs no model and is used when no service is configured.
type TermOverlapReranker struct {
	tokenizer port.Tokenizer
}

func NewTermOverlapReranker(tokenizer port.Tokenizer) *TermOverlapReranker {
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer()
	}
	return &TermOverlapReranker{tokenizer: tokenizer}
}

func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	queryTerms := termSet(r.tokenizer.Tokenize(query))

	results := make([]port.RerankedResult, len(documents))
	for i, doc := range documents {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results[i] = port.RerankedResult{
			Index: i,
			Score: overlap(queryTerms, termSet(r.tokenizer.Tokenize(doc))),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *TermOverlapReranker) ModelName() string {
	return "term-overlap"
}

func termSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
