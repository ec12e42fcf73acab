package rerank

import (
	"fmt"
	"sort"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// Reorder applies reranker output to candidates, which must be in fused
// order and parallel to the texts that were scored. Candidates the reranker
// returned no score for keep their fused position after all scored ones.
// Equal rerank scores keep fused order.
func Reorder(candidates []domain.ScoredID, results []port.RerankedResult) ([]domain.ScoredID, error) {
	type ranked struct {
		id       domain.ScoredID
		fused    int
		score    float64
		hasScore bool
	}

	rows := make([]ranked, len(candidates))
	for i, c := range candidates {
		rows[i] = ranked{id: c, fused: i}
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: result index %d out of range", domain.ErrRerankService, r.Index)
		}
		rows[r.Index].score = r.Score
		rows[r.Index].hasScore = true
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.hasScore != b.hasScore {
			return a.hasScore
		}
		if a.hasScore && a.score != b.score {
			return a.score > b.score
		}
		return a.fused < b.fused
	})

	out := make([]domain.ScoredID, len(rows))
	for i, r := range rows {
		out[i] = r.id
		if r.hasScore {
			out[i].Score = r.score
		}
	}
	return out, nil
}
