// Package fusion merges lexical and vector rankings into one list.
package fusion

import (
	"fmt"
	"math"

	"priorart/internal/domain"
)

// Method selects how scores from the two rankers are combined.
type Method string

const (
	// MethodZScore normalizes each list by its mean and sample standard
	// deviation and takes a weighted sum.
	MethodZScore Method = "zscore"
	// MethodRRF uses weighted reciprocal rank fusion.
	MethodRRF Method = "rrf"
)

// DefaultRRFK is the standard reciprocal rank fusion constant.
const DefaultRRFK = 60

// ValidateAlpha rejects weights outside [0,1].
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0,1], got %v", domain.ErrInvalidConfiguration, alpha)
	}
	return nil
}

// ZScores normalizes a result set to (score - mean) / stddev using the sample
// standard deviation. Sets of size <= 1 or with zero variance map to 0.
func ZScores(results []domain.ScoredID) map[string]float64 {
	norm := make(map[string]float64, len(results))
	n := len(results)
	if n <= 1 {
		for _, r := range results {
			norm[r.ChunkID] = 0
		}
		return norm
	}

	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	mean := sum / float64(n)

	var ss float64
	for _, r := range results {
		d := r.Score - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n-1))

	for _, r := range results {
		if std == 0 || math.IsNaN(std) {
			norm[r.ChunkID] = 0
			continue
		}
		norm[r.ChunkID] = (r.Score - mean) / std
	}
	return norm
}

// Fuse combines lexical and vector results as alpha*lexical + (1-alpha)*vector
// over z-score normalized scores. A chunk missing from one list contributes 0
// for that list. The result is sorted with the standard tie-break.
func Fuse(lexical, vector []domain.ScoredID, alpha float64) ([]domain.ScoredID, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	lex := ZScores(lexical)
	vec := ZScores(vector)

	merged := union(lexical, vector)
	for i := range merged {
		id := merged[i].ChunkID
		merged[i].Score = alpha*lex[id] + (1-alpha)*vec[id]
	}
	domain.SortScored(merged)
	return merged, nil
}

// FuseRRF combines the two lists by weighted reciprocal rank:
// alpha/(k+rank) for lexical plus (1-alpha)/(k+rank) for vector, ranks
// starting at 1.
func FuseRRF(lexical, vector []domain.ScoredID, alpha float64, k int) ([]domain.ScoredID, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64, len(lexical)+len(vector))
	for rank, r := range lexical {
		scores[r.ChunkID] += alpha / float64(k+rank+1)
	}
	for rank, r := range vector {
		scores[r.ChunkID] += (1 - alpha) / float64(k+rank+1)
	}

	merged := union(lexical, vector)
	for i := range merged {
		merged[i].Score = scores[merged[i].ChunkID]
	}
	domain.SortScored(merged)
	return merged, nil
}

// Combine dispatches on method.
func Combine(method Method, lexical, vector []domain.ScoredID, alpha float64) ([]domain.ScoredID, error) {
	switch method {
	case MethodZScore, "":
		return Fuse(lexical, vector, alpha)
	case MethodRRF:
		return FuseRRF(lexical, vector, alpha, DefaultRRFK)
	default:
		return nil, fmt.Errorf("%w: unknown fusion method %q", domain.ErrInvalidConfiguration, method)
	}
}

// union returns each chunk once, keeping the first identity seen.
func union(lists ...[]domain.ScoredID) []domain.ScoredID {
	seen := make(map[string]struct{})
	var out []domain.ScoredID
	for _, list := range lists {
		for _, r := range list {
			if _, ok := seen[r.ChunkID]; ok {
				continue
			}
			seen[r.ChunkID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
