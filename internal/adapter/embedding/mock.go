package embedding

import (
	"context"
	"hash/fnv"

	"priorart/internal/adapter/analyzer"
)

// MockEmbedder hashes lexical terms into a fixed number of buckets. Texts
// sharing terms get similar vectors, which is enough for offline use and
// tests without a model server.
type MockEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
	}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dimension)
		for _, term := range e.tokenizer.Tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(term))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%e.dimension] += sign
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
