package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/sashabaranov/go-openai"

	"priorart/internal/domain"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Ollama and
// most local model servers speak the same protocol.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

// Options configures an OpenAIEmbedder. A zero Dimension is looked up from
// the model name.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
}

func NewOpenAIEmbedder(apiKeyEnv, model, baseURL string, dimension int) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable: %s", domain.ErrInvalidConfiguration, apiKeyEnv)
	}
	return NewOpenAICompatibleEmbedder(Options{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Model:     model,
		Dimension: dimension,
	})
}

func NewOllamaEmbedder(model, baseURL string, dimension int) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return NewOpenAICompatibleEmbedder(Options{
		APIKey:    "ollama",
		BaseURL:   baseURL,
		Model:     model,
		Dimension: dimension,
	})
}

func NewOpenAICompatibleEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: embedding model is required", domain.ErrInvalidConfiguration)
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = knownDimension(opts.Model)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for model %q, set embedding.dimension", domain.ErrInvalidConfiguration, opts.Model)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     opts.Model,
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

func knownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "bge-large-en-v1.5":
		return 1024
	case "all-minilm", "bge-small-en-v1.5":
		return 384
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}
	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrEmbeddingService, data.Index)
		}
		if len(data.Embedding) != e.dimension {
			return nil, fmt.Errorf("%w: model %s returned dimension %d, expected %d",
				domain.ErrInvalidConfiguration, e.model, len(data.Embedding), e.dimension)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: no embedding returned for input %d", domain.ErrEmbeddingService, i)
		}
	}
	return embeddings, nil
}

// classifyAPIError marks client errors other than rate limiting as
// permanent so they are not retried.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return &PermanentError{Err: fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)}
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
