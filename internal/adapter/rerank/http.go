package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// HTTPReranker calls a cross-encoder service exposing a Cohere/Jina style
// /rerank endpoint.
type HTTPReranker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// maxDocs is the per-request document limit of common rerank services.
const maxDocs = 1000

// NewHTTPReranker creates a client for endpoint. The timeout bounds a single
// request; callers usually also pass a context deadline.
func NewHTTPReranker(endpoint, model, apiKey string, timeout time.Duration) (*HTTPReranker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: rerank endpoint is required", domain.ErrInvalidConfiguration)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Rerank scores documents against query.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if len(documents) > maxDocs {
		documents = documents[:maxDocs]
	}

	jsonData, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", domain.ErrRerankService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", domain.ErrRerankService, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrRerankService, resp.StatusCode, string(body))
	}

	var rerankResp rerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", domain.ErrRerankService, err)
	}

	results := make([]port.RerankedResult, 0, len(rerankResp.Results))
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("%w: result index %d out of range", domain.ErrRerankService, res.Index)
		}
		results = append(results, port.RerankedResult{
			Index: res.Index,
			Score: res.RelevanceScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}

// ModelName returns the model name.
func (r *HTTPReranker) ModelName() string {
	return r.model
}
