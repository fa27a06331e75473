package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"kbrag/models"
)

// RerankProvider scores candidate passages against a query with a
// cross-encoding model. Scores align positionally with the submitted
// documents.
type RerankProvider interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// HTTPReranker calls a hosted rerank API (SiliconFlow-compatible request and
// response shape: {model, query, documents} in, results[].relevance_score
// out).
type HTTPReranker struct {
	httpClient *http.Client
	url        string
	apiKey     string
	model      string
}

func NewHTTPReranker(client *http.Client, url, apiKey, model string) *HTTPReranker {
	return &HTTPReranker{httpClient: client, url: url, apiKey: apiKey, model: model}
}

func (r *HTTPReranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	reqBody, err := json.Marshal(models.RerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank api: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: rerank api returned status %d, body: %s", ErrProviderUnavailable, resp.StatusCode, string(bodyBytes))
		}
		return nil, fmt.Errorf("%w: rerank api returned status %d, body: %s", ErrProviderError, resp.StatusCode, string(bodyBytes))
	}

	var rerankResp models.RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode rerank response: %v", ErrProviderError, err)
	}
	if len(rerankResp.Results) != len(documents) {
		return nil, fmt.Errorf("%w: rerank api returned %d results for %d documents", ErrProviderError, len(rerankResp.Results), len(documents))
	}

	scores := make([]float64, len(documents))
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("%w: rerank result index %d out of range", ErrProviderError, res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}
