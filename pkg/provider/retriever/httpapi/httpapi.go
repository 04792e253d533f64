// Package httpapi provides a retriever backed by a generic JSON search
// service.
//
// The service contract is one endpoint: POST {baseURL}/search with a JSON
// body {"query": "...", "top_k": N} answering {"results": [{"document_id",
// "snippet", "score"}, ...]} ordered most relevant first. Any search
// sidecar matching that shape can serve as the retrieval backend without a
// dedicated provider.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Compile-time assertion that Provider implements retriever.Provider.
var _ retriever.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets a bearer token sent with every request. No Authorization
// header is sent when empty, which is the default.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithTimeout sets the HTTP client timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements retriever.Provider against a JSON search service.
// Safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider that queries the search service at baseURL.
// baseURL must not be empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpapi retriever: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// searchRequest is the JSON request body for POST /search.
type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// searchResponse is the JSON response body returned by POST /search.
type searchResponse struct {
	Results []struct {
		DocumentID string  `json:"document_id"`
		Snippet    string  `json:"snippet"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Retrieve submits the query and returns up to topK chunks in the order the
// service ranked them.
func (p *Provider) Retrieve(ctx context.Context, query string, topK int) ([]types.ContextChunk, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("httpapi retriever: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpapi retriever: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi retriever: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpapi retriever: %w: server returned HTTP %d",
			types.ErrUnavailable, resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("httpapi retriever: %w: parse response: %v",
			types.ErrInvalidResponse, err)
	}

	chunks := make([]types.ContextChunk, 0, len(result.Results))
	for _, r := range result.Results {
		chunks = append(chunks, types.ContextChunk{
			DocumentID: r.DocumentID,
			Snippet:    r.Snippet,
			Score:      r.Score,
		})
	}
	if len(chunks) > topK && topK > 0 {
		chunks = chunks[:topK]
	}
	return chunks, nil
}
