// Package embedding provides embedding generation services.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// Client calls an OpenAI-compatible /embeddings endpoint. Both the
// FastRouter gateway and the optional local model speak this shape.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// ClientConfig holds embedding client configuration.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new embedding client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

// embeddingRequest represents a request to generate embeddings.
type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embeddingResponse represents the API response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Error  *embeddingError `json:"error,omitempty"`
}

// embeddingData contains one embedding vector.
type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingError represents an API error.
type embeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Embed generates embeddings for the given texts with the given provider
// model. A zero dimensions value lets the provider pick its default width.
func (c *Client) Embed(ctx context.Context, model string, dimensions int, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Input:      texts,
		Model:      model,
		Dimensions: dimensions,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Embedding provider is unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Embedding provider response could not be read", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp embeddingResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, apperr.Newf(apperr.KindUpstream, "Embedding provider error: %s", errResp.Error.Message)
		}
		return nil, apperr.Newf(apperr.KindUpstream, "Embedding provider error: status %d", resp.StatusCode)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Embedding provider returned malformed JSON", err)
	}

	if len(embResp.Data) != len(texts) {
		return nil, apperr.Newf(apperr.KindUpstream, "Embedding provider returned %d embeddings for %d inputs", len(embResp.Data), len(texts))
	}

	// Responses may arrive out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, apperr.Newf(apperr.KindUpstream, "Embedding provider returned out-of-range index %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if len(emb) == 0 {
			return nil, apperr.Newf(apperr.KindUpstream, "Embedding provider returned no embedding for input %d", i)
		}
	}

	return embeddings, nil
}

// Embedder generates embeddings for batches of text.
type Embedder interface {
	Embed(ctx context.Context, model string, dimensions int, texts []string) ([][]float32, error)
}

var _ Embedder = (*Client)(nil)
