// Package verify validates SDK API keys against the account backend and
// reports usage back to it.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
)

const requestTimeout = 10 * time.Second

// PineconeConfig is the Pinecone block of a pipeline configuration. The
// account backend sends camelCase keys; older records used snake_case.
type PineconeConfig struct {
	APIKey    string
	IndexName string
	Namespace string
}

// UnmarshalJSON accepts both camelCase and snake_case field names.
func (p *PineconeConfig) UnmarshalJSON(data []byte) error {
	var aux struct {
		APIKey    string `json:"apiKey"`
		APIKeyAlt string `json:"api_key"`
		IndexName string `json:"indexName"`
		IndexAlt  string `json:"index_name"`
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.APIKey = firstNonEmpty(aux.APIKey, aux.APIKeyAlt)
	p.IndexName = firstNonEmpty(aux.IndexName, aux.IndexAlt)
	p.Namespace = aux.Namespace
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LLMConfig is the chat model section of a pipeline.
type LLMConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
	TopK         int    `json:"topK"`
}

// EmbeddingConfig is the retrieval section of a pipeline.
type EmbeddingConfig struct {
	VectorStore string          `json:"vectorStore"`
	Model       string          `json:"model"`
	Dimension   int             `json:"dimension"`
	DatasetIDs  []string        `json:"datasetIds"`
	Pinecone    *PineconeConfig `json:"pineconeConfig"`
}

// PipelineConfig is a verified pipeline's configuration.
type PipelineConfig struct {
	LLM       *LLMConfig       `json:"llm"`
	Embedding *EmbeddingConfig `json:"embedding"`
}

// verificationResponse supports both the current "pipeline" root and the
// legacy "bot" root.
type verificationResponse struct {
	Pipeline *PipelineConfig `json:"pipeline"`
	Bot      *PipelineConfig `json:"bot"`
}

// Verifier is the surface the chat handler depends on.
type Verifier interface {
	VerifyAPIKey(ctx context.Context, apiKey, pipelineName string) (*PipelineConfig, error)
	TrackUsage(ctx context.Context, apiKey, pipelineName string, tokens int64) error
}

// ClientConfig holds the account backend settings.
type ClientConfig struct {
	VerificationURL string
	ServiceSecret   string
}

// Client talks to the account backend's service endpoints.
type Client struct {
	httpClient    *http.Client
	verifyURL     string
	serviceSecret string
	logger        *observability.Logger
}

// NewClient creates the verification client.
func NewClient(cfg ClientConfig, logger *observability.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: requestTimeout},
		verifyURL:     strings.TrimRight(cfg.VerificationURL, "/"),
		serviceSecret: cfg.ServiceSecret,
		logger:        logger,
	}
}

type verificationRequest struct {
	APIKey       string `json:"apiKey"`
	PipelineName string `json:"pipelineName"`
}

// VerifyAPIKey checks the key against the account backend and returns the
// pipeline configuration it grants access to. Rejections propagate the
// backend's status code.
func (c *Client) VerifyAPIKey(ctx context.Context, apiKey, pipelineName string) (*PipelineConfig, error) {
	if strings.TrimSpace(c.serviceSecret) == "" {
		return nil, apperr.New(apperr.KindConfig, "SERVICE_API_SECRET is not configured")
	}

	status, body, err := c.post(ctx, c.verifyURL, verificationRequest{APIKey: apiKey, PipelineName: pipelineName})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Unable to verify API key", err)
	}

	if status != http.StatusOK {
		message := messageFromBody(body)
		if message == "" {
			message = "API key verification failed"
		}
		return nil, &apperr.Error{Kind: apperr.KindUpstream, Message: message, Status: status}
	}

	var parsed verificationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Unable to verify API key", err)
	}

	pipeline := parsed.Pipeline
	if pipeline == nil {
		pipeline = parsed.Bot
	}
	if pipeline == nil {
		pipeline = &PipelineConfig{}
	}
	return pipeline, nil
}

type usageRequest struct {
	APIKey       string `json:"apiKey"`
	PipelineName string `json:"pipelineName"`
	Tokens       int64  `json:"tokens"`
}

// TrackUsage reports consumed tokens after a successful chat. A 402 from
// the backend surfaces as a payment error; any other failure is logged
// and swallowed so it never breaks the chat response.
func (c *Client) TrackUsage(ctx context.Context, apiKey, pipelineName string, tokens int64) error {
	if strings.TrimSpace(c.serviceSecret) == "" {
		return nil
	}

	trackURL := c.verifyURL
	if idx := strings.LastIndex(trackURL, "/"); idx >= 0 {
		trackURL = trackURL[:idx]
	}
	trackURL += "/track-usage"

	status, body, err := c.post(ctx, trackURL, usageRequest{APIKey: apiKey, PipelineName: pipelineName, Tokens: tokens})
	if err != nil {
		c.logger.Warn().Err(err).Str("pipeline", pipelineName).Msg("Usage tracking failed")
		return nil
	}

	if status == http.StatusPaymentRequired {
		message := messageFromBody(body)
		if message == "" {
			message = "Request limit reached"
		}
		return &apperr.Error{Kind: apperr.KindPayment, Message: message, Status: status}
	}
	if status != http.StatusOK {
		c.logger.Warn().Int("status", status).Str("pipeline", pipelineName).Msg("Usage tracking rejected")
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload interface{}) (int, []byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-service-key", c.serviceSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// messageFromBody pulls the backend's message field out of an error
// response.
func messageFromBody(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Message)
}

var _ Verifier = (*Client)(nil)
