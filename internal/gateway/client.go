// Package gateway is the FastRouter client. Every provider is reached
// through the same OpenAI-compatible chat completions endpoint.
package gateway

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

// ChatRequest is one chat completion call routed through FastRouter.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// ChatResult carries the model's reply and its normalized token usage.
type ChatResult struct {
	Text  string
	Usage Usage
}

// Caller is the gateway surface the chat and evaluation services depend on.
type Caller interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
}

// ClientConfig holds the settings for the FastRouter client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client invokes chat completions against the FastRouter API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *observability.Logger
}

// NewClient creates a FastRouter client. The base URL is required; the
// API key may be empty and is validated per call so the server can boot
// without credentials.
func NewClient(cfg ClientConfig, logger *observability.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one completion request and returns the first choice.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return ChatResult{}, apperr.New(apperr.KindConfig, "FastRouter API key is not configured")
	}
	if strings.TrimSpace(req.Model) == "" {
		return ChatResult{}, apperr.New(apperr.KindValidation, "Model identifier is required for chat")
	}

	body := chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ChatResult{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ChatResult{}, apperr.Wrap(apperr.KindUpstream, "FastRouter is unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResult{}, apperr.Wrap(apperr.KindUpstream, "Failed to read FastRouter response", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return ChatResult{}, apperr.Newf(apperr.KindUpstream, "FastRouter request failed: status %d", resp.StatusCode)
		}
		return ChatResult{}, apperr.Wrap(apperr.KindUpstream, "FastRouter returned malformed JSON", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		return ChatResult{}, apperr.Newf(apperr.KindUpstream, "FastRouter request failed: %s", message)
	}

	if len(parsed.Choices) == 0 {
		return ChatResult{}, apperr.New(apperr.KindUpstream, "FastRouter response contained no choices")
	}

	usage, meta := NormalizeUsage(parsed.Usage, c.logger)
	c.logger.Debug().
		Str("model", req.Model).
		Dur("duration", time.Since(start)).
		Int64("total_tokens", usage.TotalTokens).
		Msg("Chat completion finished")
	if len(meta) > 0 {
		usage.Metadata = meta
	}

	return ChatResult{
		Text:  strings.TrimSpace(parsed.Choices[0].Message.Content),
		Usage: usage,
	}, nil
}

var _ Caller = (*Client)(nil)
