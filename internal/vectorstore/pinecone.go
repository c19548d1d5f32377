package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/observability"
)

const (
	pineconeControlURL   = "https://api.pinecone.io"
	pineconeAPIVersion   = "2024-07"
	pineconeUpsertBatch  = 100
	chunkTextMetadataCap = 4096
)

// PineconeStore talks to the Pinecone control and data planes over REST.
type PineconeStore struct {
	httpClient *http.Client
	controlURL string
	logger     *observability.Logger

	mu    sync.Mutex
	hosts map[string]indexInfo // keyed by apiKey + "/" + indexName
}

type indexInfo struct {
	host      string
	dimension int
}

// PineconeOption customizes the store; used by tests to point the control
// plane at a fake server.
type PineconeOption func(*PineconeStore)

// WithControlURL overrides the control plane base URL.
func WithControlURL(url string) PineconeOption {
	return func(p *PineconeStore) { p.controlURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) PineconeOption {
	return func(p *PineconeStore) { p.httpClient = client }
}

// NewPineconeStore creates the Pinecone backend.
func NewPineconeStore(logger *observability.Logger, opts ...PineconeOption) *PineconeStore {
	p := &PineconeStore{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		controlURL: pineconeControlURL,
		logger:     logger,
		hosts:      make(map[string]indexInfo),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// describeIndex resolves an index's data-plane host and declared dimension,
// caching the answer per api key and index.
func (p *PineconeStore) describeIndex(ctx context.Context, settings *PineconeSettings) (indexInfo, error) {
	apiKey := strings.TrimSpace(settings.APIKey)
	if apiKey == "" {
		return indexInfo{}, apperr.New(apperr.KindValidation, "Pinecone API key cannot be empty")
	}

	cacheKey := apiKey + "/" + settings.IndexName
	p.mu.Lock()
	if info, ok := p.hosts[cacheKey]; ok {
		p.mu.Unlock()
		return info, nil
	}
	p.mu.Unlock()

	url := fmt.Sprintf("%s/indexes/%s", p.controlURL, settings.IndexName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return indexInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Api-Key", apiKey)
	req.Header.Set("X-Pinecone-Api-Version", pineconeAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return indexInfo{}, apperr.Wrap(apperr.KindUpstream, "Pinecone is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return indexInfo{}, apperr.Newf(apperr.KindUnprocessable,
			"Pinecone index '%s' does not exist", settings.IndexName)
	}
	if resp.StatusCode != http.StatusOK {
		return indexInfo{}, apperr.Newf(apperr.KindUpstream,
			"Pinecone describe index failed: status %d", resp.StatusCode)
	}

	var described struct {
		Name      string `json:"name"`
		Dimension int    `json:"dimension"`
		Host      string `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&described); err != nil {
		return indexInfo{}, apperr.Wrap(apperr.KindUpstream, "Pinecone returned malformed JSON", err)
	}

	host := described.Host
	if host != "" && !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	info := indexInfo{host: host, dimension: described.Dimension}
	p.mu.Lock()
	p.hosts[cacheKey] = info
	p.mu.Unlock()
	return info, nil
}

type pineconeVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

// Upsert writes dataset embeddings into the index in batches of 100,
// splitting any batch the data plane rejects as too large.
func (p *PineconeStore) Upsert(ctx context.Context, ds dataset.Dataset, embeddings [][]float32, embeddingModel string, settings *PineconeSettings) (int, error) {
	info, err := p.describeIndex(ctx, settings)
	if err != nil {
		return 0, err
	}

	count := len(ds.Chunks)
	if len(embeddings) < count {
		count = len(embeddings)
	}

	vectors := make([]pineconeVector, 0, count)
	for i := 0; i < count; i++ {
		chunk := ds.Chunks[i]
		text := chunk.Text
		if len(text) > chunkTextMetadataCap {
			// Truncate on a rune boundary so the metadata stays valid UTF-8.
			runes := []rune(text)
			if len(runes) > chunkTextMetadataCap {
				runes = runes[:chunkTextMetadataCap]
			}
			text = string(runes)
		}
		vectors = append(vectors, pineconeVector{
			ID:     VectorID(ds.ID, chunk.Order),
			Values: embeddings[i],
			Metadata: map[string]interface{}{
				"dataset_id":      ds.ID,
				"dataset_label":   ds.Label,
				"dataset_type":    ds.Type,
				"chunk_order":     chunk.Order,
				"embedding_model": embeddingModel,
				"chunk_text":      text,
			},
		})
	}

	if info.dimension != 0 && len(vectors) > 0 {
		actual := len(vectors[0].Values)
		if info.dimension != actual {
			return 0, apperr.Newf(apperr.KindValidation,
				"Pinecone index '%s' dimension %d does not match embedding dimension %d",
				settings.IndexName, info.dimension, actual)
		}
	}

	p.logger.Info().
		Str("index", settings.IndexName).
		Str("namespace", settings.Namespace).
		Str("dataset", ds.ID).
		Int("count", len(vectors)).
		Msg("Upserting vectors into Pinecone")

	for start := 0; start < len(vectors); start += pineconeUpsertBatch {
		end := start + pineconeUpsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := p.sendBatch(ctx, info.host, settings, vectors[start:end], 0); err != nil {
			return 0, err
		}
	}

	return len(vectors), nil
}

// sendBatch upserts one batch, halving and retrying when the data plane
// reports the message is too large.
func (p *PineconeStore) sendBatch(ctx context.Context, host string, settings *PineconeSettings, batch []pineconeVector, depth int) error {
	if len(batch) == 0 {
		return nil
	}

	body := pineconeUpsertRequest{Vectors: batch, Namespace: settings.Namespace}
	status, respBody, err := p.dataPlanePost(ctx, host, settings.APIKey, "/vectors/upsert", body)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "Pinecone upsert failed", err)
	}
	if status == http.StatusOK {
		return nil
	}

	message := upstreamMessage(respBody, status)
	if strings.Contains(strings.ToLower(message), "message length too large") && len(batch) > 1 {
		mid := len(batch) / 2
		p.logger.Warn().
			Int("current_size", len(batch)).
			Int("depth", depth).
			Str("index", settings.IndexName).
			Msg("Pinecone batch too large, splitting")
		if err := p.sendBatch(ctx, host, settings, batch[:mid], depth+1); err != nil {
			return err
		}
		return p.sendBatch(ctx, host, settings, batch[mid:], depth+1)
	}

	return apperr.Newf(apperr.KindUpstream, "Pinecone upsert failed: %s", message)
}

type pineconeQueryRequest struct {
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	Namespace       string                 `json:"namespace,omitempty"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    *float64               `json:"score"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"matches"`
}

// Query runs a similarity search, restricted to the given dataset ids when
// provided.
func (p *PineconeStore) Query(ctx context.Context, queryVector []float32, embeddingModel string, topK int, settings *PineconeSettings, datasetIDs []string) ([]RetrievedContext, error) {
	info, err := p.describeIndex(ctx, settings)
	if err != nil {
		return nil, err
	}

	reqBody := pineconeQueryRequest{
		Vector:          queryVector,
		TopK:            topK,
		IncludeMetadata: true,
		Namespace:       settings.Namespace,
	}
	if len(datasetIDs) > 0 {
		reqBody.Filter = map[string]interface{}{
			"dataset_id": map[string]interface{}{"$in": datasetIDs},
		}
	}

	status, respBody, err := p.dataPlanePost(ctx, info.host, settings.APIKey, "/query", reqBody)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Pinecone query failed", err)
	}
	if status != http.StatusOK {
		return nil, apperr.Newf(apperr.KindUpstream, "Pinecone query failed: %s", upstreamMessage(respBody, status))
	}

	var parsed pineconeQueryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Pinecone returned malformed JSON", err)
	}

	results := make([]RetrievedContext, 0, len(parsed.Matches))
	for _, match := range parsed.Matches {
		text := ""
		if match.Metadata != nil {
			if v, ok := match.Metadata["chunk_text"].(string); ok {
				text = v
			} else if v, ok := match.Metadata["chunkText"].(string); ok {
				text = v
			}
		}
		results = append(results, RetrievedContext{
			Text:     text,
			Score:    match.Score,
			Metadata: match.Metadata,
		})
	}
	return results, nil
}

// dataPlanePost issues a POST against the index host.
func (p *PineconeStore) dataPlanePost(ctx context.Context, host, apiKey, path string, payload interface{}) (int, []byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", apiKey)
	req.Header.Set("X-Pinecone-Api-Version", pineconeAPIVersion)

	resp, err := p.httpClient.Do(req)
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

// upstreamMessage extracts an error message from a Pinecone response body.
func upstreamMessage(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	if len(body) > 0 {
		return strings.TrimSpace(string(body))
	}
	return fmt.Sprintf("status %d", status)
}

var _ Backend = (*PineconeStore)(nil)
