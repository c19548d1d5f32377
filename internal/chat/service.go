// Package chat orchestrates grounded question answering: embed the
// question, retrieve matching chunks, and ask the configured model.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/cache"
	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/prompt"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

// DefaultTopK is used when a pipeline does not configure retrieval depth.
const DefaultTopK = 30

// Request describes one chat invocation.
type Request struct {
	Provider           string
	Model              string
	SystemPrompt       string
	VectorStore        string
	EmbeddingModel     string
	EmbeddingDimension int
	DatasetIDs         []string
	TopK               int
	Question           string
	Pinecone           *vectorstore.PineconeSettings
}

// Response is the chat outcome.
type Response struct {
	Answer          string
	Provider        gateway.Provider
	Model           string
	ContextSnippets []string
	Contexts        []vectorstore.RetrievedContext
	Usage           gateway.Usage
}

// ServiceConfig wires the chat service's dependencies. Cache is optional
// and, when present, holds question embeddings.
type ServiceConfig struct {
	Gateway    gateway.Caller
	Embeddings *embedding.Service
	Vectors    *vectorstore.Service
	Cache      cache.Client
	CacheTTL   time.Duration
	MaxTokens  int
}

// Service answers questions against ingested datasets.
type Service struct {
	gateway    gateway.Caller
	embeddings *embedding.Service
	vectors    *vectorstore.Service
	cache      cache.Client
	cacheTTL   time.Duration
	maxTokens  int
	logger     *observability.Logger
}

// NewService creates the chat service.
func NewService(cfg ServiceConfig, logger *observability.Logger) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		gateway:    cfg.Gateway,
		embeddings: cfg.Embeddings,
		vectors:    cfg.Vectors,
		cache:      cfg.Cache,
		cacheTTL:   ttl,
		maxTokens:  cfg.MaxTokens,
		logger:     logger,
	}
}

// Answer runs the public chat flow. Retrieval requires a vector store, an
// embedding model, and at least one dataset id; without all three the
// model answers from an empty context. Retrieval failures are logged and
// the chat proceeds without context.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	provider, err := gateway.ParseProvider(req.Provider)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, apperr.New(apperr.KindValidation, "Model identifier is required for chat")
	}

	datasetIDs := cleanIDs(req.DatasetIDs)

	var embeddingModel embedding.Model
	var storeKind vectorstore.Kind
	retrievalConfigured := len(datasetIDs) > 0 && strings.TrimSpace(req.EmbeddingModel) != "" && strings.TrimSpace(req.VectorStore) != ""
	if retrievalConfigured {
		embeddingModel, err = embedding.ParseModel(req.EmbeddingModel)
		if err != nil {
			return Response{}, err
		}
		storeKind, err = vectorstore.ParseKind(req.VectorStore)
		if err != nil {
			return Response{}, err
		}
	}

	contextText := ""
	var snippets []string
	var contexts []vectorstore.RetrievedContext

	if retrievalConfigured {
		topK := req.TopK
		if topK < 1 {
			topK = 1
		}

		retrieved, err := s.retrieve(ctx, storeKind, embeddingModel, req.EmbeddingDimension, req.Question, topK, datasetIDs, req.Pinecone)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Context retrieval failed; answering without context")
		} else {
			contexts = retrieved
			snippets = prompt.ContextSnippets(retrieved)
			contextText = prompt.BuildContextWindow(retrieved)
		}
	}

	result, err := s.gateway.Chat(ctx, gateway.ChatRequest{
		Model:     req.Model,
		System:    prompt.SystemMessage(req.SystemPrompt),
		User:      prompt.UserMessage(req.Question, contextText),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return Response{}, err
	}

	return Response{
		Answer:          result.Text,
		Provider:        provider,
		Model:           req.Model,
		ContextSnippets: snippets,
		Contexts:        contexts,
		Usage:           result.Usage,
	}, nil
}

// ContextPreview is one retrieved chunk echoed by TestConfiguration.
type ContextPreview struct {
	Text     string                 `json:"text"`
	Score    *float64               `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// TestResult reports a configuration test run.
type TestResult struct {
	Question           string           `json:"question"`
	Answer             string           `json:"answer"`
	ContextChunksFound int              `json:"context_chunks_found"`
	ModelUsed          string           `json:"model_used"`
	Provider           gateway.Provider `json:"provider"`
	Context            []ContextPreview `json:"context"`
}

const maxContextPreview = 5

// TestConfiguration exercises a pipeline configuration end to end with a
// sample question. Unlike Answer, retrieval failures here are fatal so
// misconfigurations surface immediately.
func (s *Service) TestConfiguration(ctx context.Context, req Request) (TestResult, error) {
	provider, err := gateway.ParseProvider(req.Provider)
	if err != nil {
		return TestResult{}, err
	}

	embeddingModel, err := embedding.ParseModel(req.EmbeddingModel)
	if err != nil {
		return TestResult{}, err
	}
	storeKind, err := vectorstore.ParseKind(req.VectorStore)
	if err != nil {
		return TestResult{}, err
	}

	topK := req.TopK
	if topK < 1 {
		topK = 1
	}

	contexts, err := s.retrieve(ctx, storeKind, embeddingModel, req.EmbeddingDimension, req.Question, topK, cleanIDs(req.DatasetIDs), req.Pinecone)
	if err != nil {
		return TestResult{}, err
	}

	result, err := s.gateway.Chat(ctx, gateway.ChatRequest{
		Model:     req.Model,
		System:    prompt.SystemMessage(req.SystemPrompt),
		User:      prompt.UserMessage(req.Question, prompt.BuildContextWindow(contexts)),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return TestResult{}, err
	}

	preview := make([]ContextPreview, 0, maxContextPreview)
	for _, chunk := range contexts {
		if len(preview) >= maxContextPreview {
			break
		}
		preview = append(preview, ContextPreview{
			Text:     chunk.Text,
			Score:    chunk.Score,
			Metadata: map[string]interface{}{},
		})
	}

	return TestResult{
		Question:           req.Question,
		Answer:             result.Text,
		ContextChunksFound: len(contexts),
		ModelUsed:          req.Model,
		Provider:           provider,
		Context:            preview,
	}, nil
}

// RetrieveContexts embeds a question and queries the vector store. The
// evaluation engine reuses this for per-row retrieval.
func (s *Service) RetrieveContexts(ctx context.Context, storeKind vectorstore.Kind, model embedding.Model, dimension int, question string, topK int, datasetIDs []string, pinecone *vectorstore.PineconeSettings) ([]vectorstore.RetrievedContext, error) {
	return s.retrieve(ctx, storeKind, model, dimension, question, topK, datasetIDs, pinecone)
}

func (s *Service) retrieve(ctx context.Context, storeKind vectorstore.Kind, model embedding.Model, dimension int, question string, topK int, datasetIDs []string, pinecone *vectorstore.PineconeSettings) ([]vectorstore.RetrievedContext, error) {
	vector, err := s.questionVector(ctx, model, dimension, question)
	if err != nil {
		return nil, err
	}
	return s.vectors.Query(ctx, storeKind, vector, string(model), topK, pinecone, datasetIDs)
}

// questionVector embeds the question, consulting the cache first.
func (s *Service) questionVector(ctx context.Context, model embedding.Model, dimension int, question string) ([]float32, error) {
	dim, err := embedding.ResolveDimension(model, dimension)
	if err != nil {
		return nil, err
	}

	key := cache.EmbeddingKey(string(model), dim, question)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var cached []float32
			if err := json.Unmarshal(data, &cached); err == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	vectors, err := s.embeddings.Generate(ctx, model, dim, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	if s.cache != nil {
		if data, err := json.Marshal(vectors[0]); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				s.logger.Debug().Err(err).Msg("Embedding cache write failed")
			}
		}
	}
	return vectors[0], nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
