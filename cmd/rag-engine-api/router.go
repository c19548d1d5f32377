// Package main provides the API router setup.
package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/krira-ai/rag-engine/cmd/rag-engine-api/handlers"
	"github.com/krira-ai/rag-engine/cmd/rag-engine-api/middleware"
	"github.com/krira-ai/rag-engine/internal/cache"
	"github.com/krira-ai/rag-engine/internal/chat"
	"github.com/krira-ai/rag-engine/internal/config"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/eval"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/ingest"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
	"github.com/krira-ai/rag-engine/internal/verify"
)

// NewRouter builds every service from the configuration and wires the
// HTTP routes.
func NewRouter(logger *observability.Logger, cfg *config.Config) (http.Handler, error) {
	loader, err := dataset.NewLoader(cfg.Storage.UploadsDirectory, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset loader: %w", err)
	}

	hosted, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  cfg.FastRouter.APIKey,
		BaseURL: cfg.FastRouter.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	var local embedding.Embedder
	if cfg.Embedding.LocalURL != "" {
		localClient, err := embedding.NewClient(embedding.ClientConfig{BaseURL: cfg.Embedding.LocalURL})
		if err != nil {
			return nil, fmt.Errorf("local embedding client: %w", err)
		}
		local = localClient
	}

	embeddings := embedding.NewService(embedding.ServiceConfig{
		Hosted:    hosted,
		Local:     local,
		BatchSize: cfg.Embedding.BatchSize,
	}, logger)

	localStore, err := vectorstore.NewLocalStore(cfg.Storage.VectorStoreDirectory, logger)
	if err != nil {
		return nil, fmt.Errorf("local vector store: %w", err)
	}
	vectors := vectorstore.NewService(vectorstore.NewPineconeStore(logger), localStore)

	gatewayClient, err := gateway.NewClient(gateway.ClientConfig{
		APIKey:  cfg.FastRouter.APIKey,
		BaseURL: cfg.FastRouter.BaseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}

	var cacheClient cache.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.Cache.RedisURL, "")
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable; using in-memory embedding cache")
			cacheClient = cache.NewMemoryClient(0)
		} else {
			cacheClient = redisClient
		}
	} else {
		cacheClient = cache.NewMemoryClient(0)
	}

	chatSvc := chat.NewService(chat.ServiceConfig{
		Gateway:    gatewayClient,
		Embeddings: embeddings,
		Vectors:    vectors,
		Cache:      cacheClient,
		CacheTTL:   cfg.Cache.TTL,
		MaxTokens:  cfg.FastRouter.MaxTokens,
	}, logger)

	ingestSvc := ingest.NewService(embeddings, vectors, logger)

	evalSvc := eval.NewService(eval.ServiceConfig{
		Gateway:      gatewayClient,
		Embeddings:   embeddings,
		Vectors:      vectors,
		AllowedRoots: cfg.EvaluationRoots(),
		Concurrency:  cfg.Evaluation.Concurrency,
		MaxTokens:    cfg.FastRouter.MaxTokens,
	}, logger)

	verifier := verify.NewClient(verify.ClientConfig{
		VerificationURL: cfg.Verification.URL,
		ServiceSecret:   cfg.Verification.ServiceSecret,
	}, logger)

	datasetHandler := handlers.NewDatasetHandler(logger, loader)
	ingestionHandler := handlers.NewIngestionHandler(logger, ingestSvc, cfg.Pinecone.APIKey)
	llmHandler := handlers.NewLLMHandler(logger, chatSvc, evalSvc, cfg.Pinecone.APIKey)
	chatHandler := handlers.NewChatHandler(logger, verifier, chatSvc, cfg.Pinecone.APIKey)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","environment":%q}`, cfg.Environment)
	})

	r.Post("/uploaddataset", datasetHandler.Upload)
	r.Post("/embed", ingestionHandler.Embed)

	r.Route("/api/llm", func(r chi.Router) {
		r.Get("/models", llmHandler.Models)
		r.Post("/test", llmHandler.Test)
		r.Post("/evaluate", llmHandler.Evaluate)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", chatHandler.Chat)
	})

	return r, nil
}
