// Package ingest runs the embedding pipeline: it embeds prepared dataset
// chunks and persists the vectors. Datasets are processed independently
// so one failure never blocks the rest of the batch.
package ingest

import (
	"context"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

// DatasetPayload is one dataset queued for embedding, carrying the
// chunking parameters used during preprocessing.
type DatasetPayload struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	DatasetType  string          `json:"dataset_type"`
	ChunkSize    int             `json:"chunk_size"`
	ChunkOverlap int             `json:"chunk_overlap"`
	Chunks       []dataset.Chunk `json:"chunks"`
}

// Request is the embedding pipeline input.
type Request struct {
	EmbeddingModel string                        `json:"embedding_model"`
	VectorStore    string                        `json:"vector_store"`
	Datasets       []DatasetPayload              `json:"datasets"`
	Pinecone       *vectorstore.PineconeSettings `json:"-"`
}

// DatasetSummary reports one successfully embedded dataset.
type DatasetSummary struct {
	DatasetID       string `json:"dataset_id"`
	Label           string `json:"label"`
	VectorStore     string `json:"vector_store"`
	EmbeddingModel  string `json:"embedding_model"`
	ChunksProcessed int    `json:"chunks_processed"`
	ChunksEmbedded  int    `json:"chunks_embedded"`
}

// DatasetError reports one dataset that failed to embed.
type DatasetError struct {
	DatasetID string `json:"dataset_id"`
	Label     string `json:"label"`
	Message   string `json:"message"`
}

// Response is the embedding pipeline outcome.
type Response struct {
	Results []DatasetSummary `json:"results"`
	Errors  []DatasetError   `json:"errors"`
}

// Service executes the embedding pipeline.
type Service struct {
	embeddings *embedding.Service
	vectors    *vectorstore.Service
	logger     *observability.Logger
}

// NewService creates the ingest service.
func NewService(embeddings *embedding.Service, vectors *vectorstore.Service, logger *observability.Logger) *Service {
	return &Service{embeddings: embeddings, vectors: vectors, logger: logger}
}

// Run embeds every dataset in the request and upserts the vectors into
// the chosen store. Per-dataset failures land in the errors list; the
// returned error covers request-level validation only.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	model, err := embedding.ParseModel(req.EmbeddingModel)
	if err != nil {
		return Response{}, err
	}
	storeKind, err := vectorstore.ParseKind(req.VectorStore)
	if err != nil {
		return Response{}, err
	}
	if storeKind == vectorstore.KindPinecone && (req.Pinecone == nil || strings.TrimSpace(req.Pinecone.APIKey) == "") {
		return Response{}, apperr.New(apperr.KindValidation, "Pinecone configuration is required when vector_store is 'pinecone'")
	}
	if len(req.Datasets) == 0 {
		return Response{}, apperr.New(apperr.KindValidation, "At least one dataset is required")
	}

	resp := Response{Results: []DatasetSummary{}, Errors: []DatasetError{}}

	for _, payload := range req.Datasets {
		summary, err := s.embedDataset(ctx, payload, model, storeKind, req.Pinecone)
		if err != nil {
			message := "Failed to embed dataset"
			if kind := apperr.KindOf(err); kind != apperr.KindInternal {
				message = apperr.MessageOf(err)
			}
			s.logger.Warn().
				Err(err).
				Str("dataset", payload.ID).
				Str("vector_store", string(storeKind)).
				Str("embedding_model", string(model)).
				Msg("Embedding pipeline error")
			resp.Errors = append(resp.Errors, DatasetError{
				DatasetID: payload.ID,
				Label:     payload.Label,
				Message:   message,
			})
			continue
		}
		resp.Results = append(resp.Results, summary)
	}

	return resp, nil
}

// embedDataset processes one dataset end to end.
func (s *Service) embedDataset(ctx context.Context, payload DatasetPayload, model embedding.Model, storeKind vectorstore.Kind, pinecone *vectorstore.PineconeSettings) (DatasetSummary, error) {
	valid := make([]dataset.Chunk, 0, len(payload.Chunks))
	for _, chunk := range payload.Chunks {
		if strings.TrimSpace(chunk.Text) != "" {
			valid = append(valid, chunk)
		}
	}
	if len(valid) == 0 {
		return DatasetSummary{}, apperr.New(apperr.KindValidation, "Dataset does not contain any non-empty chunks")
	}

	texts := make([]string, 0, len(valid))
	for _, chunk := range valid {
		texts = append(texts, chunk.Text)
	}

	embeddings, err := s.embeddings.Generate(ctx, model, 0, texts)
	if err != nil {
		return DatasetSummary{}, err
	}
	if len(embeddings) != len(valid) {
		return DatasetSummary{}, apperr.New(apperr.KindUnprocessable, "Embedding count does not match chunk count")
	}

	ds := dataset.Dataset{
		ID:     payload.ID,
		Label:  payload.Label,
		Type:   payload.DatasetType,
		Chunks: valid,
	}

	written, err := s.vectors.Upsert(ctx, storeKind, ds, embeddings, string(model), pinecone)
	if err != nil {
		return DatasetSummary{}, err
	}

	return DatasetSummary{
		DatasetID:       payload.ID,
		Label:           payload.Label,
		VectorStore:     string(storeKind),
		EmbeddingModel:  string(model),
		ChunksProcessed: len(payload.Chunks),
		ChunksEmbedded:  written,
	}, nil
}
