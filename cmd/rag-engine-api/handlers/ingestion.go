package handlers

import (
	"net/http"

	"github.com/krira-ai/rag-engine/internal/ingest"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/verify"
)

// IngestionHandler serves the embedding pipeline.
type IngestionHandler struct {
	logger             *observability.Logger
	service            *ingest.Service
	defaultPineconeKey string
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(logger *observability.Logger, service *ingest.Service, defaultPineconeKey string) *IngestionHandler {
	return &IngestionHandler{logger: logger, service: service, defaultPineconeKey: defaultPineconeKey}
}

type embedRequest struct {
	EmbeddingModel string                  `json:"embedding_model"`
	VectorStore    string                  `json:"vector_store"`
	Datasets       []ingest.DatasetPayload `json:"datasets"`
	Pinecone       *verify.PineconeConfig  `json:"pinecone"`
}

// Embed handles POST /embed: embed pre-chunked datasets and upsert the
// vectors into the chosen store.
func (h *IngestionHandler) Embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp, err := h.service.Run(r.Context(), ingest.Request{
		EmbeddingModel: req.EmbeddingModel,
		VectorStore:    req.VectorStore,
		Datasets:       req.Datasets,
		Pinecone:       pineconeSettings(req.Pinecone, h.defaultPineconeKey),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
