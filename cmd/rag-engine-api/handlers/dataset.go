package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/observability"
)

// DatasetHandler serves dataset upload and chunking.
type DatasetHandler struct {
	logger *observability.Logger
	loader *dataset.Loader
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(logger *observability.Logger, loader *dataset.Loader) *DatasetHandler {
	return &DatasetHandler{logger: logger, loader: loader}
}

type uploadDatasetRequest struct {
	DatasetType  string   `json:"dataset_type"`
	ChunkSize    *int     `json:"chunk_size"`
	ChunkOverlap *int     `json:"chunk_overlap"`
	FilePath     string   `json:"file_path"`
	FileContent  string   `json:"file_content"`
	URLs         []string `json:"urls"`
	FileName     string   `json:"file_name"`
}

type uploadDatasetResponse struct {
	DatasetType  string          `json:"dataset_type"`
	ChunkSize    int             `json:"chunk_size"`
	ChunkOverlap int             `json:"chunk_overlap"`
	TotalChunks  int             `json:"total_chunks"`
	Chunks       []dataset.Chunk `json:"chunks"`
}

// Upload handles POST /uploaddataset: load the source, chunk it, and
// return the chunks without embedding anything.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	opts := dataset.DefaultChunkingOptions()
	if req.ChunkSize != nil && *req.ChunkSize != 0 {
		opts.ChunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil && *req.ChunkOverlap != 0 {
		opts.ChunkOverlap = *req.ChunkOverlap
	}

	filePath := req.FilePath
	if strings.TrimSpace(req.FileContent) != "" {
		tmp, err := h.loader.MaterializeContent(req.FileContent, req.DatasetType)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		defer os.Remove(tmp)
		filePath = tmp
	}

	chunks, err := h.loader.LoadAndChunk(r.Context(), req.DatasetType, opts, filePath, req.URLs)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Error().Err(err).Str("dataset_type", req.DatasetType).Msg("Dataset processing failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to process dataset"})
			return
		}
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadDatasetResponse{
		DatasetType:  req.DatasetType,
		ChunkSize:    opts.ChunkSize,
		ChunkOverlap: opts.ChunkOverlap,
		TotalChunks:  len(chunks),
		Chunks:       chunks,
	})
}
