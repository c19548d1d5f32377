package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/chat"
	"github.com/krira-ai/rag-engine/internal/eval"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/verify"
)

// LLMHandler serves model listing, configuration testing, and evaluation.
type LLMHandler struct {
	logger             *observability.Logger
	chat               *chat.Service
	eval               *eval.Service
	defaultPineconeKey string
}

// NewLLMHandler creates a new LLM handler.
func NewLLMHandler(logger *observability.Logger, chatSvc *chat.Service, evalSvc *eval.Service, defaultPineconeKey string) *LLMHandler {
	return &LLMHandler{logger: logger, chat: chatSvc, eval: evalSvc, defaultPineconeKey: defaultPineconeKey}
}

// Models handles GET /api/llm/models.
func (h *LLMHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gateway.ListModels())
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = []string{single}
	return nil
}

type testRequest struct {
	Provider       string                 `json:"provider"`
	ModelID        string                 `json:"modelId"`
	SystemPrompt   string                 `json:"systemPrompt"`
	EmbeddingModel string                 `json:"embeddingModel"`
	VectorStore    string                 `json:"vectorStore"`
	DatasetIDs     stringList             `json:"datasetIds"`
	TopK           int                    `json:"topK"`
	Pinecone       *verify.PineconeConfig `json:"pinecone"`
	Question       string                 `json:"question"`
}

// Test handles POST /api/llm/test: run one sample question through the
// full pipeline configuration.
func (h *LLMHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Provider == "" || req.ModelID == "" || req.EmbeddingModel == "" || req.VectorStore == "" || req.Question == "" {
		writeError(w, h.logger, apperr.New(apperr.KindValidation,
			"Missing required parameters: provider, modelId, embeddingModel, vectorStore, question"))
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = chat.DefaultTopK
	}

	result, err := h.chat.TestConfiguration(r.Context(), chat.Request{
		Provider:       req.Provider,
		Model:          req.ModelID,
		SystemPrompt:   req.SystemPrompt,
		VectorStore:    req.VectorStore,
		EmbeddingModel: req.EmbeddingModel,
		DatasetIDs:     req.DatasetIDs,
		TopK:           topK,
		Question:       req.Question,
		Pinecone:       pineconeSettings(req.Pinecone, h.defaultPineconeKey),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type evaluateRequest struct {
	Provider         string                 `json:"provider"`
	ModelID          string                 `json:"modelId"`
	SystemPrompt     string                 `json:"systemPrompt"`
	EmbeddingModel   string                 `json:"embeddingModel"`
	VectorStore      string                 `json:"vectorStore"`
	DatasetIDs       stringList             `json:"datasetIds"`
	TopK             int                    `json:"topK"`
	CSVPath          string                 `json:"csvPath"`
	CSVContent       string                 `json:"csvContent"`
	OriginalFilename string                 `json:"originalFilename"`
	Pinecone         *verify.PineconeConfig `json:"pinecone"`
}

// Evaluate handles POST /api/llm/evaluate: score the configuration
// against a labeled CSV.
func (h *LLMHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = chat.DefaultTopK
	}

	datasetIDs := make([]string, 0, len(req.DatasetIDs))
	for _, id := range req.DatasetIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			datasetIDs = append(datasetIDs, trimmed)
		}
	}

	report, err := h.eval.Run(r.Context(), eval.Request{
		Provider:         req.Provider,
		Model:            req.ModelID,
		SystemPrompt:     req.SystemPrompt,
		EmbeddingModel:   req.EmbeddingModel,
		VectorStore:      req.VectorStore,
		DatasetIDs:       datasetIDs,
		TopK:             topK,
		CSVPath:          req.CSVPath,
		CSVContent:       req.CSVContent,
		OriginalFilename: req.OriginalFilename,
		Pinecone:         pineconeSettings(req.Pinecone, h.defaultPineconeKey),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
