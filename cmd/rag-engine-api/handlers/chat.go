package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/chat"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/verify"
)

// ChatHandler serves the public chat endpoint.
type ChatHandler struct {
	logger             *observability.Logger
	verifier           verify.Verifier
	chat               *chat.Service
	defaultPineconeKey string
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(logger *observability.Logger, verifier verify.Verifier, chatSvc *chat.Service, defaultPineconeKey string) *ChatHandler {
	return &ChatHandler{logger: logger, verifier: verifier, chat: chatSvc, defaultPineconeKey: defaultPineconeKey}
}

type chatRequest struct {
	PipelineName   string                 `json:"pipeline_name"`
	Query          string                 `json:"query"`
	ConversationID string                 `json:"conversation_id"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type chatResponse struct {
	PipelineName    string   `json:"pipeline_name"`
	Answer          string   `json:"answer"`
	LatencyMs       int64    `json:"latency_ms"`
	ConversationID  string   `json:"conversation_id,omitempty"`
	ContextSnippets []string `json:"context_snippets,omitempty"`
}

// bearerToken extracts the API key from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperr.New(apperr.KindAuth, "Missing Authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperr.New(apperr.KindAuth, "Invalid Authorization header")
	}
	return token, nil
}

func (h *ChatHandler) validate(req chatRequest) error {
	if len(req.PipelineName) < 4 {
		return apperr.New(apperr.KindValidation, "pipeline_name must be at least 4 characters")
	}
	if strings.TrimSpace(req.Query) == "" {
		return apperr.New(apperr.KindValidation, "query must not be empty")
	}
	if len(req.ConversationID) > 64 {
		return apperr.New(apperr.KindValidation, "conversation_id must be at most 64 characters")
	}
	return nil
}

// Chat handles POST /v1/chat: verify the caller's API key, answer the
// question through the pipeline's configuration, and track usage.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, err := bearerToken(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validate(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	pipeline, err := h.verifier.VerifyAPIKey(ctx, apiKey, req.PipelineName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if pipeline.LLM == nil {
		writeError(w, h.logger, apperr.New(apperr.KindValidation, "Pipeline is not configured with an LLM"))
		return
	}

	chatReq := chat.Request{
		Provider:     pipeline.LLM.Provider,
		Model:        pipeline.LLM.Model,
		SystemPrompt: pipeline.LLM.SystemPrompt,
		TopK:         pipeline.LLM.TopK,
		Question:     req.Query,
	}
	if chatReq.TopK < 1 {
		chatReq.TopK = chat.DefaultTopK
	}
	if emb := pipeline.Embedding; emb != nil {
		chatReq.VectorStore = emb.VectorStore
		chatReq.EmbeddingModel = emb.Model
		chatReq.EmbeddingDimension = emb.Dimension
		chatReq.DatasetIDs = emb.DatasetIDs
		chatReq.Pinecone = pineconeSettings(emb.Pinecone, h.defaultPineconeKey)
	}

	start := time.Now()
	result, err := h.chat.Answer(ctx, chatReq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	latency := time.Since(start).Milliseconds()

	if err := h.verifier.TrackUsage(ctx, apiKey, req.PipelineName, result.Usage.Billable()); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		PipelineName:    req.PipelineName,
		Answer:          result.Answer,
		LatencyMs:       latency,
		ConversationID:  req.ConversationID,
		ContextSnippets: result.ContextSnippets,
	})
}
