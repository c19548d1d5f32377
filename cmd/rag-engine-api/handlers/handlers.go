// Package handlers provides HTTP handlers for the RAG engine API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
	"github.com/krira-ai/rag-engine/internal/verify"
)

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a classified error to its HTTP status and a {detail}
// body. Unclassified errors never leak their message to the client.
func writeError(w http.ResponseWriter, logger *observability.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		logger.Warn().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, map[string]string{"detail": apperr.MessageOf(err)})
}

// decodeJSON parses the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "Invalid request body", err)
	}
	return nil
}

// pineconeSettings converts a wire-level Pinecone config into store
// settings, falling back to the server's default API key when the
// request omits one.
func pineconeSettings(cfg *verify.PineconeConfig, defaultAPIKey string) *vectorstore.PineconeSettings {
	if cfg == nil {
		return nil
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = defaultAPIKey
	}
	return &vectorstore.PineconeSettings{
		APIKey:    apiKey,
		IndexName: cfg.IndexName,
		Namespace: cfg.Namespace,
	}
}
