// Package vectorstore persists and queries dataset embeddings. Two
// backends are supported: the managed Pinecone serverless index and an
// embedded sqlite-vec store (kept under the "chroma" tag for wire
// compatibility with older clients).
package vectorstore

import (
	"context"
	"strconv"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
)

// Kind identifies a vector store backend.
type Kind string

const (
	KindPinecone Kind = "pinecone"
	KindLocal    Kind = "chroma"
)

// ParseKind validates a vector store tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPinecone, KindLocal:
		return k, nil
	}
	return "", apperr.Newf(apperr.KindUnsupported, "Unsupported vector store '%s'", s)
}

// SupportedKinds lists the public vector store tags.
func SupportedKinds() []string {
	return []string{string(KindPinecone), string(KindLocal)}
}

// PineconeSettings carries per-request Pinecone credentials.
type PineconeSettings struct {
	APIKey    string
	IndexName string
	Namespace string
}

// RetrievedContext is one chunk returned by a similarity query. Score is
// nil when the backend did not report one; its scale is backend-specific.
type RetrievedContext struct {
	Text     string
	Score    *float64
	Metadata map[string]interface{}
}

// ClampTopK bounds a requested result count to [1, 200].
func ClampTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	if topK > 200 {
		return 200
	}
	return topK
}

// Backend is a single vector store implementation.
type Backend interface {
	Upsert(ctx context.Context, ds dataset.Dataset, embeddings [][]float32, embeddingModel string, pinecone *PineconeSettings) (int, error)
	Query(ctx context.Context, queryVector []float32, embeddingModel string, topK int, pinecone *PineconeSettings, datasetIDs []string) ([]RetrievedContext, error)
}

// Service routes vector operations to the configured backend.
type Service struct {
	pinecone Backend
	local    Backend
}

// NewService creates the vector store service. Either backend may be nil;
// requests for a missing backend fail with a config error.
func NewService(pinecone, local Backend) *Service {
	return &Service{pinecone: pinecone, local: local}
}

// Upsert persists embeddings and returns the number of vectors stored.
func (s *Service) Upsert(ctx context.Context, kind Kind, ds dataset.Dataset, embeddings [][]float32, embeddingModel string, pinecone *PineconeSettings) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}

	backend, err := s.backendFor(kind, pinecone)
	if err != nil {
		return 0, err
	}
	return backend.Upsert(ctx, ds, embeddings, embeddingModel, pinecone)
}

// Query retrieves the most relevant chunks for the given query vector.
func (s *Service) Query(ctx context.Context, kind Kind, queryVector []float32, embeddingModel string, topK int, pinecone *PineconeSettings, datasetIDs []string) ([]RetrievedContext, error) {
	if len(queryVector) == 0 {
		return []RetrievedContext{}, nil
	}

	backend, err := s.backendFor(kind, pinecone)
	if err != nil {
		return nil, err
	}
	return backend.Query(ctx, queryVector, embeddingModel, ClampTopK(topK), pinecone, cleanIDs(datasetIDs))
}

func (s *Service) backendFor(kind Kind, pinecone *PineconeSettings) (Backend, error) {
	switch kind {
	case KindPinecone:
		if pinecone == nil || strings.TrimSpace(pinecone.APIKey) == "" {
			return nil, apperr.New(apperr.KindValidation, "Pinecone configuration missing")
		}
		if s.pinecone == nil {
			return nil, apperr.New(apperr.KindConfig, "Pinecone backend is not enabled on this server")
		}
		return s.pinecone, nil
	case KindLocal:
		if s.local == nil {
			return nil, apperr.New(apperr.KindConfig, "Local vector store is not enabled on this server")
		}
		return s.local, nil
	}
	return nil, apperr.Newf(apperr.KindUnsupported, "Unsupported vector store '%s'", kind)
}

// CollectionName returns the local collection for an embedding model.
func CollectionName(embeddingModel string) string {
	return "krira__" + strings.ReplaceAll(embeddingModel, "-", "_")
}

// VectorID derives the deterministic id for a chunk.
func VectorID(datasetID string, order int) string {
	return datasetID + "::" + strconv.Itoa(order)
}

// cleanIDs trims dataset ids and drops blanks.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
