package embedding

import (
	"context"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
)

// Model is a public embedding model tag.
type Model string

const (
	ModelOpenAISmall Model = "openai-small"
	ModelOpenAILarge Model = "openai-large"
	ModelLocal       Model = "huggingface"
)

// modelSpec describes one embedding model: the provider model name and the
// output widths it supports. The first dimension is the default.
type modelSpec struct {
	providerModel string
	dimensions    []int
	hosted        bool
}

var modelSpecs = map[Model]modelSpec{
	ModelOpenAISmall: {
		providerModel: "openai/text-embedding-3-small",
		dimensions:    []int{1536, 512},
		hosted:        true,
	},
	ModelOpenAILarge: {
		providerModel: "openai/text-embedding-3-large",
		dimensions:    []int{3072, 1024, 256},
		hosted:        true,
	},
	ModelLocal: {
		providerModel: "sentence-transformers/all-MiniLM-L6-v2",
		dimensions:    []int{384},
		hosted:        false,
	},
}

// ParseModel validates an embedding model tag.
func ParseModel(s string) (Model, error) {
	m := Model(strings.TrimSpace(s))
	if _, ok := modelSpecs[m]; !ok {
		return "", apperr.Newf(apperr.KindUnsupported, "Unsupported embedding model '%s'", s)
	}
	return m, nil
}

// SupportedModels lists the public model tags.
func SupportedModels() []string {
	return []string{string(ModelOpenAISmall), string(ModelOpenAILarge), string(ModelLocal)}
}

// DefaultDimension returns the default output width for a model.
func DefaultDimension(model Model) int {
	return modelSpecs[model].dimensions[0]
}

// ResolveDimension validates a requested dimension against the model's
// supported widths. Zero selects the default.
func ResolveDimension(model Model, requested int) (int, error) {
	spec, ok := modelSpecs[model]
	if !ok {
		return 0, apperr.Newf(apperr.KindUnsupported, "Unsupported embedding model '%s'", model)
	}
	if requested == 0 {
		return spec.dimensions[0], nil
	}
	for _, d := range spec.dimensions {
		if d == requested {
			return d, nil
		}
	}
	return 0, apperr.Newf(apperr.KindValidation,
		"Embedding model '%s' does not support dimension %d", model, requested)
}

// ServiceConfig holds embedding service configuration.
type ServiceConfig struct {
	// Hosted is the FastRouter-backed client used for the OpenAI models.
	// Local serves the MiniLM-class model and may be nil when no local
	// endpoint is configured.
	Hosted    Embedder
	Local     Embedder
	BatchSize int
}

// Service routes embedding requests to the right provider and batches them.
type Service struct {
	hosted    Embedder
	local     Embedder
	batchSize int
	logger    *observability.Logger
}

// NewService creates the embedding service.
func NewService(cfg ServiceConfig, logger *observability.Logger) *Service {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Service{
		hosted:    cfg.Hosted,
		local:     cfg.Local,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Generate embeds the given texts with the requested model and dimension.
// Blank texts are dropped before batching; an all-blank input returns an
// empty result without touching the provider.
func (s *Service) Generate(ctx context.Context, model Model, dimension int, texts []string) ([][]float32, error) {
	spec, ok := modelSpecs[model]
	if !ok {
		return nil, apperr.Newf(apperr.KindUnsupported, "Unsupported embedding model '%s'", model)
	}

	dim, err := ResolveDimension(model, dimension)
	if err != nil {
		return nil, err
	}

	payload := make([]string, 0, len(texts))
	for _, t := range texts {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			payload = append(payload, trimmed)
		}
	}
	if len(payload) == 0 {
		return [][]float32{}, nil
	}

	provider := s.hosted
	requestDim := dim
	if !spec.hosted {
		provider = s.local
		// The local model has a fixed output width; the endpoint rejects a
		// dimensions parameter.
		requestDim = 0
	}
	if provider == nil {
		if spec.hosted {
			return nil, apperr.New(apperr.KindConfig, "FastRouter or OpenAI API key is not configured on the server")
		}
		return nil, apperr.Newf(apperr.KindUnsupported,
			"Embedding model '%s' is not enabled on this server", model)
	}

	embeddings := make([][]float32, 0, len(payload))
	for start := 0; start < len(payload); start += s.batchSize {
		end := start + s.batchSize
		if end > len(payload) {
			end = len(payload)
		}
		batch := payload[start:end]

		s.logger.Debug().
			Str("model", spec.providerModel).
			Int("batch", len(batch)).
			Msg("Requesting embeddings")

		vectors, err := provider.Embed(ctx, spec.providerModel, requestDim, batch)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, vectors...)
	}

	return embeddings, nil
}
