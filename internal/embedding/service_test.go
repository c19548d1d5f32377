package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", ServiceName: "test"})
}

// fakeEmbedder records calls and returns fixed-width vectors.
type fakeEmbedder struct {
	calls      [][]string
	model      string
	dimensions int
	width      int
	err        error
}

func (f *fakeEmbedder) Embed(ctx context.Context, model string, dimensions int, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	f.model = model
	f.dimensions = dimensions
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.width)
	}
	return out, nil
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel(" openai-small ")
	require.NoError(t, err)
	assert.Equal(t, ModelOpenAISmall, m)

	_, err = ParseModel("cohere")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupported, apperr.KindOf(err))
}

func TestResolveDimension(t *testing.T) {
	d, err := ResolveDimension(ModelOpenAISmall, 0)
	require.NoError(t, err)
	assert.Equal(t, 1536, d)

	d, err = ResolveDimension(ModelOpenAISmall, 512)
	require.NoError(t, err)
	assert.Equal(t, 512, d)

	d, err = ResolveDimension(ModelOpenAILarge, 0)
	require.NoError(t, err)
	assert.Equal(t, 3072, d)

	d, err = ResolveDimension(ModelLocal, 0)
	require.NoError(t, err)
	assert.Equal(t, 384, d)

	_, err = ResolveDimension(ModelOpenAISmall, 768)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateBatchesAndStrips(t *testing.T) {
	fake := &fakeEmbedder{width: 1536}
	svc := NewService(ServiceConfig{Hosted: fake, BatchSize: 2}, testLogger())

	texts := []string{" a ", "", "b", "  ", "c"}
	vectors, err := svc.Generate(context.Background(), ModelOpenAISmall, 0, texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// Blank entries drop before batching; batches of 2 then 1.
	require.Len(t, fake.calls, 2)
	assert.Equal(t, []string{"a", "b"}, fake.calls[0])
	assert.Equal(t, []string{"c"}, fake.calls[1])
	assert.Equal(t, "openai/text-embedding-3-small", fake.model)
	assert.Equal(t, 1536, fake.dimensions)
}

func TestGenerateAllBlank(t *testing.T) {
	fake := &fakeEmbedder{width: 1536}
	svc := NewService(ServiceConfig{Hosted: fake}, testLogger())

	vectors, err := svc.Generate(context.Background(), ModelOpenAISmall, 0, []string{"", "  "})
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, fake.calls)
}

func TestGenerateHostedMissingKey(t *testing.T) {
	svc := NewService(ServiceConfig{}, testLogger())

	_, err := svc.Generate(context.Background(), ModelOpenAISmall, 0, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestGenerateLocalDisabled(t *testing.T) {
	svc := NewService(ServiceConfig{Hosted: &fakeEmbedder{width: 8}}, testLogger())

	_, err := svc.Generate(context.Background(), ModelLocal, 0, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupported, apperr.KindOf(err))
}

func TestGenerateLocalOmitsDimensions(t *testing.T) {
	local := &fakeEmbedder{width: 384}
	svc := NewService(ServiceConfig{Local: local}, testLogger())

	vectors, err := svc.Generate(context.Background(), ModelLocal, 0, []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, 0, local.dimensions)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", local.model)
}

func TestClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 512, req.Dimensions)

		resp := embeddingResponse{Data: make([]embeddingData, len(req.Input))}
		// Return out of order to exercise index placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data[len(req.Input)-1-i] = embeddingData{
				Index:     i,
				Embedding: []float32{float32(i)},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), "openai/text-embedding-3-small", 512, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i)}, v)
	}
}

func TestClientEmbedShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{Data: []embeddingData{{Index: 0, Embedding: []float32{0.1}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "m", 0, []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "1 embeddings for 2 inputs")
}

func TestClientEmbedDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Right count, but one input slot is never filled.
		resp := embeddingResponse{Data: []embeddingData{
			{Index: 0, Embedding: []float32{0.1}},
			{Index: 0, Embedding: []float32{0.2}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "m", 0, []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "no embedding for input 1")
}

func TestClientEmbedUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"router unavailable"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "m", 0, []string{"a"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "router unavailable")
}
