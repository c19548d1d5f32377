package verify

import (
	"context"
	"encoding/json"
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

func TestVerifyAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/service/verify", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-service-key"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "key-123", payload["apiKey"])
		assert.Equal(t, "support-bot", payload["pipelineName"])

		w.Write([]byte(`{
			"pipeline": {
				"llm": {"provider": "openai", "model": "openai/gpt-5", "systemPrompt": "You help.", "topK": 10},
				"embedding": {
					"vectorStore": "pinecone",
					"model": "openai-small",
					"dimension": 512,
					"datasetIds": ["ds-1"],
					"pineconeConfig": {"apiKey": "pk", "indexName": "idx", "namespace": "ns"}
				}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL + "/service/verify/", ServiceSecret: "secret"}, testLogger())
	pipeline, err := client.VerifyAPIKey(context.Background(), "key-123", "support-bot")
	require.NoError(t, err)
	require.NotNil(t, pipeline.LLM)
	assert.Equal(t, "openai", pipeline.LLM.Provider)
	assert.Equal(t, 10, pipeline.LLM.TopK)
	require.NotNil(t, pipeline.Embedding)
	assert.Equal(t, []string{"ds-1"}, pipeline.Embedding.DatasetIDs)
	require.NotNil(t, pipeline.Embedding.Pinecone)
	assert.Equal(t, "pk", pipeline.Embedding.Pinecone.APIKey)
	assert.Equal(t, "idx", pipeline.Embedding.Pinecone.IndexName)
}

func TestVerifyAPIKeyLegacyBotRoot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bot": {"llm": {"provider": "glm", "model": "z-ai/glm-4.6"}}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL, ServiceSecret: "secret"}, testLogger())
	pipeline, err := client.VerifyAPIKey(context.Background(), "k", "p")
	require.NoError(t, err)
	require.NotNil(t, pipeline.LLM)
	assert.Equal(t, "glm", pipeline.LLM.Provider)
}

func TestVerifyAPIKeySnakeCasePinecone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pipeline": {"embedding": {"pineconeConfig": {"api_key": "pk2", "index_name": "idx2"}}}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL, ServiceSecret: "secret"}, testLogger())
	pipeline, err := client.VerifyAPIKey(context.Background(), "k", "p")
	require.NoError(t, err)
	require.NotNil(t, pipeline.Embedding.Pinecone)
	assert.Equal(t, "pk2", pipeline.Embedding.Pinecone.APIKey)
	assert.Equal(t, "idx2", pipeline.Embedding.Pinecone.IndexName)
}

func TestVerifyAPIKeyRejectionPropagatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "API key does not match this pipeline"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL, ServiceSecret: "secret"}, testLogger())
	_, err := client.VerifyAPIKey(context.Background(), "k", "p")
	require.Error(t, err)
	assert.Equal(t, "API key does not match this pipeline", apperr.MessageOf(err))
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(err))
}

func TestVerifyAPIKeyMissingSecret(t *testing.T) {
	client := NewClient(ClientConfig{VerificationURL: "http://localhost:1"}, testLogger())
	_, err := client.VerifyAPIKey(context.Background(), "k", "p")
	require.Error(t, err)
	assert.Equal(t, "SERVICE_API_SECRET is not configured", apperr.MessageOf(err))
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestVerifyAPIKeyBackendUnreachable(t *testing.T) {
	client := NewClient(ClientConfig{VerificationURL: "http://127.0.0.1:1", ServiceSecret: "secret"}, testLogger())
	_, err := client.VerifyAPIKey(context.Background(), "k", "p")
	require.Error(t, err)
	assert.Equal(t, "Unable to verify API key", apperr.MessageOf(err))
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestTrackUsage(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL + "/service/verify", ServiceSecret: "secret"}, testLogger())
	err := client.TrackUsage(context.Background(), "k", "p", 17)
	require.NoError(t, err)
	assert.Equal(t, "/service/track-usage", path)
	assert.Equal(t, float64(17), payload["tokens"])
}

func TestTrackUsageLimitReached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message": "Monthly request limit reached"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{VerificationURL: srv.URL + "/service/verify", ServiceSecret: "secret"}, testLogger())
	err := client.TrackUsage(context.Background(), "k", "p", 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPayment, apperr.KindOf(err))
	assert.Equal(t, "Monthly request limit reached", apperr.MessageOf(err))
}

func TestTrackUsageFailuresSwallowed(t *testing.T) {
	client := NewClient(ClientConfig{VerificationURL: "http://127.0.0.1:1/verify", ServiceSecret: "secret"}, testLogger())
	assert.NoError(t, client.TrackUsage(context.Background(), "k", "p", 1))

	// Unconfigured secret disables tracking entirely.
	unconfigured := NewClient(ClientConfig{VerificationURL: "http://127.0.0.1:1/verify"}, testLogger())
	assert.NoError(t, unconfigured.TrackUsage(context.Background(), "k", "p", 1))
}
