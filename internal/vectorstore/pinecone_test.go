package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", ServiceName: "test"})
}

// fakePinecone serves both the control plane and the data plane.
type fakePinecone struct {
	t         *testing.T
	dimension int
	exists    bool

	mu            sync.Mutex
	upsertBatches [][]pineconeVector
	rejectOver    int // reject batches larger than this with "message length too large"
	queryRequests []pineconeQueryRequest
	queryResponse pineconeQueryResponse
}

func (f *fakePinecone) server() *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(f.t, r.Header.Get("Api-Key"))

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/indexes/test-index":
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"name":      "test-index",
				"dimension": f.dimension,
				"host":      srv.URL,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/vectors/upsert":
			var req pineconeUpsertRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
			if f.rejectOver > 0 && len(req.Vectors) > f.rejectOver {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"message":"Request Message length too large"}`)
				return
			}
			f.mu.Lock()
			f.upsertBatches = append(f.upsertBatches, req.Vectors)
			f.mu.Unlock()
			w.Write([]byte(`{"upsertedCount":` + fmt.Sprint(len(req.Vectors)) + `}`))
		case r.Method == http.MethodPost && r.URL.Path == "/query":
			var req pineconeQueryRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
			f.mu.Lock()
			f.queryRequests = append(f.queryRequests, req)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(f.queryResponse)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv
}

func testDataset(chunks int) (dataset.Dataset, [][]float32) {
	ds := dataset.Dataset{ID: "ds-1", Label: "Demo", Type: "csv"}
	var embeddings [][]float32
	for i := 0; i < chunks; i++ {
		ds.Chunks = append(ds.Chunks, dataset.Chunk{Order: i, Text: fmt.Sprintf("chunk %d", i)})
		embeddings = append(embeddings, []float32{float32(i), 1, 2})
	}
	return ds, embeddings
}

func TestPineconeUpsert(t *testing.T) {
	fake := &fakePinecone{t: t, dimension: 3, exists: true}
	srv := fake.server()
	defer srv.Close()

	store := NewPineconeStore(testLogger(), WithControlURL(srv.URL))
	ds, embeddings := testDataset(5)

	settings := &PineconeSettings{APIKey: "pk", IndexName: "test-index", Namespace: "ns"}
	count, err := store.Upsert(context.Background(), ds, embeddings, "openai-small", settings)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	require.Len(t, fake.upsertBatches, 1)
	first := fake.upsertBatches[0][0]
	assert.Equal(t, "ds-1::0", first.ID)
	assert.Equal(t, "ds-1", first.Metadata["dataset_id"])
	assert.Equal(t, "Demo", first.Metadata["dataset_label"])
	assert.Equal(t, "csv", first.Metadata["dataset_type"])
	assert.Equal(t, "openai-small", first.Metadata["embedding_model"])
	assert.Equal(t, "chunk 0", first.Metadata["chunk_text"])
}

func TestPineconeUpsertMissingIndex(t *testing.T) {
	fake := &fakePinecone{t: t, exists: false}
	srv := fake.server()
	defer srv.Close()

	store := NewPineconeStore(testLogger(), WithControlURL(srv.URL))
	ds, embeddings := testDataset(1)

	_, err := store.Upsert(context.Background(), ds, embeddings, "openai-small",
		&PineconeSettings{APIKey: "pk", IndexName: "test-index"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pinecone index 'test-index' does not exist")
}

func TestPineconeUpsertDimensionMismatch(t *testing.T) {
	fake := &fakePinecone{t: t, dimension: 1536, exists: true}
	srv := fake.server()
	defer srv.Close()

	store := NewPineconeStore(testLogger(), WithControlURL(srv.URL))
	ds, embeddings := testDataset(1) // width 3

	_, err := store.Upsert(context.Background(), ds, embeddings, "openai-small",
		&PineconeSettings{APIKey: "pk", IndexName: "test-index"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension 1536 does not match embedding dimension 3")
}

func TestPineconeUpsertSplitsOversizedBatches(t *testing.T) {
	fake := &fakePinecone{t: t, dimension: 3, exists: true, rejectOver: 2}
	srv := fake.server()
	defer srv.Close()

	store := NewPineconeStore(testLogger(), WithControlURL(srv.URL))
	ds, embeddings := testDataset(7)

	count, err := store.Upsert(context.Background(), ds, embeddings, "openai-small",
		&PineconeSettings{APIKey: "pk", IndexName: "test-index"})
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	// Every accepted batch fits the limit and all vectors arrive exactly once.
	seen := map[string]bool{}
	for _, batch := range fake.upsertBatches {
		assert.LessOrEqual(t, len(batch), 2)
		for _, v := range batch {
			assert.False(t, seen[v.ID], "duplicate vector %s", v.ID)
			seen[v.ID] = true
		}
	}
	assert.Len(t, seen, 7)
}

func TestPineconeQueryFilter(t *testing.T) {
	score := 0.87
	fake := &fakePinecone{t: t, dimension: 3, exists: true}
	fake.queryResponse = pineconeQueryResponse{}
	fake.queryResponse.Matches = append(fake.queryResponse.Matches, struct {
		ID       string                 `json:"id"`
		Score    *float64               `json:"score"`
		Metadata map[string]interface{} `json:"metadata"`
	}{
		ID:    "ds-1::0",
		Score: &score,
		Metadata: map[string]interface{}{
			"chunk_text": "hello",
			"dataset_id": "ds-1",
		},
	})
	srv := fake.server()
	defer srv.Close()

	store := NewPineconeStore(testLogger(), WithControlURL(srv.URL))
	results, err := store.Query(context.Background(), []float32{1, 2, 3}, "openai-small", 5,
		&PineconeSettings{APIKey: "pk", IndexName: "test-index"}, []string{"ds-1", "ds-2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Text)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 0.87, *results[0].Score, 1e-9)

	require.Len(t, fake.queryRequests, 1)
	req := fake.queryRequests[0]
	assert.Equal(t, 5, req.TopK)
	assert.True(t, req.IncludeMetadata)
	filter, ok := req.Filter["dataset_id"].(map[string]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t, []interface{}{"ds-1", "ds-2"}, filter["$in"])
}

func TestServiceClampAndDispatch(t *testing.T) {
	assert.Equal(t, 1, ClampTopK(0))
	assert.Equal(t, 1, ClampTopK(-5))
	assert.Equal(t, 30, ClampTopK(30))
	assert.Equal(t, 200, ClampTopK(500))
}

func TestServiceEmptyQueryVector(t *testing.T) {
	svc := NewService(nil, nil)
	results, err := svc.Query(context.Background(), KindPinecone, nil, "openai-small", 5,
		&PineconeSettings{APIKey: "pk"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestServicePineconeConfigMissing(t *testing.T) {
	svc := NewService(NewPineconeStore(testLogger()), nil)
	ds, embeddings := testDataset(1)

	_, err := svc.Upsert(context.Background(), KindPinecone, ds, embeddings, "openai-small", nil)
	require.Error(t, err)
	assert.Equal(t, "Pinecone configuration missing", apperr.MessageOf(err))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Pinecone ")
	require.NoError(t, err)
	assert.Equal(t, KindPinecone, k)

	k, err = ParseKind("chroma")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, k)

	_, err = ParseKind("qdrant")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupported, apperr.KindOf(err))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "krira__openai_small", CollectionName("openai-small"))
	assert.Equal(t, "krira__huggingface", CollectionName("huggingface"))
}

func TestVectorID(t *testing.T) {
	assert.Equal(t, "ds-1::7", VectorID("ds-1", 7))
}
