package eval

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/prompt"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", ServiceName: "test"})
}

// fakeGateway answers pipeline questions and returns canned judge JSON
// for scoring calls, which carry the evaluation system prompt.
type fakeGateway struct {
	mu         sync.Mutex
	judgeJSON  map[string]string // keyed by substring of the judge user message
	judgeCalls int
}

func (f *fakeGateway) Chat(_ context.Context, req gateway.ChatRequest) (gateway.ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.System == prompt.EvaluationSystemPrompt {
		f.judgeCalls++
		for needle, reply := range f.judgeJSON {
			if strings.Contains(req.User, needle) {
				return gateway.ChatResult{Text: reply}, nil
			}
		}
		return gateway.ChatResult{Text: `{"verdict": "correct", "evaluation_score": 90}`}, nil
	}
	return gateway.ChatResult{Text: "generated answer"}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string, _ int, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeBackend struct{}

func (fakeBackend) Upsert(context.Context, dataset.Dataset, [][]float32, string, *vectorstore.PineconeSettings) (int, error) {
	return 0, nil
}

func (fakeBackend) Query(context.Context, []float32, string, int, *vectorstore.PineconeSettings, []string) ([]vectorstore.RetrievedContext, error) {
	return []vectorstore.RetrievedContext{{Text: "relevant chunk"}}, nil
}

func newTestService(t *testing.T, gw gateway.Caller, root string) *Service {
	t.Helper()
	return NewService(ServiceConfig{
		Gateway:      gw,
		Embeddings:   embedding.NewService(embedding.ServiceConfig{Hosted: fakeEmbedder{}}, testLogger()),
		Vectors:      vectorstore.NewService(nil, fakeBackend{}),
		AllowedRoots: []string{root},
		JudgeModel:   "openai/gpt-5",
		Concurrency:  3,
		MaxTokens:    512,
	}, testLogger())
}

func evalRequest(csvPath string) Request {
	return Request{
		Provider:       "openai",
		Model:          "openai/gpt-5",
		EmbeddingModel: "openai-small",
		VectorStore:    "chroma",
		DatasetIDs:     []string{"ds-1"},
		TopK:           10,
		CSVPath:        csvPath,
	}
}

func TestRunProducesReport(t *testing.T) {
	root := t.TempDir()
	path := writeCSV(t, root, "eval.csv",
		"Sr No,Input,Output\n1,First question about alpha,alpha\n2,Second question about beta,beta\n3,Third question about gamma,gamma\n")

	gw := &fakeGateway{judgeJSON: map[string]string{
		"alpha": `{"verdict": "correct", "accuracy": 95, "evaluation_score": 90, "faithfulness": 100, "metric_breakdown": {"accuracy": "Exact match."}}`,
		"beta":  `{"verdict": "partial", "accuracy": 60, "evaluation_score": 55, "faithfulness": 80}`,
		"gamma": `{"verdict": "incorrect", "accuracy": 10, "evaluation_score": 5, "faithfulness": 20}`,
	}}

	svc := newTestService(t, gw, root)
	report, err := svc.Run(context.Background(), evalRequest(path))
	require.NoError(t, err)

	require.Len(t, report.Rows, 3)
	assert.Equal(t, 3, gw.judgeCalls)

	// Row order follows the CSV despite concurrent execution.
	assert.Equal(t, "1", report.Rows[0].QuestionNumber)
	assert.Equal(t, "correct", report.Rows[0].Verdict)
	assert.Equal(t, 90.0, report.Rows[0].LLMScore)
	assert.Equal(t, []string{"relevant chunk"}, report.Rows[0].ContextSnippets)
	assert.Equal(t, "partial", report.Rows[1].Verdict)
	assert.Equal(t, "incorrect", report.Rows[2].Verdict)

	// Headline accuracy comes from verdict counts: 1 of 3 correct.
	assert.Equal(t, 33.3, report.Metrics.Accuracy)
	assert.Equal(t, 50.0, report.Metrics.EvaluationScore) // mean(90, 55, 5)
	assert.Equal(t, 66.7, report.Metrics.Faithfulness)    // mean(100, 80, 20)

	assert.Contains(t, report.Justifications["accuracy"], "Average accuracy 33.3% across 3 examples.")
	assert.Contains(t, report.Justifications["accuracy"], "Lowest score 10.0% on example #3.")
	assert.Contains(t, report.Justifications["accuracy"], "Exact match.")
	assert.Equal(t, "No evaluation data available.", report.Justifications["contextRecall"])

	assert.Equal(t, "eval.csv", report.Source.CSV)
	assert.Equal(t, "eval.csv", report.Source.Filename)
	assert.Equal(t, 3, report.Source.Total)
	assert.Equal(t, "openai", report.Source.Provider)
}

func TestRunValidation(t *testing.T) {
	root := t.TempDir()
	svc := newTestService(t, &fakeGateway{}, root)

	_, err := svc.Run(context.Background(), Request{Provider: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported provider 'nope'")

	req := evalRequest("x.csv")
	req.Model = ""
	_, err = svc.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "Model identifier is required for evaluation", apperr.MessageOf(err))

	req = evalRequest("x.csv")
	req.DatasetIDs = []string{"  "}
	_, err = svc.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "At least one dataset must be selected for evaluation", apperr.MessageOf(err))

	req = evalRequest("")
	_, err = svc.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "Evaluation CSV path or content must be provided", apperr.MessageOf(err))
}

func TestRunEmptyCSV(t *testing.T) {
	root := t.TempDir()
	path := writeCSV(t, root, "eval.csv", "input,output\n")

	svc := newTestService(t, &fakeGateway{}, root)
	_, err := svc.Run(context.Background(), evalRequest(path))
	require.Error(t, err)
	assert.Equal(t, "Evaluation CSV is empty; add at least one row", apperr.MessageOf(err))
}

func TestRunJudgeParseFailureAborts(t *testing.T) {
	root := t.TempDir()
	path := writeCSV(t, root, "eval.csv", "input,output\nquestion about alpha,alpha\n")

	gw := &fakeGateway{judgeJSON: map[string]string{"alpha": "no json at all"}}
	svc := newTestService(t, gw, root)

	_, err := svc.Run(context.Background(), evalRequest(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evaluator response did not contain a JSON object")
}

func TestRunSingleRowJustificationSingular(t *testing.T) {
	root := t.TempDir()
	path := writeCSV(t, root, "eval.csv", "input,output\nonly question here padded,only answer\n")

	svc := newTestService(t, &fakeGateway{}, root)
	report, err := svc.Run(context.Background(), evalRequest(path))
	require.NoError(t, err)
	assert.Contains(t, report.Justifications["evaluationScore"], "across 1 example.")
	assert.Equal(t, 100.0, report.Metrics.Accuracy)
}

func TestRunTemporaryCSVRemoved(t *testing.T) {
	root := t.TempDir()
	svc := newTestService(t, &fakeGateway{}, root)

	req := evalRequest("")
	req.CSVContent = encodeCSV("input,output\nquestion padded for answer,ans\n")
	req.OriginalFilename = "uploaded.csv"

	report, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "uploaded.csv", report.Source.Filename)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary CSV should be removed")
}

func TestRunProgressCallback(t *testing.T) {
	root := t.TempDir()
	path := writeCSV(t, root, "eval.csv", "input,output\nfirst question padded,a\nsecond question padded,b\n")

	var mu sync.Mutex
	var completions []int
	svc := NewService(ServiceConfig{
		Gateway:      &fakeGateway{},
		Embeddings:   embedding.NewService(embedding.ServiceConfig{Hosted: fakeEmbedder{}}, testLogger()),
		Vectors:      vectorstore.NewService(nil, fakeBackend{}),
		AllowedRoots: []string{root},
		JudgeModel:   "openai/gpt-5",
		OnRowDone: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 2, total)
			completions = append(completions, completed)
		},
	}, testLogger())

	_, err := svc.Run(context.Background(), evalRequest(path))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, completions)
}

func encodeCSV(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}
