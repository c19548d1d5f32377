// Package eval runs automated pipeline evaluation: it answers every
// question in a labeled CSV through the retrieval pipeline, has a judge
// model score each answer against the reference, and aggregates the
// scores into a report.
package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/prompt"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

const judgeMaxTokens = 900

// Request describes one evaluation run.
type Request struct {
	Provider           string
	Model              string
	SystemPrompt       string
	EmbeddingModel     string
	VectorStore        string
	DatasetIDs         []string
	TopK               int
	EmbeddingDimension int
	CSVPath            string
	CSVContent         string
	OriginalFilename   string
	Pinecone           *vectorstore.PineconeSettings
}

// Metrics are the aggregated scores across all evaluated rows.
type Metrics struct {
	Accuracy         float64 `json:"accuracy"`
	EvaluationScore  float64 `json:"evaluationScore"`
	SemanticAccuracy float64 `json:"semanticAccuracy"`
	Faithfulness     float64 `json:"faithfulness"`
	AnswerRelevancy  float64 `json:"answerRelevancy"`
	ContentPrecision float64 `json:"contentPrecision"`
	ContextRecall    float64 `json:"contextRecall"`
}

// RowResult is the scored outcome for one CSV row.
type RowResult struct {
	QuestionNumber   string   `json:"questionNumber"`
	Question         string   `json:"question"`
	ExpectedAnswer   string   `json:"expectedAnswer"`
	ModelAnswer      string   `json:"modelAnswer"`
	Verdict          string   `json:"verdict"`
	LLMScore         float64  `json:"llmScore"`
	SemanticScore    *float64 `json:"semanticScore"`
	Faithfulness     *float64 `json:"faithfulness"`
	AnswerRelevancy  *float64 `json:"answerRelevancy"`
	ContentPrecision *float64 `json:"contentPrecision"`
	ContextRecall    *float64 `json:"contextRecall"`
	ContextSnippets  []string `json:"contextSnippets"`
	Notes            *string  `json:"notes"`
}

// Source identifies the evaluated CSV and configuration.
type Source struct {
	CSV      string `json:"csv"`
	Filename string `json:"filename"`
	Total    int    `json:"total"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Report is the full evaluation outcome.
type Report struct {
	Metrics        Metrics           `json:"metrics"`
	Rows           []RowResult       `json:"rows"`
	Justifications map[string]string `json:"justifications"`
	Source         Source            `json:"source"`
}

// ServiceConfig wires the evaluation engine's dependencies. OnRowDone,
// when set, is called after each row completes; callers use it for
// progress reporting and it may run from concurrent goroutines.
type ServiceConfig struct {
	Gateway      gateway.Caller
	Embeddings   *embedding.Service
	Vectors      *vectorstore.Service
	AllowedRoots []string
	JudgeModel   string
	Concurrency  int
	MaxTokens    int
	OnRowDone    func(completed, total int)
}

// Service executes evaluation runs.
type Service struct {
	gateway      gateway.Caller
	embeddings   *embedding.Service
	vectors      *vectorstore.Service
	allowedRoots []string
	judgeModel   string
	concurrency  int
	maxTokens    int
	onRowDone    func(completed, total int)
	logger       *observability.Logger
}

// NewService creates the evaluation service.
func NewService(cfg ServiceConfig, logger *observability.Logger) *Service {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}
	if concurrency > 16 {
		concurrency = 16
	}
	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = gateway.JudgeModel()
	}
	return &Service{
		gateway:      cfg.Gateway,
		embeddings:   cfg.Embeddings,
		vectors:      cfg.Vectors,
		allowedRoots: cfg.AllowedRoots,
		judgeModel:   judgeModel,
		concurrency:  concurrency,
		maxTokens:    cfg.MaxTokens,
		onRowDone:    cfg.OnRowDone,
		logger:       logger,
	}
}

// rowOutcome pairs a row's report entry with its raw judge verdict for
// aggregation.
type rowOutcome struct {
	result  RowResult
	verdict judgeVerdict
}

// Run evaluates every row of the CSV and aggregates the scores. Rows run
// concurrently up to the configured limit; any row failure aborts the
// whole run.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	if _, err := gateway.ParseProvider(req.Provider); err != nil {
		return Report{}, err
	}
	if strings.TrimSpace(req.Model) == "" {
		return Report{}, apperr.New(apperr.KindValidation, "Model identifier is required for evaluation")
	}
	model, err := embedding.ParseModel(req.EmbeddingModel)
	if err != nil {
		return Report{}, err
	}
	storeKind, err := vectorstore.ParseKind(req.VectorStore)
	if err != nil {
		return Report{}, err
	}
	datasetIDs := make([]string, 0, len(req.DatasetIDs))
	for _, id := range req.DatasetIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			datasetIDs = append(datasetIDs, trimmed)
		}
	}
	if len(datasetIDs) == 0 {
		return Report{}, apperr.New(apperr.KindValidation, "At least one dataset must be selected for evaluation")
	}

	csvFile, cleanup, err := s.resolveCSV(req)
	if err != nil {
		return Report{}, err
	}
	rows, err := LoadRows(csvFile)
	cleanup()
	if err != nil {
		return Report{}, err
	}
	if len(rows) == 0 {
		return Report{}, apperr.New(apperr.KindValidation, "Evaluation CSV is empty; add at least one row")
	}

	dimension, err := embedding.ResolveDimension(model, req.EmbeddingDimension)
	if err != nil {
		return Report{}, err
	}

	questions := make([]string, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.Question)
	}
	questionVectors, err := s.embeddings.Generate(ctx, model, dimension, questions)
	if err != nil {
		return Report{}, err
	}

	topK := req.TopK
	if topK < 1 {
		topK = 1
	}

	systemPrompt := prompt.SystemMessage(req.SystemPrompt)
	outcomes := make([]rowOutcome, len(rows))

	var completed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			var vector []float32
			if i < len(questionVectors) {
				vector = questionVectors[i]
			}
			outcome, err := s.evaluateRow(gctx, row, vector, req.Model, systemPrompt, storeKind, model, topK, datasetIDs, req.Pinecone)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			if s.onRowDone != nil {
				s.onRowDone(int(atomic.AddInt64(&completed, 1)), len(rows))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	return s.aggregate(outcomes, csvFile, req), nil
}

// resolveCSV picks the evaluation file: inline base64 content wins over a
// path. The returned cleanup removes any temporary file.
func (s *Service) resolveCSV(req Request) (string, func(), error) {
	if strings.TrimSpace(req.CSVContent) != "" {
		path, err := MaterializeCSVContent(req.CSVContent, req.OriginalFilename, s.allowedRoots)
		if err != nil {
			return "", nil, err
		}
		return path, func() {
			if err := os.Remove(path); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to remove temporary evaluation CSV")
			}
		}, nil
	}

	candidate := strings.TrimSpace(req.CSVPath)
	if candidate == "" {
		return "", nil, apperr.New(apperr.KindValidation, "Evaluation CSV path or content must be provided")
	}
	path, err := ResolveCSVPath(candidate, s.allowedRoots)
	if err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

// evaluateRow answers one question through the pipeline and has the judge
// score it.
func (s *Service) evaluateRow(ctx context.Context, row Row, vector []float32, modelID, systemPrompt string, storeKind vectorstore.Kind, embeddingModel embedding.Model, topK int, datasetIDs []string, pinecone *vectorstore.PineconeSettings) (rowOutcome, error) {
	contexts, err := s.vectors.Query(ctx, storeKind, vector, string(embeddingModel), topK, pinecone, datasetIDs)
	if err != nil {
		return rowOutcome{}, err
	}

	snippets := prompt.ContextSnippets(contexts)
	contextText := prompt.BuildContextWindow(contexts)

	answer, err := s.gateway.Chat(ctx, gateway.ChatRequest{
		Model:     modelID,
		System:    systemPrompt,
		User:      prompt.UserMessage(row.Question, contextText),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return rowOutcome{}, err
	}

	zero := 0.0
	judged, err := s.gateway.Chat(ctx, gateway.ChatRequest{
		Model:       s.judgeModel,
		System:      prompt.EvaluationSystemPrompt,
		User:        prompt.EvaluationUserMessage(row.Question, row.ExpectedAnswer, answer.Text, snippets),
		MaxTokens:   judgeMaxTokens,
		Temperature: &zero,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("question", row.Number).Msg("FastRouter evaluation failed")
		return rowOutcome{}, apperr.New(apperr.KindUpstream, "Failed to score model answers with FastRouter")
	}

	verdict, err := parseJudgeResponse(judged.Text)
	if err != nil {
		s.logger.Error().Str("question", row.Number).Msg("Unable to parse evaluator response")
		return rowOutcome{}, err
	}

	var notes *string
	var noteParts []string
	if verdict.reasoning != "" {
		noteParts = append(noteParts, verdict.reasoning)
	}
	if verdict.recommendedFix != "" {
		noteParts = append(noteParts, "Suggested fix: "+verdict.recommendedFix)
	}
	if len(noteParts) > 0 {
		joined := strings.Join(noteParts, " ")
		notes = &joined
	}

	llmScore := 0.0
	if v := roundPercentage(verdict.metrics["evaluationScore"]); v != nil {
		llmScore = *v
	}

	result := RowResult{
		QuestionNumber:   row.Number,
		Question:         row.Question,
		ExpectedAnswer:   row.ExpectedAnswer,
		ModelAnswer:      answer.Text,
		Verdict:          verdict.verdict,
		LLMScore:         llmScore,
		SemanticScore:    roundPercentage(verdict.metrics["semanticAccuracy"]),
		Faithfulness:     roundPercentage(verdict.metrics["faithfulness"]),
		AnswerRelevancy:  roundPercentage(verdict.metrics["answerRelevancy"]),
		ContentPrecision: roundPercentage(verdict.metrics["contentPrecision"]),
		ContextRecall:    roundPercentage(verdict.metrics["contextRecall"]),
		ContextSnippets:  snippets,
		Notes:            notes,
	}

	return rowOutcome{result: result, verdict: verdict}, nil
}

type metricSample struct {
	value  float64
	number string
}

// aggregate folds the row outcomes into summary metrics and per-metric
// justifications.
func (s *Service) aggregate(outcomes []rowOutcome, csvFile string, req Request) Report {
	metricValues := make(map[string][]metricSample, len(metricKeys))
	metricMessages := make(map[string][]string, len(metricKeys))
	correctCount := 0

	rows := make([]RowResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		rows = append(rows, outcome.result)
		if outcome.result.Verdict == "correct" {
			correctCount++
		}
		for _, metricKey := range metricKeys {
			if value := outcome.verdict.metrics[metricKey]; value != nil {
				metricValues[metricKey] = append(metricValues[metricKey], metricSample{value: *value, number: outcome.result.QuestionNumber})
			}
			if explanation := outcome.verdict.explanations[metricKey]; explanation != "" {
				metricMessages[metricKey] = append(metricMessages[metricKey], explanation)
			}
		}
	}

	summary := make(map[string]float64, len(metricKeys))
	for _, metricKey := range metricKeys {
		values := metricValues[metricKey]
		if len(values) == 0 {
			summary[metricKey] = 0
			continue
		}
		raw := make([]float64, 0, len(values))
		for _, sample := range values {
			raw = append(raw, sample.value)
		}
		if rounded := roundPercentage(floatPtr(mean(raw))); rounded != nil {
			summary[metricKey] = *rounded
		}
	}

	totalRows := len(outcomes)
	if totalRows == 0 {
		totalRows = 1
	}
	if len(metricValues["accuracy"]) > 0 {
		// Verdicts reinforce binary scoring for the headline accuracy.
		if rounded := roundPercentage(floatPtr(float64(correctCount) / float64(totalRows) * 100)); rounded != nil {
			summary["accuracy"] = *rounded
		}
	}

	justifications := make(map[string]string, len(metricKeys))
	for _, metricKey := range metricKeys {
		values := metricValues[metricKey]
		if len(values) == 0 {
			justifications[metricKey] = "No evaluation data available."
			continue
		}

		worst := values[0]
		for _, sample := range values[1:] {
			if sample.value < worst.value {
				worst = sample
			}
		}

		plural := "s"
		if totalRows == 1 {
			plural = ""
		}
		message := fmt.Sprintf("Average %s %.1f%% across %d example%s. Lowest score %.1f%% on example #%s.",
			strings.ToLower(metricLabels[metricKey]), summary[metricKey], totalRows, plural, worst.value, worst.number)
		if explanations := metricMessages[metricKey]; len(explanations) > 0 {
			message += " " + explanations[0]
		}
		justifications[metricKey] = strings.TrimSpace(message)
	}

	csvReference := csvFile
	if len(s.allowedRoots) > 0 {
		if rel, err := filepath.Rel(s.allowedRoots[0], csvFile); err == nil && !strings.HasPrefix(rel, "..") {
			csvReference = rel
		}
	}
	filename := strings.TrimSpace(req.OriginalFilename)
	if filename == "" {
		filename = filepath.Base(csvFile)
	}

	return Report{
		Metrics: Metrics{
			Accuracy:         summary["accuracy"],
			EvaluationScore:  summary["evaluationScore"],
			SemanticAccuracy: summary["semanticAccuracy"],
			Faithfulness:     summary["faithfulness"],
			AnswerRelevancy:  summary["answerRelevancy"],
			ContentPrecision: summary["contentPrecision"],
			ContextRecall:    summary["contextRecall"],
		},
		Rows:           rows,
		Justifications: justifications,
		Source: Source{
			CSV:      csvReference,
			Filename: filename,
			Total:    len(outcomes),
			Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
			Model:    req.Model,
		},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
