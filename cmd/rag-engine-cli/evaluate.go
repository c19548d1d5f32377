package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/krira-ai/rag-engine/internal/embedding"
	"github.com/krira-ai/rag-engine/internal/eval"
	"github.com/krira-ai/rag-engine/internal/gateway"
	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

type evaluateOptions struct {
	provider       string
	model          string
	systemPrompt   string
	embeddingModel string
	vectorStore    string
	datasets       []string
	topK           int
	dimension      int
	csvPath        string
	judgeModel     string
	pineconeIndex  string
	namespace      string
	outputPath     string
}

func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a pipeline configuration against a labeled CSV",
		Long: `Answer every question in a labeled CSV through the retrieval pipeline,
score each answer with the judge model, and print the aggregated report.

The CSV must live inside the configured evaluation directory (or the
uploads directory) and expose input/output columns.

Example:
  rag-engine-cli evaluate \
    --provider openai --model openai/gpt-5 \
    --embedding-model openai-small --vector-store chroma \
    --datasets ds-1 --csv golden.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider tag (openai, anthropic, ...)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model identifier, e.g. openai/gpt-5")
	cmd.Flags().StringVar(&opts.systemPrompt, "system-prompt", "", "Operator system prompt")
	cmd.Flags().StringVar(&opts.embeddingModel, "embedding-model", "", "Embedding model tag (openai-small, openai-large, huggingface)")
	cmd.Flags().StringVar(&opts.vectorStore, "vector-store", "chroma", "Vector store backend (pinecone or chroma)")
	cmd.Flags().StringSliceVar(&opts.datasets, "datasets", nil, "Dataset ids to retrieve from")
	cmd.Flags().IntVar(&opts.topK, "top-k", 10, "Number of context chunks per question")
	cmd.Flags().IntVar(&opts.dimension, "dimension", 0, "Embedding dimension (0 selects the model default)")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "Path to the labeled evaluation CSV")
	cmd.Flags().StringVar(&opts.judgeModel, "judge-model", "", "Judge model override")
	cmd.Flags().StringVar(&opts.pineconeIndex, "pinecone-index", "", "Pinecone index name (pinecone store only)")
	cmd.Flags().StringVar(&opts.namespace, "namespace", "", "Pinecone namespace")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Write the full JSON report to a file")

	cobra.CheckErr(cmd.MarkFlagRequired("provider"))
	cobra.CheckErr(cmd.MarkFlagRequired("model"))
	cobra.CheckErr(cmd.MarkFlagRequired("embedding-model"))
	cobra.CheckErr(cmd.MarkFlagRequired("datasets"))
	cobra.CheckErr(cmd.MarkFlagRequired("csv"))

	return cmd
}

func runEvaluate(cmd *cobra.Command, opts evaluateOptions) error {
	hosted, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  cfg.FastRouter.APIKey,
		BaseURL: cfg.FastRouter.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}

	var local embedding.Embedder
	if cfg.Embedding.LocalURL != "" {
		localClient, err := embedding.NewClient(embedding.ClientConfig{BaseURL: cfg.Embedding.LocalURL})
		if err != nil {
			return fmt.Errorf("local embedding client: %w", err)
		}
		local = localClient
	}

	embeddings := embedding.NewService(embedding.ServiceConfig{
		Hosted:    hosted,
		Local:     local,
		BatchSize: cfg.Embedding.BatchSize,
	}, logger)

	localStore, err := vectorstore.NewLocalStore(cfg.Storage.VectorStoreDirectory, logger)
	if err != nil {
		return fmt.Errorf("local vector store: %w", err)
	}
	vectors := vectorstore.NewService(vectorstore.NewPineconeStore(logger), localStore)

	gatewayClient, err := gateway.NewClient(gateway.ClientConfig{
		APIKey:  cfg.FastRouter.APIKey,
		BaseURL: cfg.FastRouter.BaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}

	var sp *spinner.Spinner
	if !outputJSON {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = " Preparing evaluation..."
		sp.Writer = os.Stderr
		sp.Start()
	}

	var barOnce sync.Once
	var bar *progressbar.ProgressBar

	svc := eval.NewService(eval.ServiceConfig{
		Gateway:      gatewayClient,
		Embeddings:   embeddings,
		Vectors:      vectors,
		AllowedRoots: cfg.EvaluationRoots(),
		JudgeModel:   opts.judgeModel,
		Concurrency:  cfg.Evaluation.Concurrency,
		MaxTokens:    cfg.FastRouter.MaxTokens,
		OnRowDone: func(completed, total int) {
			if outputJSON {
				return
			}
			barOnce.Do(func() {
				sp.Stop()
				bar = progressbar.NewOptions64(int64(total),
					progressbar.OptionSetWidth(50),
					progressbar.OptionSetDescription("Scoring answers"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprint(os.Stderr, "\n")
					}),
				)
			})
			_ = bar.Set(completed)
		},
	}, logger)

	var pinecone *vectorstore.PineconeSettings
	if opts.pineconeIndex != "" {
		pinecone = &vectorstore.PineconeSettings{
			APIKey:    cfg.Pinecone.APIKey,
			IndexName: opts.pineconeIndex,
			Namespace: opts.namespace,
		}
	}

	report, err := svc.Run(cmd.Context(), eval.Request{
		Provider:           opts.provider,
		Model:              opts.model,
		SystemPrompt:       opts.systemPrompt,
		EmbeddingModel:     opts.embeddingModel,
		VectorStore:        opts.vectorStore,
		DatasetIDs:         opts.datasets,
		TopK:               opts.topK,
		EmbeddingDimension: opts.dimension,
		CSVPath:            opts.csvPath,
		Pinecone:           pinecone,
	})
	if sp != nil {
		sp.Stop()
	}
	if err != nil {
		return err
	}

	if opts.outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(opts.outputPath, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

// printReport renders the aggregated metrics and per-row verdicts.
func printReport(report eval.Report) {
	heading := color.New(color.FgCyan, color.Bold)
	good := color.New(color.FgGreen)
	mid := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	fmt.Println()
	heading.Printf("Evaluation: %s (%s)\n", report.Source.Filename, report.Source.Model)
	fmt.Printf("%d rows via %s\n\n", report.Source.Total, report.Source.Provider)

	metricLine := func(label string, value float64) {
		painter := bad
		switch {
		case value >= 80:
			painter = good
		case value >= 50:
			painter = mid
		}
		fmt.Printf("  %-20s ", label)
		painter.Printf("%5.1f%%\n", value)
	}

	metricLine("Accuracy", report.Metrics.Accuracy)
	metricLine("Evaluation score", report.Metrics.EvaluationScore)
	metricLine("Semantic accuracy", report.Metrics.SemanticAccuracy)
	metricLine("Faithfulness", report.Metrics.Faithfulness)
	metricLine("Answer relevancy", report.Metrics.AnswerRelevancy)
	metricLine("Content precision", report.Metrics.ContentPrecision)
	metricLine("Context recall", report.Metrics.ContextRecall)

	fmt.Println()
	for _, row := range report.Rows {
		switch row.Verdict {
		case "correct":
			good.Printf("  ✓ #%s", row.QuestionNumber)
		case "partial":
			mid.Printf("  ~ #%s", row.QuestionNumber)
		default:
			bad.Printf("  ✗ #%s", row.QuestionNumber)
		}
		fmt.Printf("  %5.1f  %s\n", row.LLMScore, truncate(row.Question, 70))
	}

	if justification, ok := report.Justifications["accuracy"]; ok {
		fmt.Println()
		fmt.Println(justification)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
