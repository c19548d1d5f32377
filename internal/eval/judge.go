package eval

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// allowedVerdicts are the judge verdicts the engine accepts; anything
// else collapses to "incorrect".
var allowedVerdicts = map[string]struct{}{
	"correct":   {},
	"partial":   {},
	"incorrect": {},
}

// metricKeys fixes the metric order for aggregation and reporting.
var metricKeys = []string{
	"accuracy",
	"evaluationScore",
	"semanticAccuracy",
	"faithfulness",
	"answerRelevancy",
	"contentPrecision",
	"contextRecall",
}

// metricResponseKeys maps reported metric names to the snake_case keys
// the judge emits.
var metricResponseKeys = map[string]string{
	"accuracy":         "accuracy",
	"evaluationScore":  "evaluation_score",
	"semanticAccuracy": "semantic_accuracy",
	"faithfulness":     "faithfulness",
	"answerRelevancy":  "answer_relevancy",
	"contentPrecision": "content_precision",
	"contextRecall":    "context_recall",
}

// metricLabels are the display names used in justifications.
var metricLabels = map[string]string{
	"accuracy":         "Accuracy",
	"evaluationScore":  "Evaluation Score",
	"semanticAccuracy": "Semantic Accuracy",
	"faithfulness":     "Faithfulness",
	"answerRelevancy":  "Answer Relevancy",
	"contentPrecision": "Content Precision",
	"contextRecall":    "Context Recall",
}

// extractJSONObject pulls the outermost JSON object out of a judge reply,
// tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) (string, error) {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return "", apperr.New(apperr.KindUpstream, "Empty response from evaluator")
	}

	if strings.HasPrefix(stripped, "```") {
		var kept []string
		for _, line := range strings.Split(stripped, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		stripped = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	start := strings.Index(stripped, "{")
	end := strings.LastIndex(stripped, "}")
	if start == -1 || end == -1 || end < start {
		return "", apperr.New(apperr.KindUpstream, "Evaluator response did not contain a JSON object")
	}
	return stripped[start : end+1], nil
}

// judgeVerdict holds one parsed judge response.
type judgeVerdict struct {
	verdict        string
	metrics        map[string]*float64 // keyed by metric key, clamped, unrounded
	explanations   map[string]string   // keyed by metric key
	reasoning      string
	recommendedFix string
}

// parseJudgeResponse decodes and normalizes the judge's reply.
func parseJudgeResponse(text string) (judgeVerdict, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return judgeVerdict{}, err
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return judgeVerdict{}, apperr.New(apperr.KindUpstream, "Evaluator response could not be parsed")
	}

	verdictRaw := strings.ToLower(strings.TrimSpace(stringValue(parsed["verdict"])))
	verdict := verdictRaw
	if _, ok := allowedVerdicts[verdict]; !ok {
		verdict = "incorrect"
	}

	breakdown, _ := parsed["metric_breakdown"].(map[string]interface{})

	out := judgeVerdict{
		verdict:        verdict,
		metrics:        make(map[string]*float64, len(metricKeys)),
		explanations:   make(map[string]string, len(metricKeys)),
		reasoning:      strings.TrimSpace(stringValue(parsed["reasoning"])),
		recommendedFix: strings.TrimSpace(stringValue(parsed["recommended_fix"])),
	}

	for _, metricKey := range metricKeys {
		responseKey := metricResponseKeys[metricKey]
		value := percentageOrNil(parsed[responseKey])
		if metricKey == "accuracy" && value == nil {
			// The verdict backs the accuracy score when the judge omits it.
			fallback := 0.0
			switch verdict {
			case "correct":
				fallback = 100
			case "partial":
				fallback = 50
			}
			value = &fallback
		}
		out.metrics[metricKey] = value

		if breakdown != nil {
			explanation := stringValue(breakdown[responseKey])
			if explanation == "" {
				explanation = stringValue(breakdown[metricKey])
			}
			if trimmed := strings.TrimSpace(explanation); trimmed != "" {
				out.explanations[metricKey] = trimmed
			}
		}
	}

	return out, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// percentageOrNil coerces a judge metric to a clamped [0, 100] value.
// Missing and unparseable strings stay nil; non-numeric values score zero.
func percentageOrNil(v interface{}) *float64 {
	var numeric float64
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		numeric = parsed
	case float64:
		numeric = value
	case bool:
		numeric = 0
	default:
		numeric = 0
	}

	if math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		numeric = 0
	}
	numeric = math.Max(0, math.Min(100, numeric))
	return &numeric
}

// roundPercentage rounds to one decimal place, preserving nil.
func roundPercentage(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded := math.Round(*v*10) / 10
	return &rounded
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
