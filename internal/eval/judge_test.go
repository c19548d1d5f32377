package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	payload, err := extractJSONObject("```json\n{\"verdict\": \"correct\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"verdict": "correct"}`, payload)

	payload, err = extractJSONObject(`Here you go: {"a": 1} hope that helps`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, payload)

	_, err = extractJSONObject("   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Empty response from evaluator")

	_, err = extractJSONObject("no json here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not contain a JSON object")
}

func TestParseJudgeResponse(t *testing.T) {
	verdict, err := parseJudgeResponse(`{
		"verdict": "Partial",
		"accuracy": 72,
		"evaluation_score": 80.55,
		"semantic_accuracy": "88",
		"faithfulness": 120,
		"answer_relevancy": -5,
		"reasoning": "Mostly right.",
		"recommended_fix": "Cite the revenue figure.",
		"metric_breakdown": {"accuracy": "Close to reference.", "faithfulness": "One unsupported claim."}
	}`)
	require.NoError(t, err)

	assert.Equal(t, "partial", verdict.verdict)
	assert.Equal(t, 72.0, *verdict.metrics["accuracy"])
	assert.Equal(t, 80.55, *verdict.metrics["evaluationScore"])
	assert.Equal(t, 88.0, *verdict.metrics["semanticAccuracy"])
	// Out-of-range values clamp to [0, 100].
	assert.Equal(t, 100.0, *verdict.metrics["faithfulness"])
	assert.Equal(t, 0.0, *verdict.metrics["answerRelevancy"])
	assert.Nil(t, verdict.metrics["contextRecall"])

	assert.Equal(t, "Mostly right.", verdict.reasoning)
	assert.Equal(t, "Cite the revenue figure.", verdict.recommendedFix)
	assert.Equal(t, "Close to reference.", verdict.explanations["accuracy"])
	assert.Equal(t, "One unsupported claim.", verdict.explanations["faithfulness"])
}

func TestParseJudgeResponseAccuracyFallback(t *testing.T) {
	verdict, err := parseJudgeResponse(`{"verdict": "correct"}`)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *verdict.metrics["accuracy"])

	verdict, err = parseJudgeResponse(`{"verdict": "partial"}`)
	require.NoError(t, err)
	assert.Equal(t, 50.0, *verdict.metrics["accuracy"])

	verdict, err = parseJudgeResponse(`{"verdict": "bogus"}`)
	require.NoError(t, err)
	assert.Equal(t, "incorrect", verdict.verdict)
	assert.Equal(t, 0.0, *verdict.metrics["accuracy"])
}

func TestParseJudgeResponseUnparseable(t *testing.T) {
	_, err := parseJudgeResponse(`{"verdict": broken}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evaluator response could not be parsed")
}

func TestPercentageOrNil(t *testing.T) {
	assert.Nil(t, percentageOrNil(nil))
	assert.Nil(t, percentageOrNil(""))
	assert.Nil(t, percentageOrNil("abc"))
	assert.Equal(t, 50.0, *percentageOrNil(50.0))
	assert.Equal(t, 42.5, *percentageOrNil(" 42.5 "))
	assert.Equal(t, 0.0, *percentageOrNil(true))
	assert.Equal(t, 100.0, *percentageOrNil(250.0))
}

func TestRoundPercentage(t *testing.T) {
	assert.Nil(t, roundPercentage(nil))
	v := 72.449
	assert.Equal(t, 72.4, *roundPercentage(&v))
}
