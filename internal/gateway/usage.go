package gateway

import (
	"strconv"
	"strings"

	"github.com/krira-ai/rag-engine/internal/observability"
)

// Usage is a provider-agnostic view of a completion's token counts.
// Providers disagree on which fields they report; unreported ones stay
// zero. Metadata keeps any extra keys the provider sent, untouched.
type Usage struct {
	PromptTokens     int64                  `json:"prompt_tokens"`
	CompletionTokens int64                  `json:"completion_tokens"`
	TotalTokens      int64                  `json:"total_tokens"`
	InputTokens      int64                  `json:"input_tokens"`
	OutputTokens     int64                  `json:"output_tokens"`
	Metadata         map[string]interface{} `json:"-"`
}

// Billable returns the best available count for usage tracking.
func (u Usage) Billable() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens + u.InputTokens + u.OutputTokens
}

var usageFields = map[string]func(*Usage, int64){
	"prompt_tokens":     func(u *Usage, v int64) { u.PromptTokens = v },
	"completion_tokens": func(u *Usage, v int64) { u.CompletionTokens = v },
	"total_tokens":      func(u *Usage, v int64) { u.TotalTokens = v },
	"input_tokens":      func(u *Usage, v int64) { u.InputTokens = v },
	"output_tokens":     func(u *Usage, v int64) { u.OutputTokens = v },
}

// NormalizeUsage coerces a raw usage payload into integer token counts.
// Unknown keys pass through as metadata without coercion.
func NormalizeUsage(raw map[string]interface{}, logger *observability.Logger) (Usage, map[string]interface{}) {
	var usage Usage
	metadata := make(map[string]interface{})

	for key, value := range raw {
		if setter, ok := usageFields[key]; ok {
			setter(&usage, coerceUsageValue(value, key, logger))
		} else {
			metadata[key] = value
		}
	}

	return usage, metadata
}

// coerceUsageValue converts one usage field to an integer, defaulting to
// zero on anything unusable.
func coerceUsageValue(value interface{}, field string, logger *observability.Logger) int64 {
	switch v := value.(type) {
	case nil:
		logger.Warn().Str("field", field).Msg("Token usage field is null; coercing to 0")
		return 0
	case bool:
		logger.Warn().Str("field", field).Bool("value", v).Msg("Token usage field is boolean; coercing to 0")
		return 0
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		if v != float64(int64(v)) {
			logger.Warn().Str("field", field).Float64("value", v).Msg("Token usage field is fractional; truncating")
		}
		return int64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			logger.Warn().Str("field", field).Str("value", v).Msg("Token usage field string invalid; coercing to 0")
			return 0
		}
		logger.Warn().Str("field", field).Str("value", v).Msg("Token usage field is a string; parsed")
		return int64(parsed)
	default:
		logger.Warn().Str("field", field).Interface("value", value).Msg("Token usage field has unsupported type; coercing to 0")
		return 0
	}
}
