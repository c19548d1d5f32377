package gateway

import (
	"os"
	"sort"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// Provider identifies an upstream LLM family routed through FastRouter.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderGrok       Provider = "grok"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderPerplexity Provider = "perplexity"
	ProviderGLM        Provider = "glm"
)

// providerOrder fixes the listing order for the models endpoint.
var providerOrder = []Provider{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGoogle,
	ProviderGrok,
	ProviderDeepSeek,
	ProviderPerplexity,
	ProviderGLM,
}

type providerMetadata struct {
	Label       string
	Description string
}

var providerInfo = map[Provider]providerMetadata{
	ProviderOpenAI:     {Label: "OpenAI", Description: "GPT series via FastRouter"},
	ProviderAnthropic:  {Label: "Anthropic", Description: "Claude family via FastRouter"},
	ProviderGoogle:     {Label: "Google Gemini", Description: "Gemini models served through FastRouter"},
	ProviderGrok:       {Label: "Grok", Description: "xAI Grok models via FastRouter"},
	ProviderDeepSeek:   {Label: "DeepSeek", Description: "DeepSeek reasoning models via FastRouter"},
	ProviderPerplexity: {Label: "Perplexity", Description: "Perplexity Sonar models via FastRouter"},
	ProviderGLM:        {Label: "GLM (z-ai)", Description: "Z-AI GLM family models served via FastRouter"},
}

// modelEnvPrefixes maps providers to the environment variable prefixes
// that enumerate their models, e.g. FASTROUTER_OPENAI_MODEL_1.
var modelEnvPrefixes = map[Provider]string{
	ProviderOpenAI:     "FASTROUTER_OPENAI_MODEL_",
	ProviderAnthropic:  "FASTROUTER_ANTHROPIC_MODEL_",
	ProviderGoogle:     "FASTROUTER_GEMINI_MODEL_",
	ProviderGrok:       "FASTROUTER_GROK_MODEL_",
	ProviderDeepSeek:   "FASTROUTER_DEEPSEEK_MODEL_",
	ProviderPerplexity: "FASTROUTER_PERPLEXITY_MODEL_",
	ProviderGLM:        "FASTROUTER_GLM_MODEL_",
}

// defaultModels backs the models endpoint when the environment carries
// no entries for a provider.
var defaultModels = map[Provider][]string{
	ProviderOpenAI: {
		"openai/gpt-5",
		"openai/gpt-oss-120b",
		"openai/gpt-5.1",
		"openai/gpt-4.1",
	},
	ProviderAnthropic: {
		"anthropic/claude-4.5-sonnet",
		"anthropic/claude-3-7-sonnet-20250219:thinking",
		"anthropic/claude-opus-4.1",
		"anthropic/claude-opus-4-20250514",
	},
	ProviderGoogle: {
		"google/gemini-2.5-pro",
		"google/gemini-2.5-flash",
	},
	ProviderPerplexity: {
		"perplexity/sonar-reasoning-pro",
		"perplexity/sonar-pro",
		"perplexity/sonar-deep-research",
	},
	ProviderGrok: {
		"x-ai/grok-4",
		"x-ai/grok-3-mini-beta",
	},
	ProviderDeepSeek: {
		"deepseek-ai/DeepSeek-R1",
		"deepseek/deepseek-v3.1",
	},
	ProviderGLM: {
		"z-ai/glm-4.6",
		"z-ai/glm-4.5",
	},
}

// modelTiers marks known models as Paid or Free for UI badges. Unknown
// models get no badge.
var modelTiers = map[string]string{
	"openai/gpt-5":        "Paid",
	"openai/gpt-oss-120b": "Free",
	"openai/gpt-5.1":      "Paid",
	"openai/gpt-4.1":      "Free",

	"anthropic/claude-4.5-sonnet":                   "Paid",
	"anthropic/claude-3-7-sonnet-20250219:thinking": "Paid",
	"anthropic/claude-opus-4.1":                     "Paid",
	"anthropic/claude-opus-4-20250514":              "Paid",

	"google/gemini-2.5-pro":   "Paid",
	"google/gemini-2.5-flash": "Free",

	"perplexity/sonar-reasoning-pro": "Paid",
	"perplexity/sonar-pro":           "Paid",
	"perplexity/sonar-deep-research": "Paid",

	"x-ai/grok-4":           "Paid",
	"x-ai/grok-3-mini-beta": "Paid",

	"deepseek-ai/DeepSeek-R1": "Free",
	"deepseek/deepseek-v3.1":  "Paid",

	"z-ai/glm-4.6": "Free",
	"z-ai/glm-4.5": "Free",
}

// ParseProvider validates a provider tag.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := providerInfo[p]; !ok {
		return "", apperr.Newf(apperr.KindValidation, "Unsupported provider '%s'", s)
	}
	return p, nil
}

// ModelOption is one selectable model within a provider.
type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Badge string `json:"badge,omitempty"`
}

// ProviderOption groups a provider's metadata and its models.
type ProviderOption struct {
	ID          Provider      `json:"id"`
	Label       string        `json:"label"`
	Description string        `json:"description,omitempty"`
	Models      []ModelOption `json:"models"`
}

// ModelsResponse is the payload of the models listing endpoint.
type ModelsResponse struct {
	Providers []ProviderOption `json:"providers"`
}

// ListModels reports the available providers and their configured
// models, read from the environment with curated fallbacks.
func ListModels() ModelsResponse {
	environ := os.Environ()

	providers := make([]ProviderOption, 0, len(providerOrder))
	for _, provider := range providerOrder {
		meta := providerInfo[provider]
		prefix := modelEnvPrefixes[provider]

		cleaned := modelsFromEnv(environ, prefix)
		if len(cleaned) == 0 {
			cleaned = defaultModels[provider]
		}

		models := make([]ModelOption, 0, len(cleaned))
		for _, id := range sortedUnique(cleaned) {
			models = append(models, ModelOption{
				ID:    id,
				Label: FormatModelLabel(id),
				Badge: modelTiers[id],
			})
		}

		providers = append(providers, ProviderOption{
			ID:          provider,
			Label:       meta.Label,
			Description: meta.Description,
			Models:      models,
		})
	}

	return ModelsResponse{Providers: providers}
}

// modelsFromEnv collects env values under prefix, stripping inline
// comments and blanks.
func modelsFromEnv(environ []string, prefix string) []string {
	var cleaned []string
	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, prefix) {
			continue
		}
		if idx := strings.Index(value, "#"); idx >= 0 {
			value = value[:idx]
		}
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

// sortedUnique deduplicates and sorts model ids case-insensitively.
func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// acronyms are rendered uppercase in model labels.
var labelAcronyms = map[string]struct{}{
	"gpt":   {},
	"llama": {},
	"oss":   {},
	"xai":   {},
}

// FormatModelLabel prettifies a model id for display, e.g.
// "openai/gpt-oss-120b" becomes "GPT OSS 120b".
func FormatModelLabel(modelID string) string {
	candidate := modelID
	if idx := strings.LastIndex(candidate, "/"); idx >= 0 {
		candidate = candidate[idx+1:]
	}
	candidate = strings.ReplaceAll(candidate, "-", " ")
	candidate = strings.ReplaceAll(candidate, "_", " ")

	words := strings.Fields(candidate)
	for i, word := range words {
		if _, ok := labelAcronyms[word]; ok {
			words[i] = strings.ToUpper(word)
		} else {
			words[i] = capitalize(word)
		}
	}

	formatted := strings.Join(words, " ")
	if formatted == "" {
		return modelID
	}
	return formatted
}

func capitalize(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return word
	}
	return strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
}

// JudgeModel returns the model used to score evaluation answers.
func JudgeModel() string {
	if model := strings.TrimSpace(os.Getenv("FASTROUTER_OPENAI_MODEL_1")); model != "" {
		return stripInlineComment(model)
	}
	if model := strings.TrimSpace(os.Getenv("FASTROUTER_OPENAI_MODEL")); model != "" {
		return stripInlineComment(model)
	}
	return "openai/gpt-5"
}

func stripInlineComment(value string) string {
	if idx := strings.Index(value, "#"); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}
