package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

func chunksOf(texts ...string) []vectorstore.RetrievedContext {
	out := make([]vectorstore.RetrievedContext, 0, len(texts))
	for _, t := range texts {
		out = append(out, vectorstore.RetrievedContext{Text: t})
	}
	return out
}

func TestBuildContextWindow(t *testing.T) {
	assert.Equal(t, "No external docs available.", BuildContextWindow(nil))
	assert.Equal(t, "No external docs available.", BuildContextWindow(chunksOf("", "   ")))

	window := BuildContextWindow(chunksOf("alpha", "  alpha  ", "beta", ""))
	assert.Equal(t, "alpha\n\nbeta", window)
}

func TestContextSnippets(t *testing.T) {
	snippets := ContextSnippets(chunksOf("a", "", "b", "c", "d"))
	assert.Equal(t, []string{"a", "b", "c"}, snippets)

	assert.Empty(t, ContextSnippets(nil))
}

func TestSystemMessage(t *testing.T) {
	msg := SystemMessage("")
	assert.True(t, strings.HasPrefix(msg, DefaultSystemPrompt))
	assert.Contains(t, msg, "## ABSOLUTE GROUNDING REQUIREMENT")
	assert.Contains(t, msg, "### Rule 5: Handling Insufficient Context")

	custom := SystemMessage("  You are a support bot.  ")
	assert.True(t, strings.HasPrefix(custom, "You are a support bot."))
	assert.Contains(t, custom, "## MANDATORY PRE-RESPONSE VERIFICATION")
}

func TestUserMessage(t *testing.T) {
	msg := UserMessage("Who leads sales?", "ctx block")
	assert.True(t, strings.HasPrefix(msg, "Question: Who leads sales?"))
	assert.Contains(t, msg, "\n\nContext:\nctx block")
	assert.Contains(t, msg, "Verify each fact against the context before responding.")
}

func TestEvaluationUserMessage(t *testing.T) {
	msg := EvaluationUserMessage(" q ", " expected ", " got ", []string{"s1", "s2"})
	assert.Contains(t, msg, "Question:\nq")
	assert.Contains(t, msg, "Expected Answer:\nexpected")
	assert.Contains(t, msg, "Assistant Answer:\ngot")
	assert.Contains(t, msg, "Retrieved Context:\n- s1\n- s2")

	empty := EvaluationUserMessage("q", "e", "a", nil)
	assert.Contains(t, empty, "- No retrieved context")
}
