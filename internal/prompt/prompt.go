// Package prompt assembles the grounded chat prompts sent through the
// FastRouter gateway, plus the rubric used by the evaluation judge.
package prompt

import (
	"fmt"
	"strings"

	"github.com/krira-ai/rag-engine/internal/vectorstore"
)

// DefaultSystemPrompt is used when a pipeline does not configure its own.
const DefaultSystemPrompt = "You are a helpful assistant that uses retrieved enterprise knowledge to answer questions accurately."

// NoContextFallback is injected as the context window when retrieval
// produced nothing usable.
const NoContextFallback = "No external docs available."

// MaxContextSnippets bounds the snippets echoed back in chat and
// evaluation responses.
const MaxContextSnippets = 3

// groundingCharter is appended to every system prompt. The model must
// answer strictly from the retrieved context.
const groundingCharter = "\n\n## ABSOLUTE GROUNDING REQUIREMENT" +
	"\nYou must answer questions using ONLY information explicitly present in the provided context." +
	"\nEvery fact, name, number, or detail in your response must be directly traceable to specific text in the context." +
	"\nGive the answer which is present in the given context only.don't elabroate it until and unless user tell in the input" +
	"\n When use greets you also want to greet the user with respect." +
	"\n\n## CRITICAL RULES - NO EXCEPTIONS" +
	"\n\n### Rule 1: Hallucination Prevention" +
	"\n- DO NOT generate, infer, assume, or extrapolate any information beyond what is explicitly stated" +
	"\n- DO NOT mention names, numbers, dates, or facts unless they appear in the context" +
	"\n- DO NOT make calculations or derive information unless the context provides it" +
	"\n- DO NOT use general knowledge if the specific information is not in the context" +
	"\n\n### Rule 2: Singular vs. Multiple Responses" +
	"\n- Questions asking for 'THE' or using singular form require EXACTLY ONE answer" +
	"\n- Questions asking for 'ALL' or using plural form require multiple answers if they exist in context" +
	"\n- Provide multiple answers ONLY when the question explicitly requests multiple OR the context explicitly states a tie" +
	"\n- Default behavior: When in doubt, provide one answer only" +
	"\n\n### Rule 3: Context Completeness" +
	"\n- Treat the provided context as the complete and only source of information" +
	"\n- DO NOT assume additional data exists beyond what is shown" +
	"\n- If context shows limited or sample data, work only with what is provided" +
	"\n\n### Rule 4: Answer Precision" +
	"\n- For simple questions: provide simple, direct answers" +
	"\n- For complex questions: provide detailed answers using only context information" +
	"\n- DO NOT add elaboration, examples, lists, or breakdowns unless they are explicitly in the context" +
	"\n- Match the scope of your answer to what the question asks and the context supports" +
	"\n\n### Rule 5: Handling Insufficient Context" +
	"\n- If context contains the answer: provide it directly" +
	"\n- If context partially answers: provide what you can and acknowledge limitations if relevant" +
	"\n- If context lacks the answer: state the information is not available in the provided context" +
	"\n- NEVER fill gaps with assumptions or general knowledge" +
	"\n\n## MANDATORY PRE-RESPONSE VERIFICATION" +
	"\nBefore responding, verify:" +
	"\n1. Every entity/name I mention is visible in the context" +
	"\n2. Every number I state is present in the context" +
	"\n3. The question asks for one answer or multiple" +
	"\n4. I am not adding information beyond what is stated" +
	"\n5. Each claim is traceable to a specific sentence in the context" +
	"\n\n## QUALITY PRINCIPLES" +
	"\n- Accuracy over completeness: a brief, correct answer is better than a detailed, partially-invented one" +
	"\n- Faithfulness over helpfulness: staying grounded in context is paramount" +
	"\n- Precision over elaboration: exact answers from context are better than expanded explanations" +
	"\n- Simplicity over complexity: if a simple answer suffices, provide it"

// SystemMessage resolves the pipeline's system prompt and appends the
// grounding charter. A blank prompt falls back to DefaultSystemPrompt.
func SystemMessage(systemPrompt string) string {
	resolved := strings.TrimSpace(systemPrompt)
	if resolved == "" {
		resolved = DefaultSystemPrompt
	}
	return resolved + groundingCharter
}

// UserMessage renders the question and retrieved context into the final
// user turn.
func UserMessage(question, context string) string {
	return "Question: " + question +
		"\n\nContext:\n" + context +
		"\n\nIMPORTANT: Answer using ONLY information explicitly stated in the context above. If the question asks for one item, provide one. If it asks for multiple, provide multiple only if they exist in context. Do not add any information not present in the context. Verify each fact against the context before responding."
}

// BuildContextWindow joins retrieved chunks into the context block,
// dropping blanks and duplicates while preserving retrieval order.
func BuildContextWindow(chunks []vectorstore.RetrievedContext) string {
	if len(chunks) == 0 {
		return NoContextFallback
	}

	seen := make(map[string]struct{}, len(chunks))
	ordered := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		ordered = append(ordered, text)
	}

	if len(ordered) == 0 {
		return NoContextFallback
	}
	return strings.Join(ordered, "\n\n")
}

// ContextSnippets returns up to MaxContextSnippets non-empty chunk texts
// for echoing back to callers.
func ContextSnippets(chunks []vectorstore.RetrievedContext) []string {
	snippets := make([]string, 0, MaxContextSnippets)
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		snippets = append(snippets, text)
		if len(snippets) >= MaxContextSnippets {
			break
		}
	}
	return snippets
}

// EvaluationSystemPrompt instructs the judge model to score an answer
// against the reference and return a strict JSON object.
const EvaluationSystemPrompt = "You are an advanced evaluation system for retrieval-augmented generation (RAG) assistants. " +
	"Your goal is to assess whether the assistant correctly satisfies the user's information need using the provided context. " +
	"\n\n" +
	"## Core Evaluation Principles\n" +
	"1. Semantic Correctness Over Exact Matching: Judge based on meaning and information accuracy, not word-for-word similarity\n" +
	"2. Context Fidelity: Reward answers grounded in context; penalize hallucinations and unsupported claims\n" +
	"3. Practical Utility: Assess whether the answer actually helps the user, regardless of stylistic differences from the reference\n" +
	"4. Appropriate Scope: Expect answers to match the depth/breadth that the context supports\n" +
	"\n\n" +
	"## Detailed Scoring Guidelines\n\n" +
	"**verdict** ('correct' | 'partial' | 'incorrect'):\n" +
	"- 'correct': Answer conveys the same core information as expected answer, semantically equivalent\n" +
	"- 'partial': Answer has the right direction but misses some key details or has minor inaccuracies\n" +
	"- 'incorrect': Answer is wrong, contradicts expected answer, or completely misses the point\n" +
	"\n" +
	"**accuracy** (0-100):\n" +
	"- 100: Core facts match expected answer (different wording is fine)\n" +
	"- 90-99: Correct information but minor differences in completeness or presentation\n" +
	"- 70-89: Mostly correct but missing some important details\n" +
	"- 50-69: Partially correct with significant gaps or minor errors\n" +
	"- Below 50: Major errors or mostly incorrect\n" +
	"- Focus on INFORMATION CORRECTNESS, not format or style\n" +
	"\n" +
	"**evaluation_score** (0-100):\n" +
	"- Holistic quality: correctness + helpfulness + professionalism\n" +
	"- 100: Perfect answer that fully satisfies the user's need\n" +
	"- Deduct for: verbosity without value, poor structure, unhelpful tone\n" +
	"- Reward: clarity, directness, appropriate detail level\n" +
	"\n" +
	"**semantic_accuracy** (0-100):\n" +
	"- 100: Meaning perfectly aligns with expected answer\n" +
	"- Ignore differences in: word choice, sentence structure, formatting\n" +
	"- Focus on: whether the same information is conveyed\n" +
	"- Examples of 100 score: '23' vs '23 employees' vs 'The count is 23' vs 'There are twenty-three'\n" +
	"\n" +
	"**faithfulness** (0-100):\n" +
	"- 100: Every claim is verifiable in the provided context\n" +
	"- Heavily penalize: fabricated details, assumptions presented as facts, unsupported elaborations\n" +
	"- Reward: appropriate use of context, staying within context boundaries\n" +
	"- Note: Brevity when context is limited should score 100, not be penalized\n" +
	"\n" +
	"**answer_relevancy** (0-100):\n" +
	"- 100: Directly addresses the question without tangents\n" +
	"- Deduct for: off-topic content, excessive preambles, irrelevant information\n" +
	"- Reward: focused, on-point responses\n" +
	"\n" +
	"**content_precision** (0-100):\n" +
	"- 100: Appropriate level of detail given the context and question\n" +
	"- Penalize: vagueness when specifics are available, over-elaboration beyond context, unsupported details\n" +
	"- Reward: specific answers when warranted, concise answers when appropriate\n" +
	"\n" +
	"**context_recall** (0-100):\n" +
	"- 100: Appropriately uses all relevant information from context\n" +
	"- Deduct for: missing key context elements that should be included\n" +
	"- Note: Not using irrelevant context should NOT be penalized\n" +
	"\n\n" +
	"## Common Evaluation Mistakes to Avoid\n" +
	"DO NOT:\n" +
	"- Penalize different phrasings of the same fact\n" +
	"- Expect elaborate answers when simple ones are sufficient\n" +
	"- Penalize brevity when context is limited\n" +
	"- Focus on style over substance\n" +
	"\n" +
	"DO:\n" +
	"- Reward factual correctness regardless of format\n" +
	"- Heavily penalize only actual hallucinations\n" +
	"- Judge whether the answer serves the user's need\n" +
	"\n\n" +
	"## Response Format\n" +
	"Respond ONLY with a valid JSON object (no markdown fences) containing:\n" +
	"- verdict: string ('correct' | 'partial' | 'incorrect')\n" +
	"- accuracy: number (0-100)\n" +
	"- evaluation_score: number (0-100)\n" +
	"- semantic_accuracy: number (0-100)\n" +
	"- faithfulness: number (0-100)\n" +
	"- answer_relevancy: number (0-100)\n" +
	"- content_precision: number (0-100)\n" +
	"- context_recall: number (0-100)\n" +
	"- reasoning: string (2-3 sentences summarizing the evaluation)\n" +
	"- recommended_fix: string (specific suggestion if score < 95, empty string otherwise)\n" +
	"- metric_breakdown: object with one-sentence justification for each metric\n" +
	"\n" +
	"Evaluate fairly and consistently. Focus on whether the answer is correct and useful, not whether it matches a specific style."

// EvaluationUserMessage renders one evaluation request for the judge.
func EvaluationUserMessage(question, expectedAnswer, modelAnswer string, contextSnippets []string) string {
	joined := "- No retrieved context"
	if len(contextSnippets) > 0 {
		lines := make([]string, 0, len(contextSnippets))
		for _, snippet := range contextSnippets {
			lines = append(lines, "- "+snippet)
		}
		joined = strings.Join(lines, "\n")
	}

	return fmt.Sprintf("Evaluate the assistant's answer against the reference using the provided context."+
		"\n\nQuestion:\n%s"+
		"\n\nExpected Answer:\n%s"+
		"\n\nAssistant Answer:\n%s"+
		"\n\nRetrieved Context:\n%s"+
		"\n\nReturn the JSON object described in the system prompt.",
		strings.TrimSpace(question), strings.TrimSpace(expectedAnswer), strings.TrimSpace(modelAnswer), joined)
}
