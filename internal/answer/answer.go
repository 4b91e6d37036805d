// Package answer generates grounded responses from retrieved passages.
//
// Two LLM stages: Refine rewrites a follow-up question into a standalone
// retrieval query, Generate answers strictly from passage text. Refine
// degrades to the raw query; Generate retries once with a stripped-down
// prompt before giving up.
package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"fundfaq/internal/citation"
	"fundfaq/internal/conversation"
	"fundfaq/internal/llm"
	"fundfaq/internal/store"
)

// ErrNoProvider is returned by Generate when no LLM is configured.
// Callers turn it into the honest "can't answer right now" reply.
var ErrNoProvider = fmt.Errorf("no LLM provider configured")

const refineSystem = "You are a query refinement assistant. Preserve the specificity of questions. Return only the refined query, no explanations."

const refinePrompt = `Given the chat history and current question, generate a clear, factual query optimized for retrieving information about mutual funds. Focus on key terms like fund name, metric names (expense ratio, exit load, etc.). Preserve the SPECIFIC nature of the question - if they ask for ONE metric, keep it focused on that ONE metric. Return only the refined query, nothing else.
%s
Current question: %s

Refined query:`

const generateSystem = `You are a helpful assistant that answers factual questions about mutual funds. Provide natural, conversational answers that are precise and friendly. Answer ONLY what is asked - don't add extra information. Be concise (1-2 sentences). Only use information from the provided context.`

const generatePrompt = `Use the following information to answer the question. Provide a complete, natural sentence as your answer.

%s

Question: %s

Important:
1. Answer ONLY the specific question asked
2. Frame your answer as a complete sentence (e.g., "The expense ratio of HDFC Large Cap Fund is 0.96%%")
3. For minimum SIP questions, look for "Minimum SIP" amount, not "additional purchase" or "subsequent investment"
4. Do not include additional metrics unless specifically requested
5. Be precise - distinguish between initial minimum and additional purchase amounts

Answer:`

const simpleSystem = "You are a helpful assistant. Answer questions concisely using only the provided information."

const simplePrompt = `Answer this question using only the information below:

%s

Question: %s

Answer in one sentence:`

// Engine runs the two answer stages.
type Engine struct {
	provider llm.Provider
}

// New builds an answer engine. provider may be nil; Refine then passes
// queries through and Generate returns ErrNoProvider.
func New(provider llm.Provider) *Engine {
	return &Engine{provider: provider}
}

// Refine rewrites the query into a standalone retrieval query using the
// last few turns of history. Any failure returns the query unchanged.
func (e *Engine) Refine(ctx context.Context, query string, h conversation.History) string {
	if e.provider == nil {
		return query
	}

	var history strings.Builder
	if recent := h.Recent(6); len(recent) > 0 {
		history.WriteString("\nPrevious conversation:\n")
		for _, t := range recent {
			switch t.Role {
			case conversation.RoleUser:
				fmt.Fprintf(&history, "User: %s\n", t.Text)
			case conversation.RoleAssistant:
				fmt.Fprintf(&history, "Assistant: %s\n", t.Text)
			}
		}
	}

	refined, err := e.provider.Complete(ctx,
		fmt.Sprintf(refinePrompt, history.String(), query),
		llm.CompletionOpts{MaxTokens: 100, Temperature: 0.1, System: refineSystem})
	if err != nil {
		return query
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return query
	}
	return refined
}

// Generate answers the query from the passages. On failure it retries
// once with a simpler prompt over the first passage only; if that also
// fails, the error is returned.
func (e *Engine) Generate(ctx context.Context, query string, passages []store.Passage) (string, error) {
	if e.provider == nil {
		return "", ErrNoProvider
	}
	if len(passages) == 0 {
		return "", fmt.Errorf("no passages to answer from")
	}

	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, CleanContext(p.Content))
	}
	context := strings.Join(parts, "\n\n---\n\n")

	text, err := e.provider.Complete(ctx,
		fmt.Sprintf(generatePrompt, context, query),
		llm.CompletionOpts{MaxTokens: 100, Temperature: 0.2, System: generateSystem})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), nil
	}

	return e.retrySimple(ctx, query, passages)
}

func (e *Engine) retrySimple(ctx context.Context, query string, passages []store.Passage) (string, error) {
	simple := passages[0].Content
	if len(simple) > 1000 {
		simple = simple[:1000]
	}
	text, err := e.provider.Complete(ctx,
		fmt.Sprintf(simplePrompt, CleanContext(simple), query),
		llm.CompletionOpts{MaxTokens: 100, Temperature: 0.1, System: simpleSystem})
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty answer from provider")
	}
	return strings.TrimSpace(text), nil
}

var (
	pageArtifactRe = regexp.MustCompile(`Page \d+ of \d+`)
	navRe          = regexp.MustCompile(`Home\s*/\s*[^\n]*`)
	copyrightRe    = regexp.MustCompile(`© \d{4}.*?All Rights Reserved`)
	separatorRe    = regexp.MustCompile(`[-=]{3,}`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe   = regexp.MustCompile(` {2,}`)
	trailingSrcRe  = regexp.MustCompile(`(?is)\s*Source:.*$`)
)

// CleanContext strips PDF artifacts, navigation breadcrumbs, and
// separator noise from scraped text. Content is never summarized or
// truncated here, only de-noised.
func CleanContext(text string) string {
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	text = pageArtifactRe.ReplaceAllString(text, "")
	text = navRe.ReplaceAllString(text, "")
	text = copyrightRe.ReplaceAllString(text, "")
	text = separatorRe.ReplaceAllString(text, "")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Format appends the citation footer, first removing any "Source:" line
// the model emitted on its own so the footer is never doubled.
func Format(text string, cit *citation.Citation) string {
	text = strings.TrimSpace(trailingSrcRe.ReplaceAllString(text, ""))
	if cit == nil {
		return text
	}
	return text + "\n\n" + cit.Markdown()
}
