package classify

import (
	"context"
	"fmt"
	"strings"

	"fundfaq/internal/llm"
)

const relevancePrompt = `You are a domain gate for a mutual fund FAQ assistant.
The assistant only answers questions about mutual funds, fund schemes, SIPs,
NAV, expense ratios, taxation of fund investments, and related regulatory
topics (SEBI, AMFI).

Is the following user message about that domain? Answer with exactly one
word: yes or no.

Message: %q`

// Relevance decides whether a query belongs to the mutual fund domain.
// It asks the model first and falls back to keyword matching when no
// provider is configured or the call fails.
type Relevance struct {
	provider llm.Provider
	rules    *Ruleset
}

// NewRelevance builds the relevance stage. provider may be nil, in which
// case every query is decided by the keyword fallback.
func NewRelevance(provider llm.Provider, rules *Ruleset) *Relevance {
	if rules == nil {
		rules = DefaultRuleset()
	}
	return &Relevance{provider: provider, rules: rules}
}

// InDomain reports whether the query is in the mutual fund domain and
// which mechanism decided.
func (r *Relevance) InDomain(ctx context.Context, query string) (bool, Source) {
	if r.provider == nil {
		return r.rules.MatchesDomainVocab(query), SourceFallback
	}

	raw, err := r.provider.Complete(ctx, fmt.Sprintf(relevancePrompt, query), llm.CompletionOpts{
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		return r.rules.MatchesDomainVocab(query), SourceFallback
	}

	switch firstToken(raw) {
	case "yes":
		return true, SourceLLM
	case "no":
		return false, SourceLLM
	}
	return r.rules.MatchesDomainVocab(query), SourceFallback
}

// firstToken lowercases the first whitespace-delimited token of a model
// reply, trimming punctuation and markdown fences.
func firstToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(strings.ToLower(fields[0]), ".,!:\"'`")
}
