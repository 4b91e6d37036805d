package classify

import (
	"context"
	"fmt"
	"strings"

	"fundfaq/internal/llm"
)

const intentPrompt = `Classify this mutual fund assistant query into exactly one category.

Categories:
- greeting: a salutation or pleasantry with no question
- coverage: asking what the assistant can do or which funds it covers
- advice: asking for an investment recommendation or opinion
- out_of_context: unrelated to mutual funds
- factual: an answerable factual question about mutual funds

Query: %q

Answer with the category name only, nothing else.`

// Intent is the five-way classifier for queries that passed the domain
// gate. LLM first, deterministic rules on failure, factual as the final
// default so borderline queries still reach retrieval.
type Intent struct {
	provider llm.Provider
	rules    *Ruleset
}

// NewIntent builds the intent stage. provider may be nil.
func NewIntent(provider llm.Provider, rules *Ruleset) *Intent {
	if rules == nil {
		rules = DefaultRuleset()
	}
	return &Intent{provider: provider, rules: rules}
}

// Classify assigns a category to an in-domain query.
func (in *Intent) Classify(ctx context.Context, query string) Result {
	if in.provider == nil {
		return in.ruleFallback(query)
	}

	raw, err := in.provider.Complete(ctx, fmt.Sprintf(intentPrompt, query), llm.CompletionOpts{
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return in.ruleFallback(query)
	}
	cat, err := ParseCategory(firstToken(raw))
	if err != nil {
		return in.ruleFallback(query)
	}
	return Result{Category: cat, Source: SourceLLM}
}

// ruleFallback applies marker lists in priority order. Advice wins over
// coverage: "should I invest, what do you cover" is still a refusal.
func (in *Intent) ruleFallback(query string) Result {
	padded := " " + strings.ToLower(strings.TrimSpace(query)) + " "

	for _, m := range in.rules.AdviceMarkers {
		if containsTerm(padded, m) {
			return Result{Category: Advice, Source: SourceFallback}
		}
	}
	for _, m := range in.rules.CoverageMarkers {
		if containsTerm(padded, m) {
			return Result{Category: Coverage, Source: SourceFallback}
		}
	}
	if res, ok := in.rules.ClassifyFast(query); ok {
		return Result{Category: res.Category, Source: SourceFallback}
	}
	return Result{Category: Factual, Source: SourceFallback}
}
