// Package classify implements the layered query classifier.
//
// Three stages, cheapest first:
//
//  1. Fast-path rules (Ruleset.ClassifyFast) — pure pattern checks for
//     greetings, capability questions, and gibberish. No network.
//  2. Relevance (Relevance.InDomain) — LLM yes/no with a keyword
//     fallback deciding whether the query is about mutual funds at all.
//  3. Intent (Intent.Classify) — five-way LLM classification with a
//     rule fallback, run only for in-domain queries the fast path
//     declined.
//
// Every LLM-backed stage degrades to a deterministic rule result on
// call failure; a classification is always produced.
package classify

import "fmt"

// Category is the closed set of query classifications.
type Category string

const (
	// Greeting is a salutation with no factual content.
	Greeting Category = "greeting"
	// Coverage asks what the assistant can answer about.
	Coverage Category = "coverage"
	// Advice seeks an investment recommendation, which is refused.
	Advice Category = "advice"
	// OutOfContext is anything outside the mutual fund domain.
	OutOfContext Category = "out_of_context"
	// Factual is an answerable question about a tracked fund.
	Factual Category = "factual"
)

// ParseCategory validates a category token against the closed set.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case Greeting, Coverage, Advice, OutOfContext, Factual:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Source records which mechanism produced a classification.
type Source string

const (
	// SourceRule means a fast-path rule fired; no model was consulted.
	SourceRule Source = "rule"
	// SourceLLM means the model's answer was used directly.
	SourceLLM Source = "llm"
	// SourceFallback means the model call failed or was unparseable and
	// the deterministic fallback decided.
	SourceFallback Source = "fallback"
)

// Result is one query's classification. Produced per turn, never stored.
type Result struct {
	Category Category
	Source   Source
}
