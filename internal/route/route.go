// Package route runs a query through the full decision pipeline:
// fast-path rules, domain relevance, intent classification, and fund
// resolution. The output Decision tells the caller exactly what to do
// next: answer a canned category, ask for clarification, or retrieve.
package route

import (
	"context"

	"fundfaq/internal/clarify"
	"fundfaq/internal/classify"
	"fundfaq/internal/conversation"
	"fundfaq/internal/llm"
	"fundfaq/internal/registry"
)

// Decision is the routing outcome for one user turn.
type Decision struct {
	Classification classify.Result
	// Query is the retrieval query, possibly rebuilt from a pending
	// clarification. Meaningful only for factual decisions.
	Query string
	Fund  registry.FundID
	Funds []registry.FundID
	// NeedsClarification suspends the turn behind Prompt.
	NeedsClarification  bool
	ClarificationPrompt string
	Candidates          []registry.FundID
	Augmented           bool
}

// Router wires the pipeline stages. Stages share one provider; each
// degrades independently when the provider fails.
type Router struct {
	reg       *registry.Registry
	rules     *classify.Ruleset
	relevance *classify.Relevance
	intent    *classify.Intent
	resolver  *clarify.Resolver
}

// New builds a router. provider may be nil; every stage then runs on its
// deterministic fallback.
func New(provider llm.Provider, reg *registry.Registry, rules *classify.Ruleset) *Router {
	if rules == nil {
		rules = classify.DefaultRuleset()
	}
	return &Router{
		reg:       reg,
		rules:     rules,
		relevance: classify.NewRelevance(provider, rules),
		intent:    classify.NewIntent(provider, rules),
		resolver:  clarify.New(reg, provider),
	}
}

// Route classifies a query and resolves its fund scope.
func (r *Router) Route(ctx context.Context, query string, h conversation.History) Decision {
	if res, ok := r.rules.ClassifyFast(query); ok {
		return Decision{Classification: res, Query: query}
	}

	// A pending clarification answered with a fund name goes straight to
	// resolution: "HDFC Large Cap Fund" on its own would not survive
	// intent classification, but in context it is a factual turn.
	if h.AwaitingClarification() && len(r.reg.Match(query)) > 0 {
		return r.factual(ctx, query, h)
	}

	in, src := r.relevance.InDomain(ctx, query)
	if !in {
		return Decision{
			Classification: classify.Result{Category: classify.OutOfContext, Source: src},
			Query:          query,
		}
	}

	res := r.intent.Classify(ctx, query)
	if res.Category != classify.Factual {
		return Decision{Classification: res, Query: query}
	}

	d := r.factual(ctx, query, h)
	d.Classification = res
	return d
}

func (r *Router) factual(ctx context.Context, query string, h conversation.History) Decision {
	out := r.resolver.Resolve(ctx, query, h)
	return Decision{
		Classification:      classify.Result{Category: classify.Factual, Source: classify.SourceRule},
		Query:               out.Query,
		Fund:                out.Fund,
		Funds:               out.Funds,
		NeedsClarification:  out.NeedsClarification,
		ClarificationPrompt: out.Prompt,
		Candidates:          out.Candidates,
		Augmented:           out.Augmented,
	}
}
