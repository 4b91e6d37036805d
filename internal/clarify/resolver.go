// Package clarify resolves which fund a factual query is about.
//
// Resolution order, cheapest first: a fund named in the query itself, a
// pending clarification answered by this turn, then an LLM check on
// whether the question even needs a specific fund. Only when all three
// come up empty does the resolver suspend the query behind a
// clarification prompt.
package clarify

import (
	"context"
	"fmt"
	"strings"

	"fundfaq/internal/conversation"
	"fundfaq/internal/llm"
	"fundfaq/internal/registry"
)

const necessityPrompt = `A user asked a mutual fund FAQ assistant:

%q

The assistant tracks these funds: %s.

Does answering require knowing WHICH specific fund the user means?
Questions about a scheme's own numbers (SIP minimum, expense ratio, exit
load, returns, lock-in) need a fund. General questions (what is a SIP,
how are mutual funds taxed, what is SEBI) do not.

Answer with exactly one word: yes or no.`

// fundSpecificMarkers is the deterministic necessity check used when no
// provider is configured at all: topics whose answer differs per scheme.
var fundSpecificMarkers = []string{
	"sip amount", "minimum sip", "minimum investment", "expense ratio",
	"exit load", "lock-in", "lock in", "nav", "returns", "aum",
	"fund manager", "riskometer", "benchmark", "portfolio", "factsheet",
	"inception",
}

// Outcome is the resolver's decision for one query.
type Outcome struct {
	// Query is the text to retrieve with. When a pending clarification was
	// answered this is the original question recombined with the fund the
	// user just named.
	Query string
	// Fund is the single resolved fund, empty when none applies.
	Fund registry.FundID
	// Funds lists every fund mentioned when the query names more than one;
	// retrieval then runs unfiltered.
	Funds []registry.FundID
	// NeedsClarification suspends the query: Prompt must be shown and the
	// next user turn treated as the answer.
	NeedsClarification bool
	Prompt             string
	Candidates         []registry.FundID
	// Augmented is set when Query was rebuilt from a pending clarification.
	Augmented bool
}

// Resolver decides fund scope for factual queries.
type Resolver struct {
	reg      *registry.Registry
	provider llm.Provider
}

// New builds a resolver. provider may be nil; the necessity check then
// uses the keyword fallback.
func New(reg *registry.Registry, provider llm.Provider) *Resolver {
	return &Resolver{reg: reg, provider: provider}
}

// Resolve determines which fund (if any) the query concerns.
func (r *Resolver) Resolve(ctx context.Context, query string, h conversation.History) Outcome {
	// A pending clarification makes this turn the answer: recombine the
	// suspended question with the fund the user just named.
	if h.AwaitingClarification() {
		if pending := h.PendingQuery(); pending != "" {
			if ids := r.reg.Match(query); len(ids) == 1 {
				fund, _ := r.reg.Get(ids[0])
				combined := strings.TrimSpace(pending + " " + fund.Name)
				return Outcome{Query: combined, Fund: ids[0], Augmented: true}
			}
		}
	}

	switch ids := r.reg.Match(query); len(ids) {
	case 0:
		// Fall through to the necessity check.
	case 1:
		return Outcome{Query: query, Fund: ids[0]}
	default:
		// Multiple funds named: comparative question, retrieve unfiltered.
		return Outcome{Query: query, Funds: ids}
	}

	// No fund mentioned anywhere. Does the question need one?
	if r.needsFund(ctx, query) {
		return Outcome{
			Query:              query,
			NeedsClarification: true,
			Prompt:             r.Prompt(),
			Candidates:         r.candidates(),
		}
	}
	return Outcome{Query: query}
}

// needsFund asks the model whether the answer is fund-specific. A call
// failure or an unparseable reply defaults to false: the query goes to
// retrieval unfiltered rather than blocking the user behind a prompt.
// Only a deliberately provider-less resolver uses the keyword markers.
func (r *Resolver) needsFund(ctx context.Context, query string) bool {
	if r.provider != nil {
		raw, err := r.provider.Complete(ctx,
			fmt.Sprintf(necessityPrompt, query, strings.Join(r.reg.Names(), ", ")),
			llm.CompletionOpts{MaxTokens: 4, Temperature: 0})
		if err != nil {
			return false
		}
		return firstToken(raw) == "yes"
	}

	lower := strings.ToLower(query)
	for _, m := range fundSpecificMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Prompt renders the clarification question listing the tracked funds.
func (r *Resolver) Prompt() string {
	var sb strings.Builder
	sb.WriteString("Which fund would you like to know about? We cover:\n")
	for _, name := range r.reg.Names() {
		sb.WriteString("• ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Resolver) candidates() []registry.FundID {
	funds := r.reg.Funds()
	ids := make([]registry.FundID, len(funds))
	for i, f := range funds {
		ids[i] = f.ID
	}
	return ids
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(strings.ToLower(fields[0]), ".,!:\"'`")
}
