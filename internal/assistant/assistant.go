// Package assistant is the top-level pipeline: route a user turn, then
// answer it, refuse it, or ask which fund the user means.
//
// Process never returns an error for degraded conditions (no LLM, no
// relevant passages, generation failure): those become honest reply
// texts, because a chat surface has no better way to show them.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"fundfaq/internal/answer"
	"fundfaq/internal/citation"
	"fundfaq/internal/classify"
	"fundfaq/internal/conversation"
	"fundfaq/internal/llm"
	"fundfaq/internal/registry"
	"fundfaq/internal/retrieval"
	"fundfaq/internal/route"
	"fundfaq/internal/store"
)

const greetingText = `Hello! I'm a facts-only mutual fund assistant. I can help you with factual questions about HDFC Mutual Funds, such as expense ratios, exit loads, lock-in periods, riskometers, benchmarks, and more.

What would you like to know about HDFC Mutual Funds?`

const outOfContextText = `I'm designed to answer factual questions about mutual funds only. I can help you with information about HDFC Mutual Funds, including:

• Expense ratios and fees
• Exit loads and lock-in periods
• Riskometers and benchmarks
• How to download statements (CAS, tax reports)
• Fund details and investment objectives

Please ask me a question about mutual funds.`

const amfiLink = "https://www.amfiindia.com/investor/knowledge-center-info?zoneName=IntroductionMutualFunds"

const adviceText = `I provide factual information only and cannot give investment advice. For guidance on investment decisions, please consult a registered financial advisor.

You can learn more about mutual funds at the [AMFI Knowledge Center](` + amfiLink + `).`

const notFoundText = `I couldn't find that information in my knowledge base. I cover fund facts like expense ratios, exit loads, lock-in periods, and SIP minimums for HDFC Mutual Funds. Try rephrasing, or ask about one of those.`

const unavailableText = `I found relevant information but couldn't generate an answer right now. Please try again in a moment.`

// Retriever is the slice of the retrieval engine the assistant needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, fund registry.FundID) ([]retrieval.Result, error)
}

// Response is one assistant turn.
type Response struct {
	Text     string
	Category classify.Category
	Source   classify.Source
	Fund     registry.FundID
	// Citation is set only for grounded factual answers; Citations lists
	// every distinct source document behind the answer, most relevant
	// first, with same-document chunks collapsed.
	Citation  *citation.Citation
	Citations []citation.Citation
	// Passages are the retrieved chunks the answer was grounded on.
	Passages []store.Passage
	// Clarification is set when the turn was suspended on a fund prompt.
	Clarification *conversation.Clarification
}

// Clarifying reports whether this response asked the user to name a fund.
func (r *Response) Clarifying() bool {
	return r.Clarification != nil && r.Clarification.Pending
}

// Assistant wires the full pipeline.
type Assistant struct {
	reg       *registry.Registry
	router    *route.Router
	retriever Retriever
	answerer  *answer.Engine
}

// Config holds the assistant's collaborators. Registry defaults to the
// built-in catalog; Rules to the built-in ruleset.
type Config struct {
	Registry *registry.Registry
	Rules    *classify.Ruleset
	// Provider backs refinement and answer generation.
	Provider llm.Provider
	// ClassifyProvider backs the routing stages (relevance, intent,
	// necessity). Nil means share Provider; classification usually runs
	// on a cheaper model than generation.
	ClassifyProvider llm.Provider
	Retriever        Retriever
}

// New builds an assistant.
func New(cfg Config) (*Assistant, error) {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.ClassifyProvider == nil {
		cfg.ClassifyProvider = cfg.Provider
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("assistant requires a retriever")
	}
	return &Assistant{
		reg:       cfg.Registry,
		router:    route.New(cfg.ClassifyProvider, cfg.Registry, cfg.Rules),
		retriever: cfg.Retriever,
		answerer:  answer.New(cfg.Provider),
	}, nil
}

// Process handles one user turn against the session history.
func (a *Assistant) Process(ctx context.Context, query string, h conversation.History) (*Response, error) {
	d := a.router.Route(ctx, query, h)

	resp := &Response{
		Category: d.Classification.Category,
		Source:   d.Classification.Source,
		Fund:     d.Fund,
	}

	switch d.Classification.Category {
	case classify.Greeting:
		resp.Text = greetingText
		return resp, nil
	case classify.Coverage:
		resp.Text = a.coverageText()
		return resp, nil
	case classify.Advice:
		resp.Text = adviceText
		return resp, nil
	case classify.OutOfContext:
		resp.Text = outOfContextText
		return resp, nil
	}

	if d.NeedsClarification {
		resp.Text = d.ClarificationPrompt
		resp.Clarification = &conversation.Clarification{
			Pending:       true,
			OriginalQuery: d.Query,
			Candidates:    d.Candidates,
		}
		return resp, nil
	}

	// An augmented query was already rebuilt from the pending
	// clarification; refining it again would just churn it.
	retrieveQuery := d.Query
	if !d.Augmented {
		retrieveQuery = a.answerer.Refine(ctx, d.Query, h)
	}

	results, err := a.retriever.Retrieve(ctx, retrieveQuery, d.Fund)
	if err != nil {
		return nil, fmt.Errorf("retrieving passages: %w", err)
	}
	if len(results) == 0 {
		resp.Text = notFoundText
		return resp, nil
	}

	passages := make([]store.Passage, len(results))
	for i, r := range results {
		passages[i] = r.Passage
	}
	resp.Passages = passages

	cits := citation.All(passages)

	text, err := a.answerer.Generate(ctx, retrieveQuery, passages)
	if err != nil {
		resp.Text = unavailableText
		return resp, nil
	}

	resp.Citations = cits
	resp.Citation = &cits[0]
	resp.Text = answer.Format(text, resp.Citation)
	return resp, nil
}

// Turns converts a processed exchange into the pair of history turns to
// append to the session.
func Turns(query string, resp *Response) []conversation.Turn {
	return []conversation.Turn{
		{Role: conversation.RoleUser, Text: query},
		{
			Role:       conversation.RoleAssistant,
			Text:       resp.Text,
			Fund:       resp.Fund,
			Clarifying: resp.Clarifying(),
		},
	}
}

func (a *Assistant) coverageText() string {
	var sb strings.Builder
	sb.WriteString("I can answer factual questions about these HDFC mutual funds:\n")
	for _, name := range a.reg.Names() {
		sb.WriteString("• ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAsk me about expense ratios, exit loads, lock-in periods, SIP minimums, riskometers, benchmarks, or how to download statements.")
	return sb.String()
}

var _ Retriever = (*retrieval.Engine)(nil)
