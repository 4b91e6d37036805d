package route

import (
	"context"
	"strings"
	"testing"

	"fundfaq/internal/classify"
	"fundfaq/internal/conversation"
	"fundfaq/internal/llm"
	"fundfaq/internal/registry"
)

// scriptedProvider answers each pipeline stage by prompt shape, so one
// fake serves relevance, intent, and the necessity check.
type scriptedProvider struct {
	relevance string
	intent    string
	necessity string
	calls     int
}

func (s *scriptedProvider) Complete(_ context.Context, prompt string, _ llm.CompletionOpts) (string, error) {
	s.calls++
	switch {
	case strings.Contains(prompt, "domain gate"):
		return s.relevance, nil
	case strings.Contains(prompt, "Classify this"):
		return s.intent, nil
	case strings.Contains(prompt, "Does answering require"):
		return s.necessity, nil
	}
	return "", nil
}

func (s *scriptedProvider) Name() string { return "scripted" }

func newRouter(p llm.Provider) *Router {
	return New(p, registry.Default(), nil)
}

func TestRouteFastPathSkipsLLM(t *testing.T) {
	p := &scriptedProvider{}
	r := newRouter(p)

	d := r.Route(context.Background(), "hello!", nil)
	if d.Classification.Category != classify.Greeting || d.Classification.Source != classify.SourceRule {
		t.Fatalf("Decision = %+v", d)
	}
	if p.calls != 0 {
		t.Fatalf("fast path made %d LLM calls", p.calls)
	}
}

func TestRouteOutOfDomain(t *testing.T) {
	p := &scriptedProvider{relevance: "no"}
	r := newRouter(p)

	d := r.Route(context.Background(), "best pizza in mumbai", nil)
	if d.Classification.Category != classify.OutOfContext {
		t.Fatalf("Category = %s", d.Classification.Category)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 (relevance only)", p.calls)
	}
}

func TestRouteAdviceStopsBeforeResolution(t *testing.T) {
	p := &scriptedProvider{relevance: "yes", intent: "advice"}
	r := newRouter(p)

	d := r.Route(context.Background(), "should I invest in ELSS?", nil)
	if d.Classification.Category != classify.Advice {
		t.Fatalf("Category = %s", d.Classification.Category)
	}
	if d.NeedsClarification {
		t.Fatal("non-factual decisions never clarify")
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
}

func TestRouteFactualWithFund(t *testing.T) {
	p := &scriptedProvider{relevance: "yes", intent: "factual"}
	r := newRouter(p)

	d := r.Route(context.Background(), "expense ratio of the flexi cap fund", nil)
	if d.Classification.Category != classify.Factual || d.Classification.Source != classify.SourceLLM {
		t.Fatalf("Classification = %+v", d.Classification)
	}
	if d.Fund != registry.FundFlexiCap {
		t.Fatalf("Fund = %q", d.Fund)
	}
	// Direct fund mention: the necessity check is never consulted.
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
}

func TestRouteFactualNeedsClarification(t *testing.T) {
	p := &scriptedProvider{relevance: "yes", intent: "factual", necessity: "yes"}
	r := newRouter(p)

	d := r.Route(context.Background(), "what is the minimum SIP amount?", nil)
	if !d.NeedsClarification {
		t.Fatalf("Decision = %+v", d)
	}
	if d.ClarificationPrompt == "" || len(d.Candidates) != 4 {
		t.Fatalf("prompt=%q candidates=%v", d.ClarificationPrompt, d.Candidates)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestRouteClarificationFollowUp(t *testing.T) {
	p := &scriptedProvider{}
	r := newRouter(p)

	h := conversation.History{
		{Role: conversation.RoleUser, Text: "what is the minimum SIP amount?"},
		{Role: conversation.RoleAssistant, Text: "Which fund?", Clarifying: true},
	}
	d := r.Route(context.Background(), "elss", h)
	if d.Classification.Category != classify.Factual {
		t.Fatalf("Category = %s", d.Classification.Category)
	}
	if d.Fund != registry.FundELSS || !d.Augmented {
		t.Fatalf("Decision = %+v", d)
	}
	if !strings.Contains(d.Query, "minimum SIP amount") {
		t.Fatalf("Query = %q", d.Query)
	}
	// Bare fund name resolves without any LLM call.
	if p.calls != 0 {
		t.Fatalf("calls = %d, want 0", p.calls)
	}
}

func TestRouteClarificationAbandoned(t *testing.T) {
	p := &scriptedProvider{relevance: "no"}
	r := newRouter(p)

	h := conversation.History{
		{Role: conversation.RoleUser, Text: "what is the minimum SIP amount?"},
		{Role: conversation.RoleAssistant, Text: "Which fund?", Clarifying: true},
	}
	// An off-topic follow-up abandons the pending clarification.
	d := r.Route(context.Background(), "tell me a joke instead", h)
	if d.Classification.Category != classify.OutOfContext {
		t.Fatalf("Category = %s", d.Classification.Category)
	}
	if d.NeedsClarification {
		t.Fatal("abandoned clarification must not re-prompt")
	}
}

func TestRouteNilProviderDeterministic(t *testing.T) {
	r := newRouter(nil)

	d := r.Route(context.Background(), "what is the exit load of the hybrid fund?", nil)
	if d.Classification.Category != classify.Factual || d.Classification.Source != classify.SourceFallback {
		t.Fatalf("Classification = %+v", d.Classification)
	}
	if d.Fund != registry.FundHybrid {
		t.Fatalf("Fund = %q", d.Fund)
	}
}
