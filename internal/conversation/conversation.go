// Package conversation holds per-session dialog state.
//
// The core pipeline is stateless: every call receives the full turn
// history for its session and returns what to append. Only the outer
// surfaces (CLI chat loop, MCP server) hold sessions, via Store.
package conversation

import "fundfaq/internal/registry"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a session. Append-only.
type Turn struct {
	Role Role
	Text string
	// Fund is set on turns where a fund was resolved (the user named one,
	// or the assistant answered about one).
	Fund registry.FundID
	// Clarifying marks an assistant turn that asked the user to name a
	// fund. The resolver inspects the most recent assistant turn for this
	// flag to detect the awaiting-disambiguation state.
	Clarifying bool
}

// Clarification is the suspended state of a factual query that could not
// be answered without a fund. It is surfaced to the caller alongside the
// prompt text and consumed (or abandoned) on the next user turn.
type Clarification struct {
	Pending       bool
	OriginalQuery string
	Candidates    []registry.FundID
}

// History is an ordered turn sequence, oldest first.
type History []Turn

// LastAssistant returns the most recent assistant turn.
func (h History) LastAssistant() (Turn, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleAssistant {
			return h[i], true
		}
	}
	return Turn{}, false
}

// AwaitingClarification reports whether the session is suspended on a
// disambiguation prompt: the most recent assistant turn asked for a fund.
func (h History) AwaitingClarification() bool {
	last, ok := h.LastAssistant()
	return ok && last.Clarifying
}

// PendingQuery returns the user query that triggered the most recent
// clarification prompt: the last user turn before the prompt. Empty when
// no clarification is pending.
func (h History) PendingQuery() string {
	idx := -1
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleAssistant {
			if h[i].Clarifying {
				idx = i
			}
			break
		}
	}
	if idx < 0 {
		return ""
	}
	for i := idx - 1; i >= 0; i-- {
		if h[i].Role == RoleUser {
			return h[i].Text
		}
	}
	return ""
}

// Recent returns the last n turns.
func (h History) Recent(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}
