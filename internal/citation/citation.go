// Package citation turns retrieved passages into the source attribution
// shown under every factual answer.
package citation

import (
	"fmt"
	"net/url"
	"strings"

	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

// Citation is one attributable source.
type Citation struct {
	Title       string
	URL         string
	FundID      registry.FundID
	DocType     string
	LastUpdated string
}

// trackedParams are query parameters that identify the visitor, not the
// document. Stripped so stored citations never leak analytics state.
var trackedParams = []string{
	"_gl", "_ga", "gclid", "fbclid", "msclkid", "mc_cid", "mc_eid", "igshid",
}

// FromPassage builds a citation for one retrieved passage.
func FromPassage(p store.Passage) Citation {
	title := strings.TrimSpace(p.SourceTitle)
	if title == "" {
		title = "HDFC Mutual Fund"
	}
	return Citation{
		Title:       title,
		URL:         CleanURL(p.SourceURL),
		FundID:      p.FundID,
		DocType:     p.DocType,
		LastUpdated: p.LastUpdated,
	}
}

// CleanURL strips tracking query parameters (utm_*, _gl, gclid and the
// like) while preserving meaningful ones. Malformed URLs are returned
// unchanged: a broken link is better than no link.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	// A bare "?" left after stripping everything is noise.
	if u.RawQuery == "" {
		u.ForceQuery = false
	}
	return u.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	for _, p := range trackedParams {
		if lower == p {
			return true
		}
	}
	return false
}

// Dedupe keeps the first citation per (fund, doc type) pair, preserving
// order. Retrieval often returns several chunks of the same document;
// the answer should cite it once.
func Dedupe(citations []Citation) []Citation {
	type key struct {
		fund    registry.FundID
		docType string
	}
	seen := make(map[key]bool)
	out := citations[:0]
	for _, c := range citations {
		k := key{c.FundID, c.DocType}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// All builds the deduplicated citation list for a set of retained
// passages, in passage order.
func All(passages []store.Passage) []Citation {
	if len(passages) == 0 {
		return nil
	}
	cits := make([]Citation, len(passages))
	for i, p := range passages {
		cits[i] = FromPassage(p)
	}
	return Dedupe(cits)
}

// Primary picks the citation for the answer footer: the first passage's
// source, which after reranking is the most relevant one. Returns nil
// when nothing was retrieved.
func Primary(passages []store.Passage) *Citation {
	cits := All(passages)
	if len(cits) == 0 {
		return nil
	}
	return &cits[0]
}

// Markdown renders the citation footer line.
func (c Citation) Markdown() string {
	var sb strings.Builder
	if c.URL != "" {
		fmt.Fprintf(&sb, "Source: [%s](%s)", c.Title, c.URL)
	} else {
		fmt.Fprintf(&sb, "Source: %s", c.Title)
	}
	if c.LastUpdated != "" {
		fmt.Fprintf(&sb, " (as of %s)", c.LastUpdated)
	}
	return sb.String()
}
