// Package registry holds the static fund catalog the assistant answers about.
//
// The catalog is small and immutable after load: a handful of funds, each
// with a canonical name and the aliases users actually type ("elss",
// "tax saver", "flexicap"). Aliases must be unique across funds — a
// duplicate is a configuration error and the registry refuses to load,
// because alias resolution would otherwise be undefined at query time.
package registry

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// FundID is a short stable tag identifying one fund.
type FundID string

// Built-in catalog tags.
const (
	FundLargeCap FundID = "LARGE_CAP"
	FundFlexiCap FundID = "FLEXI_CAP"
	FundELSS     FundID = "ELSS"
	FundHybrid   FundID = "HYBRID"
)

// Fund is one tracked fund with its matching aliases.
type Fund struct {
	ID      FundID   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Registry is the immutable fund catalog. Safe for concurrent reads.
type Registry struct {
	funds   []Fund
	byID    map[FundID]int
	byAlias map[string]FundID
}

// New builds a validated registry from a fund list.
// Returns an error for an empty list, a fund missing its ID or name,
// or an alias that maps to two different funds.
func New(funds []Fund) (*Registry, error) {
	if len(funds) == 0 {
		return nil, fmt.Errorf("fund registry is empty")
	}

	r := &Registry{
		funds:   make([]Fund, len(funds)),
		byID:    make(map[FundID]int, len(funds)),
		byAlias: make(map[string]FundID),
	}
	copy(r.funds, funds)

	for i, f := range r.funds {
		if f.ID == "" || strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("fund at index %d is missing id or name", i)
		}
		if _, dup := r.byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate fund id %q", f.ID)
		}
		r.byID[f.ID] = i

		// The canonical name is an implicit alias.
		for _, alias := range append([]string{f.Name}, f.Aliases...) {
			key := normalizeAlias(alias)
			if key == "" {
				return nil, fmt.Errorf("fund %q has an empty alias", f.ID)
			}
			if owner, ok := r.byAlias[key]; ok && owner != f.ID {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", alias, owner, f.ID)
			}
			r.byAlias[key] = f.ID
		}
	}

	return r, nil
}

// Load reads a fund catalog from a YAML file.
//
// File format:
//
//	funds:
//	  - id: LARGE_CAP
//	    name: HDFC Large Cap Fund
//	    aliases: ["large cap", "largecap"]
func Load(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var file struct {
		Funds []Fund `yaml:"funds"`
	}
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	r, err := New(file.Funds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := New([]Fund{
		{
			ID:      FundLargeCap,
			Name:    "HDFC Large Cap Fund",
			Aliases: []string{"large cap", "largecap", "large-cap"},
		},
		{
			ID:      FundFlexiCap,
			Name:    "HDFC Flexi Cap Fund",
			Aliases: []string{"flexi cap", "flexicap", "flexi-cap"},
		},
		{
			ID:      FundELSS,
			Name:    "HDFC TaxSaver (ELSS)",
			Aliases: []string{"elss", "taxsaver", "tax saver", "tax-saver"},
		},
		{
			ID:      FundHybrid,
			Name:    "HDFC Hybrid Equity Fund",
			Aliases: []string{"hybrid", "hybrid equity"},
		},
	})
	if err != nil {
		// The built-in catalog is validated by tests; this cannot fail.
		panic(err)
	}
	return r
}

// Funds returns the catalog in declaration order.
func (r *Registry) Funds() []Fund {
	out := make([]Fund, len(r.funds))
	copy(out, r.funds)
	return out
}

// Get looks up a fund by ID.
func (r *Registry) Get(id FundID) (Fund, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Fund{}, false
	}
	return r.funds[i], true
}

// Names returns the canonical fund names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.funds))
	for i, f := range r.funds {
		names[i] = f.Name
	}
	return names
}

// Match scans free text for fund aliases and returns every distinct fund
// mentioned, in catalog order. Matching is case-insensitive and respects
// word boundaries, so "elss" matches "Should I pick ELSS?" but not
// "wellspring".
func (r *Registry) Match(text string) []FundID {
	haystack := " " + normalizeAlias(text) + " "
	seen := make(map[FundID]bool)
	for alias, id := range r.byAlias {
		if seen[id] {
			continue
		}
		if containsWord(haystack, alias) {
			seen[id] = true
		}
	}

	out := make([]FundID, 0, len(seen))
	for _, f := range r.funds {
		if seen[f.ID] {
			out = append(out, f.ID)
		}
	}
	return out
}

// containsWord reports whether needle occurs in haystack bounded by
// non-alphanumeric runes. haystack must already be normalized and padded
// with spaces.
func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		i := strings.Index(haystack[start:], needle)
		if i < 0 {
			return false
		}
		i += start
		before := rune(haystack[i-1])
		after := rune(haystack[i+len(needle)])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		start = i + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// normalizeAlias lowercases and collapses whitespace so alias matching is
// insensitive to case and spacing.
func normalizeAlias(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
