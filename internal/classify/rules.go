package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// DefaultMinQueryLen is the minimum query length before the gibberish
// rule fires. Kept low so bare greetings ("hi") still reach the greeting
// patterns, which run first.
const DefaultMinQueryLen = 2

// PatternRule maps one regular expression to a category. Greeting and
// coverage patterns are anchored to the whole query so a compound like
// "hi, what is the expense ratio of ELSS?" never short-circuits — it
// falls through to the relevance and intent stages instead.
type PatternRule struct {
	Pattern  string   `yaml:"pattern"`
	Category Category `yaml:"category"`
	re       *regexp.Regexp
}

// Ruleset is the data-driven pattern and keyword configuration shared by
// the fast path and the classifier fallbacks. Load it from YAML or use
// DefaultRuleset.
type Ruleset struct {
	MinQueryLen int           `yaml:"min_query_len"`
	FastPath    []PatternRule `yaml:"fast_path"`
	// DomainVocab is the keyword fallback vocabulary for the relevance
	// stage. Kept deliberately broad: a false "out of domain" silently
	// refuses an answerable query, the costlier failure mode.
	DomainVocab []string `yaml:"domain_vocab"`
	// AdviceMarkers and CoverageMarkers drive the intent rule fallback.
	AdviceMarkers   []string `yaml:"advice_markers"`
	CoverageMarkers []string `yaml:"coverage_markers"`
}

// DefaultRuleset returns the built-in rules, compiled.
func DefaultRuleset() *Ruleset {
	rs := &Ruleset{
		MinQueryLen: DefaultMinQueryLen,
		FastPath: []PatternRule{
			{Pattern: `^(hi|hello|hey|howdy|yo|greetings)( there| all| team)?[\s!,.?]*$`, Category: Greeting},
			{Pattern: `^good (morning|afternoon|evening|night)[\s!,.?]*$`, Category: Greeting},
			{Pattern: `^(what'?s up|sup)[\s!,.?]*$`, Category: Greeting},
			{Pattern: `^(hi|hello|hey)[\s!,.]+how are you[\s!,.?]*$`, Category: Greeting},

			{Pattern: `^help[\s!.]*$`, Category: Coverage},
			{Pattern: `what (can|do) you (do|answer|cover|help( me)? with)`, Category: Coverage},
			{Pattern: `(which|what) funds? (do you )?(cover|know|support|track)`, Category: Coverage},
			{Pattern: `what (kinds? of )?(questions|topics|things) can (i|you)`, Category: Coverage},
			{Pattern: `(your|the) capabilities`, Category: Coverage},
		},
		DomainVocab: []string{
			"mutual fund", "mf", "fund", "scheme", "nav", "aum",
			"expense ratio", "ter", "exit load", "sip", "elss", "lock-in",
			"lock in", "riskometer", "benchmark", "portfolio", "factsheet",
			"hdfc", "amc", "sebi", "amfi", "cas", "statement",
			"tax", "capital gains", "dividend", "redemption", "redeem",
			"allotment", "units", "invest", "investment", "equity", "debt",
			"large cap", "flexi cap", "hybrid", "taxsaver", "tax saver",
			"fund manager", "returns",
		},
		AdviceMarkers: []string{
			"should i", "is it good", "is it bad", "is it worth",
			"is it safe", "recommend", "recommendation", "suggest",
			"suggestion", "which is better", "better than", "best fund",
			"good for me", "suitable for me", "advice", "your opinion",
			"what do you think",
		},
		CoverageMarkers: []string{
			"what can you do", "what do you cover", "which funds",
			"what funds", "capabilities", "what questions",
		},
	}
	if err := rs.Compile(); err != nil {
		// Built-in patterns are exercised by tests; compilation cannot fail.
		panic(err)
	}
	return rs
}

// LoadRuleset reads rule overrides from a YAML file. Fields left empty in
// the file keep their built-in defaults, so a deployment can tune one
// list without restating the rest.
func LoadRuleset(path string) (*Ruleset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var file Ruleset
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	rs := DefaultRuleset()
	if file.MinQueryLen > 0 {
		rs.MinQueryLen = file.MinQueryLen
	}
	if len(file.FastPath) > 0 {
		rs.FastPath = file.FastPath
	}
	if len(file.DomainVocab) > 0 {
		rs.DomainVocab = file.DomainVocab
	}
	if len(file.AdviceMarkers) > 0 {
		rs.AdviceMarkers = file.AdviceMarkers
	}
	if len(file.CoverageMarkers) > 0 {
		rs.CoverageMarkers = file.CoverageMarkers
	}
	if err := rs.Compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Compile compiles every fast-path pattern. Must be called after
// constructing a Ruleset by hand; Load and Default do it for you.
func (rs *Ruleset) Compile() error {
	for i := range rs.FastPath {
		r := &rs.FastPath[i]
		if _, err := ParseCategory(string(r.Category)); err != nil {
			return fmt.Errorf("fast-path rule %d: %w", i, err)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("fast-path rule %d (%q): %w", i, r.Pattern, err)
		}
		r.re = re
	}
	return nil
}

// ClassifyFast runs the zero-cost checks. The boolean reports whether a
// rule fired; false means the fast path has no opinion and the query
// must go through relevance and intent classification.
func (rs *Ruleset) ClassifyFast(query string) (Result, bool) {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	for _, rule := range rs.FastPath {
		if rule.re != nil && rule.re.MatchString(lower) {
			return Result{Category: rule.Category, Source: SourceRule}, true
		}
	}

	// Gibberish heuristics: too short, pure digits, or nothing
	// alphabetic once punctuation is stripped.
	minLen := rs.MinQueryLen
	if minLen <= 0 {
		minLen = DefaultMinQueryLen
	}
	if len(q) < minLen || isAllDigits(q) || !hasLetter(q) {
		return Result{Category: OutOfContext, Source: SourceRule}, true
	}

	return Result{}, false
}

// MatchesDomainVocab reports whether any domain keyword occurs in the
// query. This is the relevance classifier's deterministic fallback.
func (rs *Ruleset) MatchesDomainVocab(query string) bool {
	lower := " " + strings.ToLower(query) + " "
	for _, kw := range rs.DomainVocab {
		if containsTerm(lower, kw) {
			return true
		}
	}
	return false
}

// containsTerm matches kw in padded, lowercased text on word boundaries,
// so "mf" does not fire inside "comfort".
func containsTerm(padded, kw string) bool {
	for start := 0; ; {
		i := strings.Index(padded[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		if i == 0 || i+len(kw) >= len(padded) {
			return false
		}
		before := rune(padded[i-1])
		after := rune(padded[i+len(kw)])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		start = i + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
