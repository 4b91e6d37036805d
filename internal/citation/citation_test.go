package citation

import (
	"strings"
	"testing"

	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

func TestCleanURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"gl tracker stripped",
			"https://www.hdfcfund.com/docs/factsheet.pdf?_gl=1*abc123*_ga*xyz",
			"https://www.hdfcfund.com/docs/factsheet.pdf",
		},
		{
			"utm stripped, real params kept",
			"https://example.com/faq?page=2&utm_source=newsletter&utm_medium=email",
			"https://example.com/faq?page=2",
		},
		{
			"gclid and fbclid stripped",
			"https://example.com/doc?gclid=abc&fbclid=def",
			"https://example.com/doc",
		},
		{
			"clean url untouched",
			"https://example.com/doc.pdf",
			"https://example.com/doc.pdf",
		},
		{
			"fragment preserved",
			"https://example.com/faq?utm_campaign=x#section-3",
			"https://example.com/faq#section-3",
		},
		{
			"empty",
			"",
			"",
		},
		{
			"malformed returned unchanged",
			"https://bad host/doc?_gl=1",
			"https://bad host/doc?_gl=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanURL(tt.in); got != tt.want {
				t.Fatalf("CleanURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromPassage(t *testing.T) {
	c := FromPassage(store.Passage{
		FundID:      registry.FundELSS,
		DocType:     store.DocFund,
		SourceTitle: "HDFC TaxSaver Factsheet",
		SourceURL:   "https://www.hdfcfund.com/taxsaver.pdf?_gl=1*abc",
		LastUpdated: "2026-06-30",
	})
	if c.URL != "https://www.hdfcfund.com/taxsaver.pdf" {
		t.Fatalf("URL = %q", c.URL)
	}
	if c.Title != "HDFC TaxSaver Factsheet" || c.LastUpdated != "2026-06-30" {
		t.Fatalf("citation = %+v", c)
	}

	// Missing title falls back to the AMC name.
	c = FromPassage(store.Passage{SourceURL: "https://x.com"})
	if c.Title != "HDFC Mutual Fund" {
		t.Fatalf("Title = %q", c.Title)
	}
}

func TestDedupe(t *testing.T) {
	in := []Citation{
		{FundID: registry.FundELSS, DocType: store.DocFund, Title: "first"},
		{FundID: registry.FundELSS, DocType: store.DocFund, Title: "second chunk, same doc"},
		{FundID: registry.FundELSS, DocType: store.DocRegulatory, Title: "tax rules"},
		{FundID: registry.FundLargeCap, DocType: store.DocFund, Title: "other fund"},
	}
	out := Dedupe(in)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Title != "first" {
		t.Fatalf("kept the wrong duplicate: %q", out[0].Title)
	}
}

func TestAll(t *testing.T) {
	if All(nil) != nil {
		t.Fatal("All(nil) must be nil")
	}
	out := All([]store.Passage{
		{FundID: registry.FundELSS, DocType: store.DocFund, SourceTitle: "Factsheet"},
		{FundID: registry.FundELSS, DocType: store.DocFund, SourceTitle: "Factsheet p2"},
		{FundID: registry.FundELSS, DocType: store.DocRegulatory, SourceTitle: "Tax Rules"},
	})
	if len(out) != 2 || out[0].Title != "Factsheet" || out[1].Title != "Tax Rules" {
		t.Fatalf("All = %+v", out)
	}
}

func TestPrimary(t *testing.T) {
	if Primary(nil) != nil {
		t.Fatal("Primary(nil) must be nil")
	}
	c := Primary([]store.Passage{
		{SourceTitle: "Factsheet", SourceURL: "https://x.com/a.pdf"},
		{SourceTitle: "Other"},
	})
	if c == nil || c.Title != "Factsheet" {
		t.Fatalf("Primary = %+v", c)
	}
}

func TestMarkdown(t *testing.T) {
	c := Citation{Title: "Factsheet", URL: "https://x.com/a.pdf", LastUpdated: "2026-06-30"}
	got := c.Markdown()
	if got != "Source: [Factsheet](https://x.com/a.pdf) (as of 2026-06-30)" {
		t.Fatalf("Markdown = %q", got)
	}

	c = Citation{Title: "Factsheet"}
	if got := c.Markdown(); !strings.HasPrefix(got, "Source: Factsheet") || strings.Contains(got, "(as of") {
		t.Fatalf("Markdown without url/date = %q", got)
	}
}
