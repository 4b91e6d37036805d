package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

func TestChunkShortText(t *testing.T) {
	got := Chunk("short text.", 800, 100)
	if len(got) != 1 || got[0] != "short text." {
		t.Fatalf("Chunk = %v", got)
	}
	if Chunk("", 800, 100) != nil {
		t.Fatal("empty text must yield no chunks")
	}
	if Chunk("   \n  ", 800, 100) != nil {
		t.Fatal("whitespace text must yield no chunks")
	}
}

func TestChunkBreaksAtSentence(t *testing.T) {
	// Two sentences straddling the chunk size: the split must land on
	// the period, not mid-word.
	first := strings.Repeat("a", 70) + "."
	second := " " + strings.Repeat("b", 80) + "."
	chunks := Chunk(first+second, 100, 20)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %v", chunks)
	}
	if chunks[0] != first {
		t.Fatalf("first chunk = %q", chunks[0])
	}
}

func TestChunkOverlap(t *testing.T) {
	text := strings.Repeat("x", 250) // no sentence boundaries at all
	chunks := Chunk(text, 100, 20)

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	// Consecutive chunks share the overlap region.
	tail := chunks[0][len(chunks[0])-20:]
	if !strings.HasPrefix(chunks[1], tail) {
		t.Fatal("chunks do not overlap")
	}
}

func TestChunkCoversAllText(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("Sentence number with some padding words in it.\n")
	}
	text := sb.String()
	chunks := Chunk(text, 800, 100)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 800 {
			t.Fatalf("oversized chunk: %d bytes", len(c))
		}
	}
	// The last sentence must appear somewhere.
	if !strings.Contains(chunks[len(chunks)-1], "padding words") {
		t.Fatal("tail content lost")
	}
}

func TestMetricsLine(t *testing.T) {
	got := metricsLine(map[string]string{
		"expense_ratio": "1.65%",
		"nav":           "₹123.45",
		"aum":           "₹35,000 Cr",
		"benchmark":     "NIFTY 100 TRI",
	})
	want := "Key Metrics: Total Expense Ratio (TER): 1.65% | NAV: ₹123.45 | AUM: ₹35,000 Cr | Benchmark: NIFTY 100 TRI"
	if got != want {
		t.Fatalf("metricsLine = %q", got)
	}

	// Known scraper glitches are dropped.
	got = metricsLine(map[string]string{"nav": ",", "benchmark": "Riskometer"})
	if got != "" {
		t.Fatalf("glitch metrics survived: %q", got)
	}

	if metricsLine(nil) != "" {
		t.Fatal("nil metrics must yield empty line")
	}
}

func TestPrimarySource(t *testing.T) {
	sources := []Source{
		{SourceID: "overview"},
		{SourceID: "factsheet", SourceTitle: "Factsheet", URL: "https://x.com/f.pdf"},
	}
	got := primarySource(sources, "HDFC Large Cap Fund")
	if got.SourceID != "factsheet" {
		t.Fatalf("picked %q", got.SourceID)
	}

	// No URLs anywhere: first source wins, titled after the fund.
	got = primarySource([]Source{{SourceID: "overview"}}, "HDFC Large Cap Fund")
	if got.SourceID != "overview" || got.SourceTitle != "HDFC Large Cap Fund" {
		t.Fatalf("got %+v", got)
	}

	got = primarySource(nil, "HDFC Large Cap Fund")
	if got.SourceTitle != "HDFC Large Cap Fund" {
		t.Fatalf("got %+v", got)
	}
}

const testKB = `{
	"metadata": {"created_at": "2026-06-30T12:00:00Z"},
	"funds": {
		"ELSS": {
			"fund_name": "HDFC TaxSaver (ELSS)",
			"content": "HDFC TaxSaver is an equity linked savings scheme with a statutory lock-in period of three years from the date of allotment.",
			"metrics": {"expense_ratio": "1.18%", "benchmark": "NIFTY 500 TRI"},
			"sources": [{"source_id": "factsheet", "source_title": "TaxSaver Factsheet", "url": "https://x.com/taxsaver.pdf"}]
		},
		"EMPTY": {
			"fund_name": "Placeholder",
			"content": "too short"
		}
	},
	"regulatory": {
		"sebi_kyc": {
			"title": "SEBI KYC Norms",
			"url": "https://sebi.gov.in/kyc",
			"content": "Know Your Customer norms require every mutual fund investor to complete identity verification before investing."
		}
	},
	"help": {
		"download_cas": {
			"title": "Download CAS",
			"url": "https://x.com/cas",
			"content": "A consolidated account statement can be downloaded from the registrar website using your registered email address."
		}
	}
}`

func writeKB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(testKB), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPassagesFromKB(t *testing.T) {
	kb, err := LoadKB(writeKB(t))
	if err != nil {
		t.Fatal(err)
	}
	passages := Passages(kb, "2026-06-30")

	var fund, reg, help int
	for _, p := range passages {
		switch p.DocType {
		case store.DocFund:
			fund++
			if p.FundID != registry.FundELSS {
				t.Fatalf("unexpected fund passage: %+v", p)
			}
			if !strings.Contains(p.Content, "Key Metrics: Total Expense Ratio (TER): 1.18%") {
				t.Fatalf("metrics not prepended: %q", p.Content)
			}
			if p.SourceTitle != "TaxSaver Factsheet" || p.SourceURL != "https://x.com/taxsaver.pdf" {
				t.Fatalf("source: %+v", p)
			}
		case store.DocRegulatory:
			reg++
			if p.FundID != "" {
				t.Fatalf("regulatory passage has fund: %+v", p)
			}
		case store.DocHelp:
			help++
		}
		if p.LastUpdated != "2026-06-30" {
			t.Fatalf("LastUpdated = %q", p.LastUpdated)
		}
	}
	if fund == 0 || reg == 0 || help == 0 {
		t.Fatalf("fund=%d reg=%d help=%d", fund, reg, help)
	}
}

func TestRunIngestsIntoStore(t *testing.T) {
	st, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	ing := New(st, nil)
	sum, err := ing.Run(context.Background(), writeKB(t))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Passages < 3 || sum.Embedded != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	// The short-content fund is counted in Funds but produced nothing.
	if sum.Funds != 2 {
		t.Fatalf("Funds = %d", sum.Funds)
	}

	results, err := st.SearchKeyword(context.Background(), "lock-in period", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("ingested content not searchable")
	}

	date, err := st.LastUpdated(context.Background(), registry.FundELSS)
	if err != nil || date != "2026-06-30" {
		t.Fatalf("LastUpdated = %q, %v", date, err)
	}

	// Re-running replaces rather than duplicates.
	again, err := ing.Run(context.Background(), writeKB(t))
	if err != nil {
		t.Fatal(err)
	}
	if again.Passages != sum.Passages {
		t.Fatalf("re-run passages = %d, want %d", again.Passages, sum.Passages)
	}
	stats, _ := st.Stats(context.Background())
	if stats.PassageCount != int64(sum.Passages) {
		t.Fatalf("store has %d passages after re-run, want %d", stats.PassageCount, sum.Passages)
	}
}

func TestRunMissingFile(t *testing.T) {
	st, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := New(st, nil).Run(context.Background(), "/nonexistent/kb.json"); err == nil {
		t.Fatal("expected error for missing knowledge base")
	}
}
