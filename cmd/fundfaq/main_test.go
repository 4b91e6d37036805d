package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"what", "is", "the", "ter", "--llm", "google/gemini-2.0-flash", "--json"})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Args) != 4 || f.Args[0] != "what" {
		t.Fatalf("Args = %v", f.Args)
	}
	if f.LLM != "google/gemini-2.0-flash" || !f.JSON {
		t.Fatalf("flags = %+v", f)
	}
}

func TestParseFlagsEqualsForm(t *testing.T) {
	f, err := parseFlags([]string{"--db=/tmp/x.db", "--limit=7", "--fund=ELSS"})
	if err != nil {
		t.Fatal(err)
	}
	if f.DBPath != "/tmp/x.db" || f.Limit != 7 || f.Fund != "ELSS" {
		t.Fatalf("flags = %+v", f)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	if _, err := parseFlags([]string{"--llm"}); err == nil {
		t.Fatal("expected error for missing value")
	}
	if _, err := parseFlags([]string{"--limit", "abc"}); err == nil {
		t.Fatal("expected error for bad limit")
	}
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestFundsListHonorsConfiguredCatalog(t *testing.T) {
	dir := t.TempDir()
	fundsPath := filepath.Join(dir, "funds.yaml")
	if err := os.WriteFile(fundsPath, []byte(`funds:
  - id: GILT
    name: HDFC Gilt Fund
    aliases: [gilt, gsec fund]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FUNDFAQ_FUNDS", fundsPath)

	f, err := parseFlags([]string{"--config", filepath.Join(dir, "missing.yaml")})
	if err != nil {
		t.Fatal(err)
	}
	rc, err := resolve(f)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := loadRegistry(rc)
	if err != nil {
		t.Fatal(err)
	}

	out := fundsText(reg)
	if !strings.Contains(out, "HDFC Gilt Fund") || !strings.Contains(out, "gsec fund") {
		t.Fatalf("funds listing missing the configured catalog:\n%s", out)
	}
	if strings.Contains(out, "HDFC Large Cap Fund") {
		t.Fatalf("funds listing fell back to the built-in catalog:\n%s", out)
	}
}

func TestParseFlagsBooleans(t *testing.T) {
	f, err := parseFlags([]string{"--no-llm", "--no-embed", "query"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.NoLLM || !f.NoEmbed || len(f.Args) != 1 {
		t.Fatalf("flags = %+v", f)
	}
}
