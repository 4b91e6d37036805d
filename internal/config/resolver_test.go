package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FUNDFAQ_DB", "FUNDFAQ_KB", "FUNDFAQ_FUNDS", "FUNDFAQ_RULES",
		"FUNDFAQ_LLM", "FUNDFAQ_LLM_CLASSIFY", "FUNDFAQ_LLM_ANSWER",
		"FUNDFAQ_EMBED", "FUNDFAQ_EMBED_ENDPOINT", "FUNDFAQ_EMBED_API_KEY",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolvePrecedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
db_path: /from/config.db
kb_path: /from/config.json
llm:
  provider: google/gemini-2.0-flash
`)

	// Config file only.
	got, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath.Value != "/from/config.db" || got.DBPath.Source != SourceConfig {
		t.Fatalf("DBPath = %+v", got.DBPath)
	}

	// Env beats config.
	t.Setenv("FUNDFAQ_DB", "/from/env.db")
	got, err = Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath.Value != "/from/env.db" || got.DBPath.Source != SourceEnv || got.DBPath.From != "FUNDFAQ_DB" {
		t.Fatalf("DBPath = %+v", got.DBPath)
	}

	// CLI beats both.
	got, err = Resolve(ResolveOptions{ConfigPath: path, CLIDBPath: "/from/cli.db"})
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath.Value != "/from/cli.db" || got.DBPath.Source != SourceCLI {
		t.Fatalf("DBPath = %+v", got.DBPath)
	}

	// Untouched settings keep their config-file value.
	if got.KBPath.Value != "/from/config.json" {
		t.Fatalf("KBPath = %+v", got.KBPath)
	}
}

func TestResolveMissingConfigFile(t *testing.T) {
	clearEnv(t)
	got, err := Resolve(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath.Value != "" {
		t.Fatalf("DBPath = %+v", got.DBPath)
	}
}

func TestResolveMalformedConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "{not yaml:::")
	if _, err := Resolve(ResolveOptions{ConfigPath: path}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEffectiveLLMModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("FUNDFAQ_LLM", "google/gemini-2.0-flash")
	t.Setenv("FUNDFAQ_LLM_CLASSIFY", "openrouter/openai/gpt-4o-mini")

	got, err := Resolve(ResolveOptions{ConfigPath: "/nonexistent"})
	if err != nil {
		t.Fatal(err)
	}

	classify := got.EffectiveLLMModel("classify", "google/gemini-2.0-flash")
	if classify.Value != "openrouter/openai/gpt-4o-mini" {
		t.Fatalf("classify = %+v", classify)
	}
	// No answer-specific model: the default provider wins.
	ans := got.EffectiveLLMModel("answer", "google/gemini-2.0-flash")
	if ans.Value != "google/gemini-2.0-flash" || ans.Source != SourceEnv {
		t.Fatalf("answer = %+v", ans)
	}
}

func TestEffectiveLLMModelBareProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("FUNDFAQ_LLM", "google")

	got, err := Resolve(ResolveOptions{ConfigPath: "/nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	v := got.EffectiveLLMModel("answer", "google/gemini-2.0-flash")
	if v.Value != "google/gemini-2.0-flash" || v.Source != SourceEnv {
		t.Fatalf("v = %+v", v)
	}

	// Nothing set at all: built-in default.
	clearEnv(t)
	got, err = Resolve(ResolveOptions{ConfigPath: "/nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	v = got.EffectiveLLMModel("answer", "google/gemini-2.0-flash")
	if v.Source != SourceDefault {
		t.Fatalf("v = %+v", v)
	}
}

func TestAPIKeyForProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gkey")
	t.Setenv("OPENROUTER_API_KEY", "orkey")

	got, err := Resolve(ResolveOptions{ConfigPath: "/nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.APIKeyForProvider("google/gemini-2.0-flash"); v.Value != "gkey" {
		t.Fatalf("google key = %+v", v)
	}
	if v := got.APIKeyForProvider("openrouter"); v.Value != "orkey" {
		t.Fatalf("openrouter key = %+v", v)
	}
	if v := got.APIKeyForProvider("unknown"); v.Value != "" {
		t.Fatalf("unknown key = %+v", v)
	}
}

func TestConfigFileLLMKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: google/gemini-2.0-flash
  api_key: from-file
`)
	got, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.APIKeyForProvider("google"); v.Value != "from-file" || v.Source != SourceConfig {
		t.Fatalf("key = %+v", v)
	}
}
