// Package config resolves runtime settings from, in rising precedence:
// config file, environment (including .env files), CLI flags. Every
// resolved value remembers where it came from so `fundfaq config` can
// show users why a setting has the value it does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a setting plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI overrides into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIEmbed   string
	CLIDBPath  string
	CLIKBPath  string
}

// ResolvedConfig is every setting the binary needs, with provenance.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`
	KBPath ResolvedValue `json:"kb_path"`
	// FundsPath and RulesPath point at optional YAML overrides for the
	// fund catalog and classifier rules.
	FundsPath ResolvedValue `json:"funds_path"`
	RulesPath ResolvedValue `json:"rules_path"`

	// LLMProvider is the default provider/model; ClassifyModel and
	// AnswerModel override it per purpose.
	LLMProvider   ResolvedValue `json:"llm_provider"`
	ClassifyModel ResolvedValue `json:"llm_classify_model"`
	AnswerModel   ResolvedValue `json:"llm_answer_model"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	KBPath    string `yaml:"kb_path"`
	FundsPath string `yaml:"funds_path"`
	RulesPath string `yaml:"rules_path"`
	LLM       struct {
		Provider      string `yaml:"provider"`
		APIKey        string `yaml:"api_key"`
		ClassifyModel string `yaml:"classify_model"`
		AnswerModel   string `yaml:"answer_model"`
	} `yaml:"llm"`
	Embed struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
}

// DefaultConfigPath is ~/.fundfaq/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fundfaq", "config.yaml")
}

// LoadDotenv loads .env.{ENVIRONMENT} then .env from the working
// directory. Existing process env always wins; missing files are fine.
func LoadDotenv() {
	if env := strings.TrimSpace(os.Getenv("ENVIRONMENT")); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load()
}

// Resolve builds the effective configuration.
func Resolve(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.KBPath, cfg.KBPath, SourceConfig, path)
		apply(&out.FundsPath, cfg.FundsPath, SourceConfig, path)
		apply(&out.RulesPath, cfg.RulesPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.ClassifyModel, cfg.LLM.ClassifyModel, SourceConfig, path)
		apply(&out.AnswerModel, cfg.LLM.AnswerModel, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)

		if key := strings.TrimSpace(cfg.Embed.APIKey); key != "" {
			out.EmbedAPIKey = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			providers := map[string]struct{}{}
			for _, v := range []string{cfg.LLM.Provider, cfg.LLM.ClassifyModel, cfg.LLM.AnswerModel} {
				if p := providerOf(v); p != "" {
					providers[p] = struct{}{}
				}
			}
			if len(providers) == 0 {
				providers["default"] = struct{}{}
			}
			for p := range providers {
				out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
			}
		}
	}

	applyEnv(&out.DBPath, "FUNDFAQ_DB")
	applyEnv(&out.KBPath, "FUNDFAQ_KB")
	applyEnv(&out.FundsPath, "FUNDFAQ_FUNDS")
	applyEnv(&out.RulesPath, "FUNDFAQ_RULES")

	applyEnv(&out.LLMProvider, "FUNDFAQ_LLM")
	applyEnv(&out.ClassifyModel, "FUNDFAQ_LLM_CLASSIFY")
	applyEnv(&out.AnswerModel, "FUNDFAQ_LLM_ANSWER")

	applyEnv(&out.EmbedProvider, "FUNDFAQ_EMBED")
	applyEnv(&out.EmbedEndpoint, "FUNDFAQ_EMBED_ENDPOINT")
	if v := strings.TrimSpace(os.Getenv("FUNDFAQ_EMBED_API_KEY")); v != "" {
		out.EmbedAPIKey = ResolvedValue{Value: v, Source: SourceEnv, From: "FUNDFAQ_EMBED_API_KEY"}
	}

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.KBPath, opts.CLIKBPath, SourceCLI, "--kb")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	return out, nil
}

// EffectiveLLMModel picks the model for a purpose ("classify" or
// "answer"), falling back to the default provider, then to fallback.
func (r ResolvedConfig) EffectiveLLMModel(purpose, fallback string) ResolvedValue {
	var candidates []ResolvedValue
	switch strings.ToLower(strings.TrimSpace(purpose)) {
	case "classify":
		candidates = append(candidates, r.ClassifyModel)
	case "answer":
		candidates = append(candidates, r.AnswerModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		// A bare provider name adopts the fallback's model when they
		// agree on the provider.
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

// APIKeyForProvider finds the key for a "provider" or "provider/model".
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
