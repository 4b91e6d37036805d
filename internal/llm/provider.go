// Package llm is the provider boundary for language-model completions.
//
// The rest of the codebase only sees the Provider interface; concrete
// adapters speak REST to Google AI Studio (Gemini) or any
// OpenAI-compatible endpoint via OpenRouter. Both use net/http directly.
// Classifier callers never retry here — their documented keyword/rule
// fallbacks substitute for retries.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds a single completion call. A call that exceeds it
// is indistinguishable from a failed call to the caller.
const DefaultTimeout = 30 * time.Second

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g. "google/gemini-2.0-flash").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0; classifiers run at 0
	Model       string  // per-request model override (empty = provider default)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // optional system prompt
}

// Config holds provider construction options.
type Config struct {
	Provider string        // "google" or "openrouter"
	Model    string        // e.g. "gemini-2.0-flash", "openai/gpt-4o-mini"
	APIKey   string        // empty = read from environment
	BaseURL  string        // optional URL override
	Timeout  time.Duration // per-request timeout (0 = DefaultTimeout)
}

// New creates an LLM provider from the given config.
func New(cfg Config) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch strings.ToLower(cfg.Provider) {
	case "google":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		return &googleProvider{apiKey: key, model: model, baseURL: baseURL, timeout: timeout}, nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return &openrouterProvider{apiKey: key, model: model, baseURL: baseURL, timeout: timeout}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: google, openrouter)", cfg.Provider)
	}
}

// ParseModel parses a "provider/model" value into a Config.
// OpenRouter model names may themselves contain slashes
// ("openrouter/openai/gpt-4o-mini"), so only the first segment is the
// provider.
func ParseModel(value string) (Config, error) {
	if strings.TrimSpace(value) == "" {
		return Config{Provider: "google", Model: "gemini-2.0-flash"}, nil
	}

	parts := strings.SplitN(value, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid model %q: expected provider/model (e.g. google/gemini-2.0-flash)", value)
	}

	provider := strings.ToLower(parts[0])
	switch provider {
	case "google", "openrouter":
		return Config{Provider: provider, Model: parts[1]}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in model %q (supported: google, openrouter)", provider, value)
	}
}
