package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcpserv "github.com/mark3labs/mcp-go/server"

	"fundfaq/internal/assistant"
	"fundfaq/internal/classify"
	"fundfaq/internal/config"
	"fundfaq/internal/conversation"
	"fundfaq/internal/embed"
	"fundfaq/internal/ingest"
	"fundfaq/internal/llm"
	"fundfaq/internal/mcpserver"
	"fundfaq/internal/registry"
	"fundfaq/internal/retrieval"
	"fundfaq/internal/store"
)

const version = "0.1.0-dev"

const defaultModel = "google/gemini-2.0-flash"

func main() {
	config.LoadDotenv()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:])
	case "funds":
		err = runFunds(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("fundfaq %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are the flags shared across subcommands. Positional
// arguments are collected into Args.
type commonFlags struct {
	ConfigPath string
	DBPath     string
	KBPath     string
	LLM        string
	Embed      string
	Fund       string
	Limit      int
	NoEmbed    bool
	NoLLM      bool
	JSON       bool
	Args       []string
}

func parseFlags(args []string) (commonFlags, error) {
	f := commonFlags{}

	take := func(i *int, name string) (string, error) {
		if strings.Contains(args[*i], "=") {
			return strings.SplitN(args[*i], "=", 2)[1], nil
		}
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		return args[*i], nil
	}

	var err error
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || strings.HasPrefix(arg, "--config="):
			f.ConfigPath, err = take(&i, "--config")
		case arg == "--db" || strings.HasPrefix(arg, "--db="):
			f.DBPath, err = take(&i, "--db")
		case arg == "--kb" || strings.HasPrefix(arg, "--kb="):
			f.KBPath, err = take(&i, "--kb")
		case arg == "--llm" || strings.HasPrefix(arg, "--llm="):
			f.LLM, err = take(&i, "--llm")
		case arg == "--embed" || strings.HasPrefix(arg, "--embed="):
			f.Embed, err = take(&i, "--embed")
		case arg == "--fund" || strings.HasPrefix(arg, "--fund="):
			f.Fund, err = take(&i, "--fund")
		case arg == "--limit" || strings.HasPrefix(arg, "--limit="):
			var v string
			if v, err = take(&i, "--limit"); err == nil {
				if _, serr := fmt.Sscanf(v, "%d", &f.Limit); serr != nil {
					err = fmt.Errorf("invalid --limit %q", v)
				}
			}
		case arg == "--no-embed":
			f.NoEmbed = true
		case arg == "--no-llm":
			f.NoLLM = true
		case arg == "--json":
			f.JSON = true
		case strings.HasPrefix(arg, "-"):
			return f, fmt.Errorf("unknown flag: %s", arg)
		default:
			f.Args = append(f.Args, arg)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func resolve(f commonFlags) (config.ResolvedConfig, error) {
	return config.Resolve(config.ResolveOptions{
		ConfigPath: f.ConfigPath,
		CLILLM:     f.LLM,
		CLIEmbed:   f.Embed,
		CLIDBPath:  f.DBPath,
		CLIKBPath:  f.KBPath,
	})
}

func openStore(rc config.ResolvedConfig) (store.Store, error) {
	return store.Open(store.Config{DBPath: rc.DBPath.Value})
}

// newEmbedder builds the embedding client from resolved config. A blank
// embed setting means keyword-only operation.
func newEmbedder(rc config.ResolvedConfig, noEmbed bool) (embed.Embedder, error) {
	if noEmbed || rc.EmbedProvider.Value == "" {
		return nil, nil
	}
	cfg, err := embed.ParseConfig(rc.EmbedProvider.Value)
	if err != nil {
		return nil, err
	}
	if rc.EmbedEndpoint.Value != "" {
		cfg.Endpoint = rc.EmbedEndpoint.Value
	}
	if rc.EmbedAPIKey.Value != "" {
		cfg.APIKey = rc.EmbedAPIKey.Value
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return embed.NewClient(cfg)
}

// newProvider builds an LLM provider for one resolved model. Missing
// keys degrade to nil: the pipeline documents rule-based fallbacks for
// every LLM stage.
func newProvider(rc config.ResolvedConfig, model config.ResolvedValue) llm.Provider {
	cfg, err := llm.ParseModel(model.Value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v — running without an LLM\n", err)
		return nil
	}
	if key := rc.APIKeyForProvider(model.Value); key.Value != "" {
		cfg.APIKey = key.Value
	}
	p, err := llm.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v — running without an LLM\n", err)
		return nil
	}
	return p
}

// newProviders builds the answer- and classify-purpose providers; the
// two share one instance unless classify_model points elsewhere.
func newProviders(rc config.ResolvedConfig, noLLM bool) (answerP, classifyP llm.Provider) {
	if noLLM {
		return nil, nil
	}
	answerModel := rc.EffectiveLLMModel("answer", defaultModel)
	classifyModel := rc.EffectiveLLMModel("classify", defaultModel)

	answerP = newProvider(rc, answerModel)
	classifyP = answerP
	if classifyModel.Value != answerModel.Value {
		classifyP = newProvider(rc, classifyModel)
	}
	return answerP, classifyP
}

func loadRegistry(rc config.ResolvedConfig) (*registry.Registry, error) {
	if rc.FundsPath.Value == "" {
		return registry.Default(), nil
	}
	return registry.Load(rc.FundsPath.Value)
}

func loadRules(rc config.ResolvedConfig) (*classify.Ruleset, error) {
	if rc.RulesPath.Value == "" {
		return nil, nil
	}
	return classify.LoadRuleset(rc.RulesPath.Value)
}

// buildAssistant wires store, retrieval, LLM, and registry into one
// assistant. Callers own closing the returned store.
func buildAssistant(f commonFlags) (*assistant.Assistant, *retrieval.Engine, store.Store, error) {
	rc, err := resolve(f)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := openStore(rc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}
	embedder, err := newEmbedder(rc, f.NoEmbed)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	reg, err := loadRegistry(rc)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	rules, err := loadRules(rc)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	answerP, classifyP := newProviders(rc, f.NoLLM)
	eng := retrieval.New(st, embedder, retrieval.Options{Limit: f.Limit})
	a, err := assistant.New(assistant.Config{
		Registry:         reg,
		Rules:            rules,
		Provider:         answerP,
		ClassifyProvider: classifyP,
		Retriever:        eng,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return a, eng, st, nil
}

func runIngest(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.Args) == 1 && f.KBPath == "" {
		f.KBPath = f.Args[0]
	}

	rc, err := resolve(f)
	if err != nil {
		return err
	}
	kbPath := rc.KBPath.Value
	if kbPath == "" {
		return fmt.Errorf("usage: fundfaq ingest <kb.json> [--db path] [--embed provider/model]")
	}

	st, err := openStore(rc)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	embedder, err := newEmbedder(rc, f.NoEmbed)
	if err != nil {
		return err
	}

	fmt.Printf("Ingesting %s...\n", kbPath)
	sum, err := ingest.New(st, embedder).Run(context.Background(), kbPath)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d passages across %d funds", sum.Passages, sum.Funds)
	if embedder != nil {
		fmt.Printf(" (%d embedded)", sum.Embedded)
	}
	fmt.Println()
	return nil
}

func runAsk(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.Args) == 0 {
		return fmt.Errorf("usage: fundfaq ask <question> [--llm provider/model] [--json]")
	}
	query := strings.Join(f.Args, " ")

	a, _, st, err := buildAssistant(f)
	if err != nil {
		return err
	}
	defer st.Close()

	resp, err := a.Process(context.Background(), query, nil)
	if err != nil {
		return err
	}
	return printResponse(resp, f.JSON)
}

func runChat(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	a, _, st, err := buildAssistant(f)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Println("FundFAQ chat — ask about HDFC mutual funds. Ctrl-D or \"exit\" to quit.")

	var history conversation.History
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		resp, err := a.Process(context.Background(), query, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(resp.Text)
		fmt.Println()
		history = append(history, assistant.Turns(query, resp)...)
	}
}

func runSearch(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.Args) == 0 {
		return fmt.Errorf("usage: fundfaq search <query> [--fund ID] [--limit N] [--json]")
	}
	query := strings.Join(f.Args, " ")

	_, eng, st, err := buildAssistant(f)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := eng.Retrieve(context.Background(), query, registry.FundID(f.Fund))
	if err != nil {
		return err
	}

	if f.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		snippet := r.Passage.Content
		if len(snippet) > 160 {
			snippet = snippet[:160] + "…"
		}
		fund := string(r.Passage.FundID)
		if fund == "" {
			fund = r.Passage.DocType
		}
		fmt.Printf("%d. [%s] %.4f %s\n   %s\n", i+1, fund, r.Score, r.Passage.SourceTitle, snippet)
	}
	return nil
}

func runFunds(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	rc, err := resolve(f)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(rc)
	if err != nil {
		return err
	}
	fmt.Print(fundsText(reg))
	return nil
}

func fundsText(reg *registry.Registry) string {
	var sb strings.Builder
	sb.WriteString("Covered funds:\n")
	for _, fund := range reg.Funds() {
		fmt.Fprintf(&sb, "  %-10s %s\n", fund.ID, fund.Name)
		if len(fund.Aliases) > 0 {
			fmt.Fprintf(&sb, "             aliases: %s\n", strings.Join(fund.Aliases, ", "))
		}
	}
	return sb.String()
}

func runConfig(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	rc, err := resolve(f)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rc)
}

func runMCP(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	rc, err := resolve(f)
	if err != nil {
		return err
	}
	a, eng, st, err := buildAssistant(f)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := loadRegistry(rc)
	if err != nil {
		return err
	}

	srv := mcpserver.NewServer(mcpserver.ServerConfig{
		Assistant: a,
		Retriever: eng,
		Registry:  reg,
		Store:     st,
		Version:   version,
	})
	return mcpserv.ServeStdio(srv)
}

func printResponse(resp *assistant.Response, asJSON bool) error {
	if asJSON {
		out := map[string]interface{}{
			"answer":   resp.Text,
			"category": resp.Category,
			"source":   resp.Source,
		}
		if resp.Fund != "" {
			out["fund"] = resp.Fund
		}
		if resp.Citation != nil {
			out["citation"] = resp.Citation
		}
		if resp.Clarifying() {
			out["clarification_pending"] = true
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Println(resp.Text)
	return nil
}

func printUsage() {
	fmt.Printf(`fundfaq %s — Facts-only mutual fund FAQ assistant

Usage:
  fundfaq <command> [arguments]

Commands:
  ingest <kb.json>    Load the knowledge base into the passage store
  ask <question>      Answer a single question
  chat                Interactive chat with clarification follow-ups
  search <query>      Search the knowledge base directly
  funds               List the covered funds and their aliases
  config              Show the resolved configuration and its sources
  mcp                 Serve the assistant over MCP (stdio)
  version             Print version

Flags:
  --config <path>     Config file (default: ~/.fundfaq/config.yaml)
  --db <path>         SQLite database path
  --kb <path>         Knowledge base JSON path
  --llm <p/model>     LLM, e.g. google/gemini-2.0-flash
  --embed <p/model>   Embedder, e.g. ollama/nomic-embed-text
  --fund <ID>         Prefer a fund in search (ELSS, LARGE_CAP, ...)
  --limit <N>         Cap search results
  --no-llm            Run with rule-based classification only
  --no-embed          Keyword search only
  --json              Machine-readable output
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
