// Package mcpserver exposes the assistant over the Model Context
// Protocol: ask with session-tracked clarification, raw passage search,
// the fund catalog, and store statistics. Supports stdio transport for
// desktop MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"fundfaq/internal/assistant"
	"fundfaq/internal/conversation"
	"fundfaq/internal/registry"
	"fundfaq/internal/retrieval"
	"fundfaq/internal/store"
)

// ServerConfig holds the wired pipeline for the MCP server.
type ServerConfig struct {
	Assistant *assistant.Assistant
	Retriever assistant.Retriever
	Registry  *registry.Registry
	Store     store.Store
	Version   string
}

// dbMu serializes tool calls that touch the database. The mcp-go
// library dispatches handlers concurrently via goroutines, and SQLite
// supports only one writer at a time; sessions share the same lock so
// a clarification turn is fully recorded before the follow-up reads it.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}

	s := server.NewMCPServer(
		"FundFAQ",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	sessions := conversation.NewStore()

	registerAskTool(s, cfg.Assistant, sessions)
	registerSearchTool(s, cfg.Retriever)
	registerFundsTool(s, cfg.Registry)
	registerStatsTool(s, cfg.Store)

	registerFundsResource(s, cfg.Registry)
	registerStatsResource(s, cfg.Store)

	return s
}

// askResult is the JSON shape fund_ask returns to the client.
type askResult struct {
	SessionID            string        `json:"session_id"`
	Answer               string        `json:"answer"`
	Category             string        `json:"category"`
	Fund                 string        `json:"fund,omitempty"`
	ClarificationPending bool          `json:"clarification_pending"`
	Candidates           []string      `json:"candidates,omitempty"`
	Citation             *citationJSON `json:"citation,omitempty"`
}

type citationJSON struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

func registerAskTool(s *server.MCPServer, a *assistant.Assistant, sessions *conversation.Store) {
	tool := mcp.NewTool("fund_ask",
		mcp.WithDescription("Ask a factual question about HDFC mutual funds. Returns a grounded answer with a source citation, or a clarification prompt when the fund is ambiguous. Pass the returned session_id on follow-up turns so clarifications resolve against the original question."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The user's question"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session ID from a previous fund_ask response. Empty starts a new session."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		sessionID := ""
		if id, err := req.RequireString("session_id"); err == nil {
			sessionID = id
		}
		sessionID = sessions.Open(sessionID)

		resp, err := a.Process(ctx, query, sessions.History(sessionID))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ask error: %v", err)), nil
		}
		sessions.Append(sessionID, assistant.Turns(query, resp)...)

		result := askResult{
			SessionID:            sessionID,
			Answer:               resp.Text,
			Category:             string(resp.Category),
			Fund:                 string(resp.Fund),
			ClarificationPending: resp.Clarifying(),
		}
		if resp.Clarifying() {
			for _, c := range resp.Clarification.Candidates {
				result.Candidates = append(result.Candidates, string(c))
			}
		}
		if resp.Citation != nil {
			result.Citation = &citationJSON{
				Title:       resp.Citation.Title,
				URL:         resp.Citation.URL,
				LastUpdated: resp.Citation.LastUpdated,
			}
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSearchTool(s *server.MCPServer, r assistant.Retriever) {
	tool := mcp.NewTool("fund_search",
		mcp.WithDescription("Search the fund knowledge base directly, bypassing classification and answer generation. Returns scored passages with source provenance."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithString("fund",
			mcp.Description("Fund ID to rank first (e.g. ELSS, LARGE_CAP). Empty = no fund preference."),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of passages (default: %d, max: 20)", retrieval.DefaultLimit)),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		fund := registry.FundID("")
		if f, err := req.RequireString("fund"); err == nil && f != "" {
			fund = registry.FundID(f)
		}

		limit := retrieval.DefaultLimit
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit = int(l)
			if limit > 20 {
				limit = 20
			}
		}

		results, err := r.Retrieve(ctx, query, fund)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		if len(results) > limit {
			results = results[:limit]
		}

		type hit struct {
			ID          int64   `json:"id"`
			Fund        string  `json:"fund,omitempty"`
			DocType     string  `json:"doc_type"`
			SourceTitle string  `json:"source_title"`
			SourceURL   string  `json:"source_url,omitempty"`
			LastUpdated string  `json:"last_updated,omitempty"`
			Score       float64 `json:"score"`
			Content     string  `json:"content"`
		}
		hits := make([]hit, 0, len(results))
		for _, res := range results {
			hits = append(hits, hit{
				ID:          res.Passage.ID,
				Fund:        string(res.Passage.FundID),
				DocType:     res.Passage.DocType,
				SourceTitle: res.Passage.SourceTitle,
				SourceURL:   res.Passage.SourceURL,
				LastUpdated: res.Passage.LastUpdated,
				Score:       res.Score,
				Content:     res.Passage.Content,
			})
		}

		data, _ := json.MarshalIndent(hits, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerFundsTool(s *server.MCPServer, reg *registry.Registry) {
	tool := mcp.NewTool("fund_catalog",
		mcp.WithDescription("List the funds this assistant covers, with their IDs and matching aliases."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, _ := json.MarshalIndent(catalogJSON(reg), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("fund_stats",
		mcp.WithDescription("Get knowledge base statistics: passage count, embedding count, and storage size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]int64{
			"passages":      stats.PassageCount,
			"embeddings":    stats.EmbeddingCount,
			"db_size_bytes": stats.DBSizeBytes,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerFundsResource(s *server.MCPServer, reg *registry.Registry) {
	resource := mcp.NewResource(
		"fundfaq://funds",
		"Fund Catalog",
		mcp.WithResourceDescription("The funds this assistant covers, with IDs and aliases."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, _ := json.MarshalIndent(catalogJSON(reg), "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"fundfaq://stats",
		"Knowledge Base Statistics",
		mcp.WithResourceDescription("Passage, embedding, and storage-size counts for the knowledge base."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

type catalogFund struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

func catalogJSON(reg *registry.Registry) []catalogFund {
	funds := reg.Funds()
	out := make([]catalogFund, 0, len(funds))
	for _, f := range funds {
		out = append(out, catalogFund{ID: string(f.ID), Name: f.Name, Aliases: f.Aliases})
	}
	return out
}
