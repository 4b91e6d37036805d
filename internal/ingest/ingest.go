// Package ingest loads the curated knowledge base JSON into the passage
// store: chunking, metric prepending, and optional embedding.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"fundfaq/internal/embed"
	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

// Chunking defaults. 800 characters keeps a chunk inside a single topic
// of the scraped pages; the overlap stops a metric from being split
// across a boundary.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	embedBatchSize      = 64
)

// KnowledgeBase mirrors the curated KB JSON layout.
type KnowledgeBase struct {
	Metadata struct {
		CreatedAt string `json:"created_at"`
	} `json:"metadata"`
	Funds      map[string]FundDoc   `json:"funds"`
	Regulatory map[string]SourceDoc `json:"regulatory"`
	Help       map[string]SourceDoc `json:"help"`
}

// FundDoc is one fund's consolidated content.
type FundDoc struct {
	FundName string            `json:"fund_name"`
	Content  string            `json:"content"`
	Metrics  map[string]string `json:"metrics"`
	Sources  []Source          `json:"sources"`
}

// Source is one provenance record for a fund document.
type Source struct {
	SourceID    string `json:"source_id"`
	SourceTitle string `json:"source_title"`
	SourceType  string `json:"source_type"`
	URL         string `json:"url"`
	Authority   string `json:"authority"`
}

// SourceDoc is a standalone regulatory or help document.
type SourceDoc struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Authority string `json:"authority"`
	Content   string `json:"content"`
}

// Summary reports what an ingestion run did.
type Summary struct {
	Funds    int
	Passages int
	Embedded int
}

// Ingestor writes a knowledge base into the store. embedder may be nil
// for keyword-only deployments.
type Ingestor struct {
	store    store.Store
	embedder embed.Embedder
}

// New builds an ingestor.
func New(st store.Store, embedder embed.Embedder) *Ingestor {
	return &Ingestor{store: st, embedder: embedder}
}

// LoadKB reads and parses the knowledge base file.
func LoadKB(path string) (*KnowledgeBase, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var kb KnowledgeBase
	if err := json.Unmarshal(b, &kb); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &kb, nil
}

// Run clears the store and ingests the knowledge base at path.
func (ing *Ingestor) Run(ctx context.Context, path string) (*Summary, error) {
	kb, err := LoadKB(path)
	if err != nil {
		return nil, err
	}
	if err := ing.store.Clear(ctx); err != nil {
		return nil, err
	}

	lastUpdated := kb.Metadata.CreatedAt
	if len(lastUpdated) > 10 {
		lastUpdated = lastUpdated[:10]
	}

	passages := Passages(kb, lastUpdated)
	if len(passages) == 0 {
		return nil, fmt.Errorf("knowledge base %s produced no passages", path)
	}
	if _, err := ing.store.AddPassageBatch(ctx, passages); err != nil {
		return nil, fmt.Errorf("storing passages: %w", err)
	}

	sum := &Summary{Funds: len(kb.Funds), Passages: len(passages)}

	if ing.embedder != nil {
		embedded, err := ing.embedAll(ctx, passages)
		if err != nil {
			return nil, err
		}
		sum.Embedded = embedded
	}
	return sum, nil
}

// Passages converts the knowledge base into store passages, chunked and
// annotated. Fund tags become FundIDs verbatim; content under 50
// characters is scraper noise and skipped.
func Passages(kb *KnowledgeBase, lastUpdated string) []*store.Passage {
	var out []*store.Passage

	for _, tag := range sortedKeys(kb.Funds) {
		fund := kb.Funds[tag]
		if len(strings.TrimSpace(fund.Content)) < 50 {
			continue
		}

		chunks := Chunk(fund.Content, DefaultChunkSize, DefaultChunkOverlap)
		metrics := metricsLine(fund.Metrics)
		_, hasTER := fund.Metrics["expense_ratio"]
		primary := primarySource(fund.Sources, fund.FundName)

		for idx, chunk := range chunks {
			text := chunk
			// The TER is the most-asked metric; carry it into every chunk
			// so retrieval cannot miss it. Other metrics ride the first
			// chunk only.
			if metrics != "" && (idx == 0 || hasTER) && !strings.Contains(chunk, "Key Metrics") {
				text = metrics + "\n\n" + chunk
			}
			out = append(out, &store.Passage{
				FundID:      registry.FundID(tag),
				DocType:     store.DocFund,
				SourceTitle: primary.SourceTitle,
				SourceURL:   primary.URL,
				LastUpdated: lastUpdated,
				ChunkIndex:  idx,
				Content:     text,
			})
		}
	}

	out = append(out, sourceDocPassages(kb.Regulatory, store.DocRegulatory, lastUpdated)...)
	out = append(out, sourceDocPassages(kb.Help, store.DocHelp, lastUpdated)...)
	return out
}

func sourceDocPassages(docs map[string]SourceDoc, docType, lastUpdated string) []*store.Passage {
	var out []*store.Passage
	for _, id := range sortedKeys(docs) {
		doc := docs[id]
		if len(strings.TrimSpace(doc.Content)) < 50 {
			continue
		}
		for idx, chunk := range Chunk(doc.Content, DefaultChunkSize, DefaultChunkOverlap) {
			out = append(out, &store.Passage{
				DocType:     docType,
				SourceTitle: doc.Title,
				SourceURL:   doc.URL,
				LastUpdated: lastUpdated,
				ChunkIndex:  idx,
				Content:     chunk,
			})
		}
	}
	return out
}

func (ing *Ingestor) embedAll(ctx context.Context, passages []*store.Passage) (int, error) {
	embedded := 0
	for start := 0; start < len(passages); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}
		vecs, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("embedding passages: %w", err)
		}
		for i, vec := range vecs {
			if len(vec) == 0 {
				continue
			}
			if err := ing.store.AddEmbedding(ctx, batch[i].ID, vec); err != nil {
				return embedded, err
			}
			embedded++
		}
	}
	return embedded, nil
}

// metricsLine renders the fund's key metrics as a single prefix line.
// The nav "," and benchmark "Riskometer" checks drop known scraper
// glitches in the source data.
func metricsLine(metrics map[string]string) string {
	if len(metrics) == 0 {
		return ""
	}
	var parts []string
	if v := metrics["expense_ratio"]; v != "" {
		parts = append(parts, "Total Expense Ratio (TER): "+v)
	}
	if v := metrics["nav"]; v != "" && v != "," {
		parts = append(parts, "NAV: "+v)
	}
	if v := metrics["aum"]; v != "" {
		parts = append(parts, "AUM: "+v)
	}
	if v := metrics["benchmark"]; v != "" && v != "Riskometer" {
		parts = append(parts, "Benchmark: "+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Key Metrics: " + strings.Join(parts, " | ")
}

// primarySource picks the citation source for a fund: the first source
// with a URL or the factsheet, else the first listed, else a synthetic
// record named after the fund.
func primarySource(sources []Source, fundName string) Source {
	pick := Source{SourceTitle: fundName}
	for i, s := range sources {
		if s.URL != "" || s.SourceID == "factsheet" {
			pick = s
			break
		}
		if i == 0 {
			pick = s
		}
	}
	if pick.SourceTitle == "" {
		pick.SourceTitle = fundName
	}
	return pick
}

// Chunk splits text into overlapping pieces, preferring sentence or line
// boundaries in the back half of each piece.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) < size {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := text[start:end]

		next := end
		if end < len(text) {
			breakPoint := strings.LastIndex(chunk, ".")
			if nl := strings.LastIndex(chunk, "\n"); nl > breakPoint {
				breakPoint = nl
			}
			if breakPoint > size/2 {
				chunk = text[start : start+breakPoint+1]
				next = start + breakPoint + 1 - overlap
			} else {
				next = end - overlap
			}
		}
		// Guard against zero progress with degenerate parameters.
		if next <= start {
			next = end
		}
		start = next

		if c := strings.TrimSpace(chunk); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
