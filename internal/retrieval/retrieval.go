// Package retrieval finds the passages an answer will be grounded on.
//
// Keyword (BM25) and semantic results are merged with Reciprocal Rank
// Fusion, then reordered so the fund the query is actually about comes
// first. Retrieval never fails the pipeline: search errors are retried
// once and then degrade to an empty result set, which the answer layer
// turns into an honest "not found" reply.
package retrieval

import (
	"context"
	"math"
	"sort"

	"fundfaq/internal/embed"
	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

// Defaults. RRF K=60 per the original fusion paper.
const (
	DefaultLimit          = 5
	DefaultCandidateLimit = 20
	DefaultRRFK           = 60
	DefaultMinSimilarity  = 0.25
)

// Searcher is the slice of the store retrieval needs.
type Searcher interface {
	SearchKeyword(ctx context.Context, query string, limit int) ([]*store.SearchResult, error)
	SearchEmbedding(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]*store.SearchResult, error)
}

// Result is one retrieved passage with its fused score.
type Result struct {
	Passage store.Passage
	Score   float64
}

// Options tunes the engine. Zero values mean defaults.
type Options struct {
	Limit          int     // results returned
	CandidateLimit int     // per-mode fetch before fusion
	RRFK           int     // rank fusion constant
	MinSimilarity  float64 // cosine floor for semantic candidates
	MinScore       float64 // fused score floor; results at or below it are dropped
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.MinScore <= 0 {
		// The score of a passage found by only one mode, at the very
		// bottom of that mode's full candidate list. That is the weakest
		// evidence fusion can produce, and it gets dropped.
		bottom := o.RRFK + o.CandidateLimit
		o.MinScore = 1.0/float64(bottom) + 1.0/float64(bottom+1)
	}
	return o
}

// Engine runs hybrid retrieval. embedder may be nil for keyword-only
// deployments.
type Engine struct {
	searcher Searcher
	embedder embed.Embedder
	opts     Options
}

// New builds a retrieval engine.
func New(searcher Searcher, embedder embed.Embedder, opts Options) *Engine {
	return &Engine{searcher: searcher, embedder: embedder, opts: opts.withDefaults()}
}

// Retrieve returns the top passages for a query, reordered for the given
// fund when one is set. An empty slice means nothing relevant was found;
// the error return is always nil today but kept for future backends.
func (e *Engine) Retrieve(ctx context.Context, query string, fund registry.FundID) ([]Result, error) {
	keyword := e.searchKeywordWithRetry(ctx, query)

	var semantic []*store.SearchResult
	if e.embedder != nil {
		// A failed embedding degrades to keyword-only, never to an error.
		if vec, err := e.embedder.Embed(ctx, query); err == nil {
			semantic, _ = e.searcher.SearchEmbedding(ctx, vec, e.opts.CandidateLimit, e.opts.MinSimilarity)
		}
	}

	fused := fuseRRF(keyword, semantic, e.opts.RRFK)

	kept := fused[:0]
	for _, r := range fused {
		if r.Score > e.opts.MinScore {
			kept = append(kept, r)
		}
	}

	if fund != "" {
		kept = rerankByFund(kept, fund)
	}
	if len(kept) > e.opts.Limit {
		kept = kept[:e.opts.Limit]
	}
	return kept, nil
}

func (e *Engine) searchKeywordWithRetry(ctx context.Context, query string) []*store.SearchResult {
	results, err := e.searcher.SearchKeyword(ctx, query, e.opts.CandidateLimit)
	if err == nil {
		return results
	}
	results, err = e.searcher.SearchKeyword(ctx, query, e.opts.CandidateLimit)
	if err != nil {
		return nil
	}
	return results
}

// fuseRRF merges two ranked lists with Reciprocal Rank Fusion. A passage
// missing from one list is treated as ranked just past its end.
func fuseRRF(keyword, semantic []*store.SearchResult, k int) []Result {
	type entry struct {
		passage      store.Passage
		keywordRank  int
		semanticRank int
	}

	keywordPenalty := len(keyword) + 1
	semanticPenalty := len(semantic) + 1

	fused := make(map[int64]*entry)
	for i, r := range keyword {
		fused[r.Passage.ID] = &entry{
			passage:      r.Passage,
			keywordRank:  i + 1,
			semanticRank: semanticPenalty,
		}
	}
	for i, r := range semantic {
		if e, ok := fused[r.Passage.ID]; ok {
			e.semanticRank = i + 1
		} else {
			fused[r.Passage.ID] = &entry{
				passage:      r.Passage,
				keywordRank:  keywordPenalty,
				semanticRank: i + 1,
			}
		}
	}

	merged := make([]Result, 0, len(fused))
	for _, e := range fused {
		score := 1.0/float64(k+e.keywordRank) + 1.0/float64(k+e.semanticRank)
		merged = append(merged, Result{Passage: e.passage, Score: score})
	}

	sort.Slice(merged, func(i, j int) bool {
		delta := merged[i].Score - merged[j].Score
		if math.Abs(delta) <= 1e-12 {
			return merged[i].Passage.ID < merged[j].Passage.ID
		}
		return delta > 0
	})
	return merged
}

// rerankByFund partitions results into priority groups, stable within
// each: the filtered fund's own passages, then account/transaction help,
// then everything else, with regulatory boilerplate last. Regulatory
// text matches almost any query and would otherwise crowd out the
// scheme-specific numbers the user asked for.
func rerankByFund(results []Result, fund registry.FundID) []Result {
	group := func(r Result) int {
		switch {
		case r.Passage.FundID == fund:
			return 0
		case r.Passage.DocType == store.DocHelp:
			return 1
		case r.Passage.DocType == store.DocRegulatory:
			return 3
		default:
			return 2
		}
	}

	out := make([]Result, 0, len(results))
	for g := 0; g <= 3; g++ {
		for _, r := range results {
			if group(r) == g {
				out = append(out, r)
			}
		}
	}
	return out
}
