package retrieval

import (
	"context"
	"errors"
	"testing"

	"fundfaq/internal/registry"
	"fundfaq/internal/store"
)

type fakeSearcher struct {
	keyword      []*store.SearchResult
	semantic     []*store.SearchResult
	keywordErrs  int
	keywordCalls int
}

func (f *fakeSearcher) SearchKeyword(_ context.Context, _ string, _ int) ([]*store.SearchResult, error) {
	f.keywordCalls++
	if f.keywordCalls <= f.keywordErrs {
		return nil, errors.New("fts down")
	}
	return f.keyword, nil
}

func (f *fakeSearcher) SearchEmbedding(_ context.Context, _ []float32, _ int, _ float64) ([]*store.SearchResult, error) {
	return f.semantic, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

func sr(id int64, fund registry.FundID, docType string, score float64) *store.SearchResult {
	return &store.SearchResult{
		Passage: store.Passage{ID: id, FundID: fund, DocType: docType, Content: "p"},
		Score:   score,
	}
}

func TestRetrieveFusesBothModes(t *testing.T) {
	s := &fakeSearcher{
		keyword: []*store.SearchResult{
			sr(1, registry.FundELSS, store.DocFund, 5),
			sr(2, registry.FundELSS, store.DocFund, 4),
		},
		semantic: []*store.SearchResult{
			sr(2, registry.FundELSS, store.DocFund, 0.9),
			sr(3, registry.FundELSS, store.DocFund, 0.8),
		},
	}
	e := New(s, &fakeEmbedder{}, Options{})

	results, err := e.Retrieve(context.Background(), "lock-in period", registry.FundELSS)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	// Passage 2 appears in both lists and must rank first.
	if results[0].Passage.ID != 2 {
		t.Fatalf("top result = %d", results[0].Passage.ID)
	}
}

func TestRetrieveKeywordOnlyWithoutEmbedder(t *testing.T) {
	s := &fakeSearcher{
		keyword: []*store.SearchResult{sr(1, registry.FundELSS, store.DocFund, 5)},
	}
	e := New(s, nil, Options{})

	results, err := e.Retrieve(context.Background(), "lock-in", registry.FundELSS)
	if err != nil || len(results) != 1 {
		t.Fatalf("results=%v err=%v", results, err)
	}
}

func TestRetrieveEmbedFailureDegrades(t *testing.T) {
	s := &fakeSearcher{
		keyword:  []*store.SearchResult{sr(1, registry.FundELSS, store.DocFund, 5)},
		semantic: []*store.SearchResult{sr(9, registry.FundELSS, store.DocFund, 0.99)},
	}
	e := New(s, &fakeEmbedder{err: errors.New("embedder down")}, Options{})

	results, err := e.Retrieve(context.Background(), "lock-in", registry.FundELSS)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Passage.ID != 1 {
		t.Fatalf("results = %+v", results)
	}
}

func TestRetrieveRetriesThenDegrades(t *testing.T) {
	// First call fails, retry succeeds.
	s := &fakeSearcher{
		keyword:     []*store.SearchResult{sr(1, registry.FundELSS, store.DocFund, 5)},
		keywordErrs: 1,
	}
	e := New(s, nil, Options{})
	results, err := e.Retrieve(context.Background(), "q", "")
	if err != nil || len(results) != 1 {
		t.Fatalf("results=%v err=%v", results, err)
	}
	if s.keywordCalls != 2 {
		t.Fatalf("keywordCalls = %d", s.keywordCalls)
	}

	// Both attempts fail: empty, not an error.
	s = &fakeSearcher{keywordErrs: 10}
	e = New(s, nil, Options{})
	results, err = e.Retrieve(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v", results)
	}
	if s.keywordCalls != 2 {
		t.Fatalf("keywordCalls = %d, want 2 (one retry)", s.keywordCalls)
	}
}

func TestRerankByFund(t *testing.T) {
	// Fused order deliberately adversarial: regulatory first, the
	// filtered fund last.
	s := &fakeSearcher{
		keyword: []*store.SearchResult{
			sr(1, "", store.DocRegulatory, 9),
			sr(2, registry.FundLargeCap, store.DocFund, 8),
			sr(3, "", store.DocHelp, 7),
			sr(4, registry.FundELSS, store.DocFund, 6),
		},
	}
	e := New(s, nil, Options{})

	results, err := e.Retrieve(context.Background(), "exit load", registry.FundELSS)
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, r := range results {
		ids = append(ids, r.Passage.ID)
	}
	want := []int64{4, 3, 2, 1}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestRetrieveNoFundKeepsFusedOrder(t *testing.T) {
	s := &fakeSearcher{
		keyword: []*store.SearchResult{
			sr(1, "", store.DocRegulatory, 9),
			sr(2, registry.FundLargeCap, store.DocFund, 8),
		},
	}
	e := New(s, nil, Options{})

	results, err := e.Retrieve(context.Background(), "taxation rules", "")
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Passage.ID != 1 {
		t.Fatalf("unfiltered retrieval must keep fused order, got %d first", results[0].Passage.ID)
	}
}

func TestRetrieveLimit(t *testing.T) {
	var keyword []*store.SearchResult
	for i := int64(1); i <= 10; i++ {
		keyword = append(keyword, sr(i, registry.FundELSS, store.DocFund, float64(20-i)))
	}
	e := New(&fakeSearcher{keyword: keyword}, nil, Options{Limit: 3})

	results, err := e.Retrieve(context.Background(), "q", registry.FundELSS)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
}

func TestFuseRRFTieBreak(t *testing.T) {
	// Two passages each appearing only in one list at the same rank tie
	// exactly; the lower ID must come first.
	keyword := []*store.SearchResult{sr(7, "", store.DocFund, 1)}
	semantic := []*store.SearchResult{sr(3, "", store.DocFund, 1)}

	merged := fuseRRF(keyword, semantic, DefaultRRFK)
	if len(merged) != 2 {
		t.Fatalf("len = %d", len(merged))
	}
	if merged[0].Passage.ID != 3 || merged[1].Passage.ID != 7 {
		t.Fatalf("tie-break order: %d, %d", merged[0].Passage.ID, merged[1].Passage.ID)
	}
}

func TestMinScoreFloor(t *testing.T) {
	keyword := []*store.SearchResult{sr(1, "", store.DocFund, 1)}
	e := New(&fakeSearcher{keyword: keyword}, nil, Options{MinScore: 1.0})

	results, err := e.Retrieve(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("below-floor results returned: %+v", results)
	}
}

func TestMinScoreFloorAtDefaults(t *testing.T) {
	// Both candidate lists full. Passage 99 appears only at the very
	// bottom of the semantic list, the weakest evidence fusion can
	// produce; the default floor must drop it with no explicit MinScore.
	var keyword, semantic []*store.SearchResult
	for i := int64(1); i <= DefaultCandidateLimit; i++ {
		keyword = append(keyword, sr(i, registry.FundELSS, store.DocFund, float64(40-i)))
	}
	for i := int64(2); i <= DefaultCandidateLimit; i++ {
		semantic = append(semantic, sr(i, registry.FundELSS, store.DocFund, float64(40-i)))
	}
	semantic = append(semantic, sr(99, registry.FundELSS, store.DocFund, 0.3))

	e := New(&fakeSearcher{keyword: keyword, semantic: semantic}, &fakeEmbedder{}, Options{Limit: 50})
	results, err := e.Retrieve(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Passage.ID == 99 {
			t.Fatal("bottom-of-one-list straggler survived the default floor")
		}
	}
	if len(results) != DefaultCandidateLimit {
		t.Fatalf("got %d results, want %d", len(results), DefaultCandidateLimit)
	}
}

func TestMinScoreFloorKeywordOnly(t *testing.T) {
	// Without an embedder every result carries the top missing-list
	// bonus; even a full keyword list keeps its last entry.
	var keyword []*store.SearchResult
	for i := int64(1); i <= DefaultCandidateLimit; i++ {
		keyword = append(keyword, sr(i, registry.FundELSS, store.DocFund, float64(40-i)))
	}
	e := New(&fakeSearcher{keyword: keyword}, nil, Options{Limit: 50})

	results, err := e.Retrieve(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != DefaultCandidateLimit {
		t.Fatalf("got %d results, want the full keyword list", len(results))
	}
}
