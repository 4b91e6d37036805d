package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"fundfaq/internal/registry"
)

// SearchKeyword performs full-text search with BM25 ranking. The query
// is tokenized and quoted before it reaches FTS5, so user punctuation
// ("what's the NAV?") can never produce a syntax error.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	match := buildFTSQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.fund_id, p.doc_type, p.source_title, p.source_url,
		        p.last_updated, p.chunk_index, p.content,
		        bm25(passages_fts) AS score
		 FROM passages_fts
		 JOIN passages p ON passages_fts.rowid = p.id
		 WHERE passages_fts MATCH ?
		 ORDER BY score
		 LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("FTS search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		r := &SearchResult{}
		var fundID string
		var bm25 float64
		if err := rows.Scan(&r.Passage.ID, &fundID, &r.Passage.DocType,
			&r.Passage.SourceTitle, &r.Passage.SourceURL, &r.Passage.LastUpdated,
			&r.Passage.ChunkIndex, &r.Passage.Content, &bm25); err != nil {
			return nil, fmt.Errorf("scanning FTS result: %w", err)
		}
		r.Passage.FundID = registry.FundID(fundID)
		// bm25() returns negative values, more negative = better match.
		r.Score = -bm25
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildFTSQuery turns free text into a safe FTS5 MATCH expression:
// each alphanumeric term double-quoted, joined with OR for recall.
func buildFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// AddEmbedding stores an embedding vector for a passage.
// Overwrites any existing embedding (idempotent re-ingestion).
func (s *SQLiteStore) AddEmbedding(ctx context.Context, passageID int64, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty embedding vector for passage %d", passageID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (passage_id, vector, dims) VALUES (?, ?, ?)
		 ON CONFLICT(passage_id) DO UPDATE SET vector = excluded.vector, dims = excluded.dims`,
		passageID, float32ToBytes(vector), len(vector))
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

// GetEmbedding fetches a passage's embedding vector.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, passageID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE passage_id = ?`, passageID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no embedding for passage %d", passageID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding: %w", err)
	}
	return bytesToFloat32(blob), nil
}

// SearchEmbedding performs brute-force cosine similarity search across
// all stored embeddings. The corpus is a few thousand passages, so a
// full scan is well under retrieval latency budget.
func (s *SQLiteStore) SearchEmbedding(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.fund_id, p.doc_type, p.source_title, p.source_url,
		        p.last_updated, p.chunk_index, p.content, e.vector
		 FROM embeddings e
		 JOIN passages p ON e.passage_id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		r := &SearchResult{}
		var fundID string
		var blob []byte
		if err := rows.Scan(&r.Passage.ID, &fundID, &r.Passage.DocType,
			&r.Passage.SourceTitle, &r.Passage.SourceURL, &r.Passage.LastUpdated,
			&r.Passage.ChunkIndex, &r.Passage.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding result: %w", err)
		}
		vec := bytesToFloat32(blob)
		if len(vec) != len(query) {
			continue
		}
		sim := cosineSimilarity(query, vec)
		if sim < minSimilarity {
			continue
		}
		r.Passage.FundID = registry.FundID(fundID)
		r.Score = sim
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Passage.ID < results[j].Passage.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
