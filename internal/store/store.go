// Package store provides the SQLite + FTS5 storage layer for the
// knowledge base.
//
// All retrieval data lives in a single SQLite database file:
// - Passages: chunked knowledge base text with fund and source metadata
// - FTS5 full-text index over passage content
// - Embedding vectors for semantic search
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fundfaq/internal/registry"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.fundfaq/fundfaq.db"

// DefaultBatchSize is the default batch size for bulk passage inserts.
const DefaultBatchSize = 500

// Document types. Retrieval reranking orders groups by these.
const (
	DocFund       = "fund"       // scheme-specific content
	DocRegulatory = "regulatory" // SEBI/AMFI/taxation content
	DocHelp       = "help"       // account and transaction how-tos
)

// Passage is one retrievable chunk of knowledge base text.
type Passage struct {
	ID          int64
	FundID      registry.FundID // empty for regulatory and help content
	DocType     string
	SourceTitle string
	SourceURL   string
	LastUpdated string // as published by the source, e.g. "2026-06-30"
	ChunkIndex  int
	Content     string
}

// SearchResult is a passage with its retrieval score. Higher is better
// for both search modes.
type SearchResult struct {
	Passage Passage
	Score   float64
}

// Stats holds observability counts about the store.
type Stats struct {
	PassageCount   int64
	EmbeddingCount int64
	DBSizeBytes    int64
}

// Config holds options for Open.
type Config struct {
	DBPath    string
	BatchSize int
}

// Store defines the passage storage interface.
type Store interface {
	AddPassage(ctx context.Context, p *Passage) (int64, error)
	AddPassageBatch(ctx context.Context, passages []*Passage) ([]int64, error)
	GetPassage(ctx context.Context, id int64) (*Passage, error)

	AddEmbedding(ctx context.Context, passageID int64, vector []float32) error
	GetEmbedding(ctx context.Context, passageID int64) ([]float32, error)

	SearchKeyword(ctx context.Context, query string, limit int) ([]*SearchResult, error)
	SearchEmbedding(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]*SearchResult, error)

	// LastUpdated returns the most recent source date for a fund's
	// passages, empty when the fund has none.
	LastUpdated(ctx context.Context, fund registry.FundID) (string, error)

	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite + FTS5.
type SQLiteStore struct {
	db        *sql.DB
	dbPath    string
	batchSize int
}

// Open creates a SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func Open(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath, batchSize: cfg.BatchSize}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS passages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	fund_id      TEXT NOT NULL DEFAULT '',
	doc_type     TEXT NOT NULL,
	source_title TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	last_updated TEXT NOT NULL DEFAULT '',
	chunk_index  INTEGER NOT NULL DEFAULT 0,
	content      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_passages_fund ON passages(fund_id);
CREATE INDEX IF NOT EXISTS idx_passages_doc_type ON passages(doc_type);

CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
	content,
	content='passages',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS passages_ai AFTER INSERT ON passages BEGIN
	INSERT INTO passages_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS passages_ad AFTER DELETE ON passages BEGIN
	INSERT INTO passages_fts(passages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS passages_au AFTER UPDATE ON passages BEGIN
	INSERT INTO passages_fts(passages_fts, rowid, content) VALUES ('delete', old.id, old.content);
	INSERT INTO passages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TABLE IF NOT EXISTS embeddings (
	passage_id INTEGER PRIMARY KEY REFERENCES passages(id) ON DELETE CASCADE,
	vector     BLOB NOT NULL,
	dims       INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// AddPassage inserts one passage and returns its ID.
func (s *SQLiteStore) AddPassage(ctx context.Context, p *Passage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO passages (fund_id, doc_type, source_title, source_url, last_updated, chunk_index, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(p.FundID), p.DocType, p.SourceTitle, p.SourceURL, p.LastUpdated, p.ChunkIndex, p.Content)
	if err != nil {
		return 0, fmt.Errorf("inserting passage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// AddPassageBatch inserts passages in transactions of batchSize.
func (s *SQLiteStore) AddPassageBatch(ctx context.Context, passages []*Passage) ([]int64, error) {
	ids := make([]int64, 0, len(passages))

	for start := 0; start < len(passages); start += s.batchSize {
		end := start + s.batchSize
		if end > len(passages) {
			end = len(passages)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return ids, fmt.Errorf("beginning batch: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO passages (fund_id, doc_type, source_title, source_url, last_updated, chunk_index, content)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return ids, fmt.Errorf("preparing batch insert: %w", err)
		}
		for _, p := range passages[start:end] {
			res, err := stmt.ExecContext(ctx,
				string(p.FundID), p.DocType, p.SourceTitle, p.SourceURL, p.LastUpdated, p.ChunkIndex, p.Content)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return ids, fmt.Errorf("inserting passage in batch: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return ids, err
			}
			p.ID = id
			ids = append(ids, id)
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return ids, fmt.Errorf("committing batch: %w", err)
		}
	}
	return ids, nil
}

// GetPassage fetches one passage by ID.
func (s *SQLiteStore) GetPassage(ctx context.Context, id int64) (*Passage, error) {
	p := &Passage{}
	var fundID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, fund_id, doc_type, source_title, source_url, last_updated, chunk_index, content
		 FROM passages WHERE id = ?`, id).
		Scan(&p.ID, &fundID, &p.DocType, &p.SourceTitle, &p.SourceURL, &p.LastUpdated, &p.ChunkIndex, &p.Content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("passage %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting passage %d: %w", id, err)
	}
	p.FundID = registry.FundID(fundID)
	return p, nil
}

// LastUpdated returns the newest source date among a fund's passages.
func (s *SQLiteStore) LastUpdated(ctx context.Context, fund registry.FundID) (string, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(last_updated) FROM passages WHERE fund_id = ? AND last_updated != ''`,
		string(fund)).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("querying last updated: %w", err)
	}
	return date.String, nil
}

// Stats returns store counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&st.PassageCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&st.EmbeddingCount); err != nil {
		return nil, err
	}
	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = fi.Size()
		}
	}
	return st, nil
}

// Clear deletes all passages and embeddings. Used by re-ingestion.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM embeddings`,
		`DELETE FROM passages`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clearing store: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
