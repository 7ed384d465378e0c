// Package duckdb stores replayed samples in DuckDB so reporting tools can
// query them with SQL.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/perfbudget/internal/collector"
	"github.com/tinytelemetry/perfbudget/internal/duckdb/migrate"
)

const defaultQueryTimeout = 30 * time.Second

// Store manages the DuckDB connection for replayed samples.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	nextSeq      int64
	classify     collector.Classifier
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database. An empty dbPath uses an
// in-memory database. An optional queryTimeout defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: mkdir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}
	s := &Store{
		db:           db,
		dbPath:       dbPath,
		classify:     collector.SQLClassifier,
		QueryTimeout: qt,
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(seq) FROM samples").Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: read max seq: %w", err)
	}
	s.nextSeq = maxSeq.Int64 + 1
	return s, nil
}

// SetClassifier replaces the bucket classifier used on insert. Nil
// records the total bucket only.
func (s *Store) SetClassifier(c collector.Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classify = c
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}
