package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	id integer not null primary key,
	batch text not null,
	job text not null,
	url text not null,
	crawled_at text not null,
	data text not null
);
CREATE INDEX IF NOT EXISTS records_batch ON records(batch);`

// SQLiteStorage appends records to a SQLite database. Each row keeps the
// full record as ordered JSON next to its url and crawl time.
type SQLiteStorage struct {
	path   string
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteStorage opens or creates the database at path.
func NewSQLiteStorage(path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create dir: %w", err)}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	// The driver does not allow concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create schema: %w", err)}
	}

	return &SQLiteStorage{
		path:   path,
		db:     db,
		logger: logger.With("component", "sqlite_storage"),
	}, nil
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

func (s *SQLiteStorage) Save(ctx context.Context, name string, records []*types.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := uuid.NewString()
	ref := fmt.Sprintf("sqlite://%s?batch=%s", s.path, batch)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records(batch, job, url, crawled_at, data) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer stmt.Close()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return "", &types.StorageError{Backend: s.Name(), Err: err}
		}
		crawledAt := r.GetString(types.FieldCrawledAt)
		if crawledAt == "" {
			crawledAt = time.Now().UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx, batch, name, r.URL(), crawledAt, string(data)); err != nil {
			return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("insert: %w", err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	s.logger.Info("records stored in sqlite", "job", name, "batch", batch, "count", len(records))
	return ref, nil
}

// Load returns the records of one batch in insertion order.
func (s *SQLiteStorage) Load(ctx context.Context, batch string) ([]*types.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM records WHERE batch = ? ORDER BY id", batch)
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer rows.Close()

	var out []*types.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &types.StorageError{Backend: s.Name(), Err: err}
		}
		r := types.NewRecord()
		if err := json.Unmarshal([]byte(data), r); err != nil {
			return nil, &types.StorageError{Backend: s.Name(), Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
