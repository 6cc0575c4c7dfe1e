// Package storage persists completed crawl jobs. Every backend receives a
// job name and its records in collection order and returns an artifact
// reference that is recorded on the job.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Storage is the interface for all storage backends.
type Storage interface {
	// Save persists records for the named job and returns an artifact
	// reference, such as a file name.
	Save(ctx context.Context, name string, records []*types.Record) (string, error)

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// New builds the backends listed in cfg.Types. More than one type yields a
// MultiStorage that writes to all of them.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Storage, error) {
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("no storage types configured")
	}

	var backends []Storage
	for _, t := range cfg.Types {
		b, err := newBackend(ctx, t, cfg, logger)
		if err != nil {
			for _, opened := range backends {
				opened.Close()
			}
			return nil, err
		}
		backends = append(backends, b)
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStorage(backends, logger), nil
}

func newBackend(ctx context.Context, storageType string, cfg config.StorageConfig, logger *slog.Logger) (Storage, error) {
	switch storageType {
	case "json":
		return NewJSONStorage(cfg.OutputDir, logger)
	case "jsonl":
		return NewJSONLStorage(cfg.OutputDir, logger)
	case "csv":
		return NewCSVStorage(cfg.OutputDir, logger)
	case "xlsx":
		return NewExcelStorage(cfg.OutputDir, logger)
	case "mongodb":
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ArtifactName returns "<name>_<YYYYMMDD_HHMMSS>.<ext>" with spaces and path
// separators in name replaced by underscores.
func ArtifactName(name string, at time.Time, ext string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "crawl"
	}
	return fmt.Sprintf("%s_%s.%s", clean, at.Format("20060102_150405"), ext)
}

// Columns returns the union of record keys in first-appearance order.
func Columns(records []*types.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// fileTarget creates uniquely named artifact files in one directory.
type fileTarget struct {
	dir string
	ext string
	now func() time.Time
}

func newFileTarget(dir, ext string) (*fileTarget, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &fileTarget{dir: dir, ext: ext, now: time.Now}, nil
}

// create opens a new artifact file. An existing file of the same name is
// never overwritten; a numeric suffix is added instead.
func (t *fileTarget) create(name string) (*os.File, string, error) {
	base := ArtifactName(name, t.now(), t.ext)
	stem := strings.TrimSuffix(base, "."+t.ext)
	for i := 0; i < 100; i++ {
		fileName := base
		if i > 0 {
			fileName = fmt.Sprintf("%s_%d.%s", stem, i, t.ext)
		}
		f, err := os.OpenFile(filepath.Join(t.dir, fileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, fileName, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create output file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create output file: too many files named %s", base)
}

// path returns the full path of an artifact in this target.
func (t *fileTarget) path(fileName string) string {
	return filepath.Join(t.dir, fileName)
}
