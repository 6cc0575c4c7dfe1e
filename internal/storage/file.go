package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// --- JSON Storage ---

// JSONStorage writes each job as one indented JSON array.
type JSONStorage struct {
	target *fileTarget
	logger *slog.Logger
}

// NewJSONStorage creates a JSON file storage rooted at dir.
func NewJSONStorage(dir string, logger *slog.Logger) (*JSONStorage, error) {
	t, err := newFileTarget(dir, "json")
	if err != nil {
		return nil, err
	}
	return &JSONStorage{target: t, logger: logger.With("component", "json_storage")}, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) Save(_ context.Context, name string, records []*types.Record) (string, error) {
	f, fileName, err := s.target.create(name)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer f.Close()

	if records == nil {
		records = []*types.Record{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("encode JSON: %w", err)}
	}
	if err := f.Close(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	s.logger.Info("JSON written", "path", s.target.path(fileName), "records", len(records))
	return fileName, nil
}

func (s *JSONStorage) Close() error { return nil }

// --- JSONL Storage ---

// JSONLStorage writes one JSON object per line.
type JSONLStorage struct {
	target *fileTarget
	logger *slog.Logger
}

// NewJSONLStorage creates a newline-delimited JSON storage rooted at dir.
func NewJSONLStorage(dir string, logger *slog.Logger) (*JSONLStorage, error) {
	t, err := newFileTarget(dir, "jsonl")
	if err != nil {
		return nil, err
	}
	return &JSONLStorage{target: t, logger: logger.With("component", "jsonl_storage")}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Save(_ context.Context, name string, records []*types.Record) (string, error) {
	f, fileName, err := s.target.create(name)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("encode JSONL: %w", err)}
		}
	}
	if err := f.Close(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	s.logger.Info("JSONL written", "path", s.target.path(fileName), "records", len(records))
	return fileName, nil
}

func (s *JSONLStorage) Close() error { return nil }

// --- CSV Storage ---

// utf8BOM precedes the CSV header.
const utf8BOM = "\ufeff"

// CSVStorage writes records as CSV rows with a header row. Columns follow
// the order in which fields first appear; sequence values are joined with
// " | ".
type CSVStorage struct {
	target *fileTarget
	logger *slog.Logger
}

// NewCSVStorage creates a CSV file storage rooted at dir.
func NewCSVStorage(dir string, logger *slog.Logger) (*CSVStorage, error) {
	t, err := newFileTarget(dir, "csv")
	if err != nil {
		return nil, err
	}
	return &CSVStorage{target: t, logger: logger.With("component", "csv_storage")}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Save(_ context.Context, name string, records []*types.Record) (string, error) {
	f, fileName, err := s.target.create(name)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	w := csv.NewWriter(f)
	cols := Columns(records)
	if err := w.Write(cols); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write CSV header: %w", err)}
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			row[i] = r.GetString(c)
		}
		if err := w.Write(row); err != nil {
			return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write CSV row: %w", err)}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	s.logger.Info("CSV written", "path", s.target.path(fileName), "records", len(records))
	return fileName, nil
}

func (s *CSVStorage) Close() error { return nil }
