package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testRecords() []*types.Record {
	a := types.NewRecord()
	a.Set("title", types.Scalar("Hello"))
	a.Set("tags", types.Sequence([]string{"go", "crawl"}))
	a.Set(types.FieldURL, types.Scalar("https://example.com/"))
	a.Set(types.FieldCrawledAt, types.Scalar("2024-05-01T12:00:00Z"))

	b := types.NewRecord()
	b.Set("title", types.Scalar("Second"))
	b.Set("tags", types.Scalar(""))
	b.Set(types.FieldURL, types.Scalar("https://example.com/article/1"))
	b.Set(types.FieldCrawledAt, types.Scalar("2024-05-01T12:00:01Z"))
	return []*types.Record{a, b}
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 8, 7, 0, time.UTC)
	tests := []struct {
		name, want string
	}{
		{"news crawl", "news_crawl_20240501_090807.xlsx"},
		{"../etc/passwd", ".._etc_passwd_20240501_090807.xlsx"},
		{"  ", "crawl_20240501_090807.xlsx"},
	}
	for _, tt := range tests {
		if got := ArtifactName(tt.name, at, "xlsx"); got != tt.want {
			t.Errorf("ArtifactName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestColumns(t *testing.T) {
	recs := testRecords()
	extra := types.NewRecord()
	extra.Set("late", types.Scalar("x"))
	recs = append(recs, extra)

	got := strings.Join(Columns(recs), ",")
	if got != "title,tags,url,crawled_at,late" {
		t.Errorf("Columns = %s", got)
	}
}

func TestJSONStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir, testLogger)
	if err != nil {
		t.Fatal(err)
	}

	ref, err := s.Save(context.Background(), "my job", testRecords())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "my_job_") || !strings.HasSuffix(ref, ".json") {
		t.Errorf("ref = %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(dir, ref))
	if err != nil {
		t.Fatal(err)
	}
	var got []*types.Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[0].Equal(testRecords()[0]) {
		t.Errorf("round trip mismatch: %s", data)
	}
	if !bytes.Contains(data, []byte(`"tags": [`)) {
		t.Errorf("sequence not written as array: %s", data)
	}
}

func TestJSONStorageUniqueNames(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONStorage(dir, testLogger)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.target.now = func() time.Time { return fixed }

	a, err := s.Save(context.Background(), "job", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Save(context.Background(), "job", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("second save overwrote the first: %s", a)
	}
	if b != "job_20240101_000000_1.json" {
		t.Errorf("b = %s", b)
	}
}

func TestJSONLStorage(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONLStorage(dir, testLogger)
	ref, err := s.Save(context.Background(), "lines", testRecords())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, ref))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], `{"title":"Second"`) {
		t.Errorf("line 2 = %s", lines[1])
	}
}

func TestCSVStorage(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewCSVStorage(dir, testLogger)
	ref, err := s.Save(context.Background(), "table", testRecords())
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, ref))
	if !bytes.HasPrefix(data, []byte(utf8BOM)) {
		t.Error("missing BOM")
	}
	rows, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"title", "tags", "url", "crawled_at"},
		{"Hello", "go | crawl", "https://example.com/", "2024-05-01T12:00:00Z"},
		{"Second", "", "https://example.com/article/1", "2024-05-01T12:00:01Z"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i := range want {
		if strings.Join(rows[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestExcelStorage(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewExcelStorage(dir, testLogger)
	ref, err := s.Save(context.Background(), "sheet job", testRecords())
	if err != nil {
		t.Fatal(err)
	}

	wb, err := excelize.OpenFile(filepath.Join(dir, ref))
	if err != nil {
		t.Fatal(err)
	}
	defer wb.Close()

	rows, err := wb.GetRows(excelSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	if strings.Join(rows[0], ",") != "title,tags,url,crawled_at" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "go | crawl" {
		t.Errorf("tags = %q", rows[1][1])
	}

	styleID, err := wb.GetCellStyle(excelSheet, "B1")
	if err != nil {
		t.Fatal(err)
	}
	style, err := wb.GetStyle(styleID)
	if err != nil {
		t.Fatal(err)
	}
	if style.Font == nil || !style.Font.Bold {
		t.Error("header font not bold")
	}
	if len(style.Fill.Color) == 0 || !strings.HasSuffix(strings.ToUpper(style.Fill.Color[0]), excelHeaderColor) {
		t.Errorf("header fill = %v", style.Fill.Color)
	}

	width, err := wb.GetColWidth(excelSheet, "C")
	if err != nil {
		t.Fatal(err)
	}
	if want := float64(len("https://example.com/article/1") + 2); width != want {
		t.Errorf("url column width = %v, want %v", width, want)
	}
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "results.db")
	s, err := NewSQLiteStorage(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ref, err := s.Save(context.Background(), "sql job", testRecords())
	if err != nil {
		t.Fatal(err)
	}
	_, batch, ok := strings.Cut(ref, "?batch=")
	if !ok {
		t.Fatalf("ref = %q", ref)
	}

	got, err := s.Load(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	want := testRecords()
	if len(got) != len(want) {
		t.Fatalf("loaded %d records", len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("record %d differs", i)
		}
	}
}

type failingStorage struct{ err error }

func (f failingStorage) Save(context.Context, string, []*types.Record) (string, error) {
	return "", f.err
}
func (f failingStorage) Close() error { return nil }
func (f failingStorage) Name() string { return "failing" }

func TestMultiStorage(t *testing.T) {
	dir := t.TempDir()
	js, _ := NewJSONStorage(dir, testLogger)
	cs, _ := NewCSVStorage(dir, testLogger)

	m := NewMultiStorage([]Storage{js, cs}, testLogger)
	ref, err := m.Save(context.Background(), "multi", testRecords())
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(ref, ",")
	if len(parts) != 2 || !strings.HasSuffix(parts[0], ".json") || !strings.HasSuffix(parts[1], ".csv") {
		t.Errorf("ref = %q", ref)
	}

	boom := errors.New("boom")
	m = NewMultiStorage([]Storage{failingStorage{boom}, js}, testLogger)
	if _, err := m.Save(context.Background(), "multi", testRecords()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("healthy backend should still write; dir has %d files", len(entries))
	}
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Storage
	cfg.OutputDir = t.TempDir()

	cfg.Types = []string{"csv"}
	s, err := New(context.Background(), cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "csv" {
		t.Errorf("name = %s", s.Name())
	}

	cfg.Types = []string{"json", "xlsx"}
	s, err = New(context.Background(), cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "multi" {
		t.Errorf("name = %s", s.Name())
	}

	cfg.Types = []string{"parquet"}
	if _, err := New(context.Background(), cfg, testLogger); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestMongoStorage(t *testing.T) {
	uri := os.Getenv("CRAWLMASTER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CRAWLMASTER_TEST_MONGO_URI not set")
	}
	s, err := NewMongoStorage(context.Background(), uri, "crawlmaster_test", "records", testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ref, err := s.Save(context.Background(), "mongo job", testRecords())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "mongodb://crawlmaster_test/records?batch=") {
		t.Errorf("ref = %q", ref)
	}
}

func TestRecordDocumentKeepsOrder(t *testing.T) {
	doc := recordDocument(testRecords()[0], "job", "b1")
	var keys []string
	for _, e := range doc {
		keys = append(keys, e.Key)
	}
	if strings.Join(keys, ",") != "_job,_batch,title,tags,url,crawled_at" {
		t.Errorf("keys = %v", keys)
	}
	if tags, ok := doc[3].Value.([]string); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v", doc[3].Value)
	}
}
