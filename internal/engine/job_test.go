package engine

import (
	"errors"
	"testing"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

func TestNewJobValidation(t *testing.T) {
	good := types.ParseSelectorText("title: h1")

	tests := []struct {
		name      string
		url       string
		selectors types.SelectorMap
		sentinel  error
	}{
		{"relative url", "/just/a/path", good, types.ErrInvalidURL},
		{"bad scheme", "ftp://example.com/", good, types.ErrInvalidURL},
		{"empty selectors", "https://example.com/", types.SelectorMap{}, types.ErrEmptySelectors},
		{"reserved name", "https://example.com/", types.ParseSelectorText("url: a"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJob("id", "n", tt.url, tt.selectors, testLogger)
			var ce *types.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v in chain, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestJobSnapshotIsDeepCopy(t *testing.T) {
	job, err := NewJob("id", "", "https://example.com/", types.ParseSelectorText("title: h1"), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if job.Name() != "id" {
		t.Errorf("name defaults to id, got %q", job.Name())
	}

	job.start()
	rec := types.NewRecord()
	rec.Set("title", types.Scalar("original"))
	job.addRecord(rec)

	snap := job.Snapshot()
	snap.Data[0].Set("title", types.Scalar("changed"))
	snap.Logs = append(snap.Logs, "extra")

	if got := job.Records()[0].GetString("title"); got != "original" {
		t.Errorf("job record mutated through snapshot: %q", got)
	}
	if len(job.Summary().Logs) != 0 {
		t.Error("job logs mutated through snapshot")
	}
}

func TestJobTerminalIsImmutable(t *testing.T) {
	job, _ := NewJob("id", "n", "https://example.com/", types.ParseSelectorText("title: h1"), testLogger)
	job.start()
	job.setProgress(40)
	if !job.finish(StatusCancelled, "ignored.xlsx", "") {
		t.Fatal("finish returned false")
	}

	job.setProgress(90)
	job.addRecord(types.NewRecord())
	job.addError()
	job.logf(0, "late line")
	if job.finish(StatusCompleted, "x", "") {
		t.Error("second finish should be refused")
	}

	s := job.Snapshot()
	if s.Status != StatusCancelled || s.Progress != 40 || s.Collected != 0 || s.ErrorCount != 0 {
		t.Errorf("terminal job changed: %+v", s)
	}
	if len(s.Logs) != 0 {
		t.Errorf("terminal job got log lines: %v", s.Logs)
	}
	if s.ResultFile != "" {
		t.Errorf("result file set on cancelled job: %q", s.ResultFile)
	}
}

func TestJobProgressCappedBelowCompletion(t *testing.T) {
	job, _ := NewJob("id", "n", "https://example.com/", types.ParseSelectorText("title: h1"), testLogger)
	job.start()
	job.setProgress(100)
	if p := job.Summary().Progress; p != 99 {
		t.Errorf("progress = %d while running, want 99", p)
	}
	job.setProgress(10)
	if p := job.Summary().Progress; p != 99 {
		t.Errorf("progress went backwards to %d", p)
	}
	job.finish(StatusCompleted, "out.csv", "")
	if p := job.Summary().Progress; p != 100 {
		t.Errorf("completed progress = %d", p)
	}
}
