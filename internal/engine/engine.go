// Package engine drives selector-based crawl jobs: fetch the seed page,
// extract a record, expand same-site links one level deep and extract each.
package engine

import (
	"context"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Status is a crawl job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Fetcher is the interface for page fetchers.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Sink persists a completed job's records and returns an artifact reference,
// for example a file name.
type Sink interface {
	Save(ctx context.Context, name string, records []*types.Record) (string, error)
}

// Observer receives job-level events. observability.Metrics implements it.
type Observer interface {
	JobStarted()
	JobFinished(status string)
	RecordsExtracted(n int)
}
