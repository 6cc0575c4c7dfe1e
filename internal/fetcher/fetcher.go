// Package fetcher retrieves pages over HTTP and classifies failures by kind.
package fetcher

import (
	"context"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Fetcher is satisfied by HTTPFetcher. A *types.Response is returned only
// for HTTP 200; any other outcome is a *types.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
	Close() error
	Type() string
}
