package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// RobotsFilter drops links disallowed by their host's robots.txt. Rules are
// fetched once per scheme and host and cached for the filter's lifetime.
type RobotsFilter struct {
	fetcher   Fetcher
	userAgent string
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsFilter creates a filter that fetches robots.txt through f.
func NewRobotsFilter(f Fetcher, userAgent string, logger *slog.Logger) *RobotsFilter {
	return &RobotsFilter{
		fetcher:   f,
		userAgent: userAgent,
		logger:    logger.With("component", "robots"),
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Filter returns the allowed subset of links, keeping order.
func (r *RobotsFilter) Filter(ctx context.Context, links []string) []string {
	out := links[:0:0]
	for _, l := range links {
		if r.Allowed(ctx, l) {
			out = append(out, l)
		} else {
			r.logger.Debug("disallowed by robots.txt", "url", l)
		}
	}
	return out
}

// Allowed reports whether rawURL may be crawled. Hosts whose robots.txt
// cannot be retrieved allow everything.
func (r *RobotsFilter) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	data := r.rules(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, r.userAgent)
}

func (r *RobotsFilter) rules(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.Lock()
	data, ok := r.cache[origin]
	r.mu.Unlock()
	if ok {
		return data
	}

	data = r.fetchRules(ctx, origin)

	r.mu.Lock()
	r.cache[origin] = data
	r.mu.Unlock()
	return data
}

func (r *RobotsFilter) fetchRules(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := types.NewRequest(origin + "/robots.txt")
	if err != nil {
		return nil
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		var fe *types.FetchError
		if errors.As(err, &fe) && fe.Kind == types.FetchHTTPError {
			// 4xx allows everything, 5xx disallows everything.
			data, _ := robotstxt.FromStatusAndBytes(fe.StatusCode, nil)
			return data
		}
		r.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		r.logger.Warn("parse robots.txt", "origin", origin, "error", err)
		return nil
	}
	return data
}
