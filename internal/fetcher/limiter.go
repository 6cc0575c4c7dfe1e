package fetcher

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter rate limits requests per host. It is shared by every job that
// uses the same fetcher.
type hostLimiter struct {
	rps      rate.Limit
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiter(rps float64) *hostLimiter {
	if rps <= 0 {
		return nil
	}
	return &hostLimiter{
		rps:      rate.Limit(rps),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host may proceed. A nil limiter never waits.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.rps, 1)
		h.limiters[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}
