package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Observer receives fetch outcomes. observability.Metrics implements it.
type Observer interface {
	ObserveFetch(statusCode int, bytes int, err error)
}

// HTTPFetcher implements Fetcher using net/http. It is safe for concurrent
// use, so one instance can back a process-wide connection pool.
type HTTPFetcher struct {
	client   *http.Client
	cfg      *config.FetcherConfig
	limiter  *hostLimiter
	observer Observer
	logger   *slog.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.Config, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Fetcher.MaxIdleConns,
		MaxIdleConnsPerHost: max(cfg.Fetcher.MaxIdleConns/2, 1),
		IdleConnTimeout:     cfg.Fetcher.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Fetcher.TLSInsecure,
		},
		DisableCompression: true, // decoded below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.Fetcher.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.Fetcher.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.Fetcher.MaxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		CheckRedirect: redirectPolicy,
	}

	return &HTTPFetcher{
		client:  client,
		cfg:     &cfg.Fetcher,
		limiter: newHostLimiter(cfg.Fetcher.RequestsPerSecond),
		logger:  logger.With("component", "http_fetcher"),
	}, nil
}

// SetObserver registers a receiver for fetch outcomes.
func (f *HTTPFetcher) SetObserver(o Observer) {
	f.observer = o
}

// Fetch retrieves a page, retrying retryable failures up to
// fetcher.max_retries times with exponential backoff. With the default of
// zero retries it is a single attempt.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	delay := f.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		resp, err := f.fetchOnce(ctx, req)
		if f.observer != nil {
			status, size := 0, 0
			if resp != nil {
				status, size = resp.StatusCode, len(resp.Body)
			}
			f.observer.ObserveFetch(status, size, err)
		}
		if err == nil {
			return resp, nil
		}

		var fe *types.FetchError
		if attempt >= f.cfg.MaxRetries || !errors.As(err, &fe) || !fe.Retryable {
			return nil, err
		}

		wait := delay
		if fe.StatusCode == http.StatusTooManyRequests {
			if ra, ok := fe.Err.(retryAfterError); ok {
				wait = ra.after
			}
		}
		f.logger.Debug("retrying fetch",
			"url", req.URLString(),
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
		delay *= 2
	}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, req *types.Request) (*types.Response, error) {
	timeout := f.cfg.RequestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.limiter.Wait(reqCtx, req.Domain()); err != nil {
		fe := f.newFetchError(ctx, req, err)
		if ctx.Err() == nil {
			// rate.Limiter fails fast when the wait would pass the deadline.
			fe.Kind, fe.Retryable = types.FetchTimeout, true
		}
		return nil, fe
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URLString(), nil)
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Kind: types.FetchOther, Err: err}
	}

	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if req.ParentURL != "" {
		httpReq.Header.Set("Referer", req.ParentURL)
	}
	for key, value := range f.cfg.Headers {
		httpReq.Header.Set(key, value)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, f.newFetchError(ctx, req, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		fe := &types.FetchError{
			URL:        req.URLString(),
			Kind:       types.FetchHTTPError,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", httpResp.StatusCode),
			Retryable:  httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500,
		}
		if httpResp.StatusCode == http.StatusTooManyRequests {
			fe.Err = retryAfterError{after: parseRetryAfter(httpResp.Header.Get("Retry-After"))}
		}
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, fe
	}

	reader, err := decompressReader(httpResp, httpResp.Body)
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Kind: types.FetchOther, Err: err}
	}

	// The cap applies to the decoded body.
	limit := f.cfg.MaxBodySize
	if limit > 0 {
		reader = io.LimitReader(reader, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, f.newFetchError(ctx, req, err)
	}
	if limit > 0 && int64(len(body)) > limit {
		f.logger.Warn("body exceeds max_body_size, truncated",
			"url", req.URLString(),
			"limit", limit,
		)
		body = body[:limit]
	}
	if len(body) == 0 {
		return nil, &types.FetchError{URL: req.URLString(), Kind: types.FetchOther, Err: types.ErrEmptyResponse}
	}

	resp := types.NewResponse(req, httpResp, body, time.Since(start))

	f.logger.Debug("fetch complete",
		"url", req.URLString(),
		"status", resp.StatusCode,
		"size", len(body),
		"duration", resp.Elapsed,
	)

	return resp, nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Type returns the fetcher type identifier.
func (f *HTTPFetcher) Type() string {
	return "http"
}

func (f *HTTPFetcher) newFetchError(parent context.Context, req *types.Request, err error) *types.FetchError {
	kind := classifyError(parent, err)
	return &types.FetchError{
		URL:       req.URLString(),
		Kind:      kind,
		Err:       err,
		Retryable: kind == types.FetchTimeout || kind == types.FetchConnectionFailed,
	}
}

// classifyError maps a transport error onto a FetchErrorKind. Cancellation
// of the caller's context is never reported as a timeout.
func classifyError(parent context.Context, err error) types.FetchErrorKind {
	if parent.Err() != nil {
		return types.FetchOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FetchTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return types.FetchConnectionFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return types.FetchConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return types.FetchConnectionFailed
	}
	return types.FetchOther
}

// decompressReader wraps a reader with the appropriate decompressor.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

type retryAfterError struct {
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("HTTP 429: rate limited (retry after %s)", e.after)
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
