package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request is one page fetch.
type Request struct {
	URL     *url.URL
	Headers http.Header // sent in addition to the fetcher's headers

	// Timeout replaces the fetcher's request timeout when positive.
	Timeout time.Duration

	// ParentURL is the page the URL was found on; sent as Referer.
	ParentURL string
}

// NewRequest parses rawURL, which must be an absolute http or https URL with
// a host. Errors wrap ErrInvalidURL.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidURL, rawURL)
	case u.Host == "":
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidURL, rawURL)
	}
	return &Request{URL: u, Headers: make(http.Header)}, nil
}

// URLString returns the request URL, or "" when unset.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the request host without port.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}
