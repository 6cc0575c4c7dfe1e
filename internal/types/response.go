package types

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Response is a page fetched with HTTP 200. Its body is parsed at most once;
// CSS and XPath extraction and link expansion share the same tree.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       []byte // decoded (gzip, deflate, br)

	// FinalURL is the URL after redirects. Relative links resolve against it.
	FinalURL string

	Elapsed   time.Duration
	FetchedAt time.Time

	parseOnce sync.Once
	root      *html.Node
	parseErr  error
}

// NewResponse builds a Response for req from the HTTP exchange.
func NewResponse(req *Request, httpResp *http.Response, body []byte, elapsed time.Duration) *Response {
	final := req.URLString()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		final = httpResp.Request.URL.String()
	}
	return &Response{
		Request:    req,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		FinalURL:   final,
		Elapsed:    elapsed,
		FetchedAt:  time.Now(),
	}
}

// Root returns the parsed HTML tree of the body.
func (r *Response) Root() (*html.Node, error) {
	r.parseOnce.Do(func() {
		r.root, r.parseErr = html.Parse(bytes.NewReader(r.Body))
	})
	return r.root, r.parseErr
}

// Document returns a goquery view over Root.
func (r *Response) Document() (*goquery.Document, error) {
	root, err := r.Root()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}
