// Package parser extracts records from fetched pages using a SelectorMap.
package parser

import (
	"bytes"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Value caps for multi-match fields.
const (
	// PageValueCap bounds sequences on crawled pages.
	PageValueCap = 10
	// ListValueCap bounds sequences in single-page bulk list extraction.
	ListValueCap = 50
)

// Extractor applies a SelectorMap to a page. It holds no per-page state and
// is safe for concurrent use.
type Extractor struct {
	maxValues int
	logger    *slog.Logger
}

// NewExtractor creates an extractor whose multi-match fields are truncated to
// maxValues entries. A non-positive maxValues uses PageValueCap.
func NewExtractor(maxValues int, logger *slog.Logger) *Extractor {
	if maxValues <= 0 {
		maxValues = PageValueCap
	}
	return &Extractor{
		maxValues: maxValues,
		logger:    logger.With("component", "extractor"),
	}
}

// MaxValues returns the sequence cap.
func (e *Extractor) MaxValues() int {
	return e.maxValues
}

// Extract builds a record from body. Every selector name is present in the
// result; url and crawled_at are always set.
func (e *Extractor) Extract(body []byte, selectors types.SelectorMap, sourceURL string) *types.Record {
	return e.ExtractAt(body, selectors, sourceURL, time.Now())
}

// ExtractAt is Extract with a fixed extraction time.
func (e *Extractor) ExtractAt(body []byte, selectors types.SelectorMap, sourceURL string, at time.Time) *types.Record {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// html.Parse only fails on reader errors; treat as an empty document.
		e.logger.Warn("parse document", "url", sourceURL, "error", err)
		root = &html.Node{Type: html.DocumentNode}
	}
	return e.extractNode(root, selectors, sourceURL, at)
}

// ExtractResponse extracts from a fetched response, sharing its parsed tree
// with link expansion. The record's url is the requested URL.
func (e *Extractor) ExtractResponse(resp *types.Response, selectors types.SelectorMap) *types.Record {
	src := resp.Request.URLString()
	root, err := resp.Root()
	if err != nil {
		return e.ExtractAt(resp.Body, selectors, src, time.Now())
	}
	return e.extractNode(root, selectors, src, time.Now())
}

func (e *Extractor) extractNode(root *html.Node, selectors types.SelectorMap, sourceURL string, at time.Time) *types.Record {
	doc := goquery.NewDocumentFromNode(root)
	rec := types.NewRecord()

	for _, s := range selectors.Selectors() {
		var texts []string
		if query, ok := xpathQuery(s.Query); ok {
			texts = e.queryXPath(root, s.Name, query)
		} else {
			texts = e.queryCSS(doc, s.Name, s.Query)
		}
		rec.Set(s.Name, e.toValue(texts))
	}

	rec.Set(types.FieldURL, types.Scalar(sourceURL))
	rec.Set(types.FieldCrawledAt, types.Scalar(at.UTC().Format(time.RFC3339)))
	return rec
}

// toValue maps match texts onto the field value shape: nothing matched is an
// empty scalar, one match a scalar, more a capped sequence.
func (e *Extractor) toValue(texts []string) types.Value {
	switch len(texts) {
	case 0:
		return types.Scalar("")
	case 1:
		return types.Scalar(texts[0])
	}
	if len(texts) > e.maxValues {
		texts = texts[:e.maxValues]
	}
	return types.Sequence(texts)
}

// xpathQuery reports whether q is an XPath expression and returns it without
// any "xpath:" prefix.
func xpathQuery(q string) (string, bool) {
	q = strings.TrimSpace(q)
	if rest, ok := strings.CutPrefix(q, "xpath:"); ok {
		return strings.TrimSpace(rest), true
	}
	return q, strings.HasPrefix(q, "/") || strings.HasPrefix(q, "(")
}
