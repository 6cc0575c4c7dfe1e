package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// queryCSS returns the trimmed text of every element matching selector. A
// selector that does not compile matches nothing.
func (e *Extractor) queryCSS(doc *goquery.Document, field, selector string) []string {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		e.logger.Warn("invalid css selector", "field", field, "selector", selector, "error", err)
		return nil
	}

	var values []string
	doc.FindMatcher(matcher).Each(func(_ int, sel *goquery.Selection) {
		values = append(values, strings.TrimSpace(sel.Text()))
	})
	return values
}
