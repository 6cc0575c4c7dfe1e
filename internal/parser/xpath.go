package parser

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// queryXPath evaluates an XPath expression. Attribute steps such as
// //img/@src yield the attribute value.
func (e *Extractor) queryXPath(root *html.Node, field, expr string) []string {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		e.logger.Warn("invalid xpath", "field", field, "selector", expr, "error", err)
		return nil
	}

	values := make([]string, 0, len(nodes))
	for _, node := range nodes {
		values = append(values, strings.TrimSpace(htmlquery.InnerText(node)))
	}
	return values
}
