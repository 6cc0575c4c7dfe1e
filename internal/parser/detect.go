package parser

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// detectPatterns lists candidate selectors per field. The first pattern that
// matches anything on the page wins.
var detectPatterns = []struct {
	field    string
	patterns []string
}{
	{"title", []string{"h1", "h2", ".title", ".headline", `[class*="title"]`, `[class*="heading"]`}},
	{"content", []string{"article", ".content", ".body", "main", ".post-content", `[class*="content"]`}},
	{"date", []string{"time", ".date", ".timestamp", "[datetime]", `[class*="date"]`}},
	{"images", []string{"img"}},
	{"links", []string{"a[href]"}},
}

// DetectSelectors guesses a SelectorMap for a page. It returns an empty map
// when nothing recognizable is found.
func DetectSelectors(body []byte) (types.SelectorMap, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return types.SelectorMap{}, err
	}

	detected := types.NewSelectorMap()
	for _, d := range detectPatterns {
		for _, p := range d.patterns {
			if doc.Find(p).Length() > 0 {
				detected.Set(d.field, p)
				break
			}
		}
	}
	return detected, nil
}
