package engine

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/IshaanNene/crawlmaster/internal/config"
)

// Expander discovers follow-on links on a page. It never recurses: the
// result is the complete frontier for one level below the source.
type Expander struct {
	detailHeuristic   bool
	detailPatterns    []string
	includeSubdomains bool
	robots            *RobotsFilter
}

// NewExpander creates an Expander from crawl settings. robots may be nil.
func NewExpander(cfg config.CrawlConfig, robots *RobotsFilter) *Expander {
	patterns := cfg.DetailPatterns
	if len(patterns) == 0 {
		patterns = config.DefaultDetailPatterns
	}
	return &Expander{
		detailHeuristic:   cfg.DetailHeuristic,
		detailPatterns:    patterns,
		includeSubdomains: cfg.IncludeSubdomains,
		robots:            robots,
	}
}

// Expand returns up to maxLinks same-site URLs from body in order of first
// appearance, excluding sourceURL itself and any exclude URLs.
func (x *Expander) Expand(ctx context.Context, body []byte, sourceURL string, maxLinks int, exclude ...string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return x.ExpandDocument(ctx, doc, sourceURL, maxLinks, exclude...)
}

// ExpandDocument is Expand for an already parsed document.
func (x *Expander) ExpandDocument(ctx context.Context, doc *goquery.Document, sourceURL string, maxLinks int, exclude ...string) ([]string, error) {
	if maxLinks <= 0 {
		return nil, nil
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{canonicalURL(base): true}
	for _, e := range exclude {
		if u, err := url.Parse(e); err == nil {
			seen[canonicalURL(u)] = true
		}
	}
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || skipHref(href) {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !x.sameSite(base, resolved) {
			return
		}

		abs := canonicalURL(resolved)
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})

	if x.robots != nil {
		links = x.robots.Filter(ctx, links)
	}

	if x.detailHeuristic {
		if detail := x.detailLinks(links); len(detail) > 0 {
			links = detail
		}
	}

	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links, nil
}

// detailLinks keeps links whose path looks like a content page.
func (x *Expander) detailLinks(links []string) []string {
	var out []string
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil {
			continue
		}
		for _, p := range x.detailPatterns {
			if strings.Contains(u.Path, p) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

func (x *Expander) sameSite(base, u *url.URL) bool {
	if x.includeSubdomains {
		a, errA := publicsuffix.EffectiveTLDPlusOne(base.Hostname())
		b, errB := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
		if errA == nil && errB == nil {
			return strings.EqualFold(a, b)
		}
	}
	return strings.EqualFold(base.Scheme, u.Scheme) && strings.EqualFold(base.Host, u.Host)
}

func skipHref(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range []string{"#", "javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// canonicalURL drops the fragment, lowercases scheme and host and gives an
// empty path the root path, so trivially different spellings dedupe.
func canonicalURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
	}
	return c.String()
}
