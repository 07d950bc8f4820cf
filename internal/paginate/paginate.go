// Package paginate implements the four pagination strategies named by a
// site document's pagination.type behind one Paginator interface: none,
// url_pattern, next_link, and scroll, each with its own stopping rules.
package paginate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/selector"
)

// Paginator decides, after each page is fetched and parsed, whether another
// page should be fetched and what URL to fetch it from.
type Paginator interface {
	// NextURL returns the URL to fetch for the next page, or "" if
	// pagination should stop. currentPage counts pages already fetched
	// (the page just parsed is currentPage); doc is that page's parsed
	// body, and numRecords is the record count the extractor produced
	// for it.
	NextURL(currentURL string, doc *goquery.Document, currentPage int, numRecords int) (string, bool)
}

// New builds the paginator named by cfg.Pagination.Type. Unknown or empty
// types fall back to NoPaginator.
func New(cfg *config.Config) Paginator {
	p := cfg.Pagination
	switch p.Type {
	case config.PaginationURLPattern:
		return &URLPatternPaginator{BaseURL: cfg.BaseURL, Param: paramOrDefault(p.Param), Start: startOrDefault(p.Start), MaxPages: maxPagesOrDefault(p.MaxPages)}
	case config.PaginationNextLink:
		return &NextLinkPaginator{Selector: p.Selector, Kind: selectorKindOrDefault(p.SelectorKind), MaxPages: maxPagesOrDefault(p.MaxPages), visited: map[string]bool{}}
	case config.PaginationScroll:
		// Scroll pagination is driven entirely by fetch.RenderedFetcher's
		// FetchScrollSequence, which produces one Result per scroll
		// iteration up front; there is no further URL to hand back here.
		return &NoPaginator{}
	default:
		return &NoPaginator{}
	}
}

// InitialURL returns the URL the pipeline should fetch first, resolving
// url_pattern's {param} placeholder against the configured start page so
// the very first request already names a concrete page rather than the
// literal placeholder text.
func InitialURL(cfg *config.Config) string {
	p := cfg.Pagination
	if p.Type != config.PaginationURLPattern {
		return cfg.BaseURL
	}
	placeholder := "{" + paramOrDefault(p.Param) + "}"
	return strings.ReplaceAll(cfg.BaseURL, placeholder, fmt.Sprintf("%d", startOrDefault(p.Start)))
}

func paramOrDefault(p string) string {
	if p == "" {
		return "page"
	}
	return p
}

func startOrDefault(s int) int {
	if s <= 0 {
		return 1
	}
	return s
}

func maxPagesOrDefault(m int) int {
	if m <= 0 {
		return 1
	}
	return m
}

func selectorKindOrDefault(k config.SelectorKind) config.SelectorKind {
	if k == "" {
		return config.SelectorKindCSS
	}
	return k
}

// NoPaginator is the default single-page strategy: it never returns another
// URL.
type NoPaginator struct{}

func (NoPaginator) NextURL(string, *goquery.Document, int, int) (string, bool) {
	return "", false
}

// URLPatternPaginator substitutes a page number into the {param} placeholder
// declared in base_url, walking p in [start, start+max_pages) and stopping
// early on zero records.
type URLPatternPaginator struct {
	BaseURL  string
	Param    string
	Start    int
	MaxPages int
}

func (u *URLPatternPaginator) NextURL(currentURL string, doc *goquery.Document, currentPage int, numRecords int) (string, bool) {
	if numRecords == 0 {
		return "", false
	}
	nextPage := u.Start + currentPage
	if nextPage >= u.Start+u.MaxPages {
		return "", false
	}
	placeholder := "{" + u.Param + "}"
	return strings.ReplaceAll(u.BaseURL, placeholder, fmt.Sprintf("%d", nextPage)), true
}

// NextLinkPaginator follows a "next page" href extracted from the most
// recently fetched document via the declared selector, stopping on no
// match, a revisited URL, or max_pages reached.
type NextLinkPaginator struct {
	Selector string
	Kind     config.SelectorKind
	MaxPages int
	visited  map[string]bool
}

func (n *NextLinkPaginator) NextURL(currentURL string, doc *goquery.Document, currentPage int, numRecords int) (string, bool) {
	if numRecords == 0 || n.Selector == "" || currentPage >= n.MaxPages {
		return "", false
	}
	n.visited[currentURL] = true

	sel, attr, wantText := selector.Find(doc, n.Selector, n.Kind)
	if attr == "" && !wantText {
		// A next-link selector names an anchor; absent an explicit
		// attribute or text() request, the href is what we want.
		attr = "href"
	}
	href, ok := selector.Value(sel, attr, wantText)
	if !ok || href == "" {
		return "", false
	}

	base, err := url.Parse(currentURL)
	if err != nil {
		return "", false
	}
	next, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	nextURL := next.String()

	if n.visited[nextURL] {
		return "", false
	}
	return nextURL, true
}
