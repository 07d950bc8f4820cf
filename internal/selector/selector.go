// Package selector evaluates the two declared selector kinds (css, xpath)
// against a parsed document. CSS selection goes straight to goquery; xpath
// expressions are handled by a minimal translator that rewrites the common
// path/attribute/text() shapes (//tag[@attr='v']/@href, //tag/text()) into
// the equivalent cascadia CSS selector goquery already understands, rather
// than evaluating a full XPath grammar.
package selector

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwsf/cwsf/internal/config"
)

var cssAttrSuffix = regexp.MustCompile(`::attr\(([A-Za-z_-]+)\)$`)

// Find evaluates expr (of the given kind) against doc and returns the
// matching selection along with any attribute name or text() request
// trailing the expression (e.g. "/@href" or "/text()").
func Find(doc *goquery.Document, expr string, kind config.SelectorKind) (sel *goquery.Selection, attr string, wantText bool) {
	return FindWithin(doc.Selection, expr, kind)
}

// FindWithin evaluates expr against an existing selection's subtree, for
// extracting fields scoped to a container node.
func FindWithin(scope *goquery.Selection, expr string, kind config.SelectorKind) (sel *goquery.Selection, attr string, wantText bool) {
	css, attr, wantText := toCSS(expr, kind)
	if css == "" {
		return scope, attr, wantText
	}
	return scope.Find(css), attr, wantText
}

// Value reads the first matched node per the attr/text() request computed
// by Find/FindWithin, returning false if nothing matched.
func Value(sel *goquery.Selection, attr string, wantText bool) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	first := sel.First()
	if wantText {
		return strings.TrimSpace(first.Text()), true
	}
	if attr != "" {
		return first.Attr(attr)
	}
	return strings.TrimSpace(first.Text()), true
}

// Values reads every matched node per the attr/text() request, in document
// order, skipping nodes with no value for an attribute request.
func Values(sel *goquery.Selection, attr string, wantText bool) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if wantText {
			out = append(out, strings.TrimSpace(s.Text()))
			return
		}
		if attr != "" {
			if v, ok := s.Attr(attr); ok {
				out = append(out, v)
			}
			return
		}
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

var xpathAttrSuffix = regexp.MustCompile(`/@([A-Za-z_-]+)$`)
var xpathPredicate = regexp.MustCompile(`\[@([A-Za-z_-]+)(?:=(['"])([^'"]*)['"])?\]`)

// toCSS rewrites a css-kind expression, recognizing the parsel-style
// "::text" and "::attr(name)" pseudo-suffixes the document fields use (e.g.
// "h2::text", "a::attr(href)"), or an xpath-kind expression, into a plain
// CSS selector plus an optional trailing attribute/text() request.
func toCSS(expr string, kind config.SelectorKind) (css, attr string, wantText bool) {
	expr = strings.TrimSpace(expr)
	if kind != config.SelectorKindXPath {
		if strings.HasSuffix(expr, "::text") {
			return strings.TrimSuffix(expr, "::text"), "", true
		}
		if m := cssAttrSuffix.FindStringSubmatch(expr); m != nil {
			return cssAttrSuffix.ReplaceAllString(expr, ""), m[1], false
		}
		return expr, "", false
	}

	// xpath-flavored: //a/@href, //div[@class='x']/text(), //span/@data-id
	e := strings.TrimPrefix(expr, "//")
	e = strings.TrimPrefix(e, "/")

	if strings.HasSuffix(e, "/text()") {
		wantText = true
		e = strings.TrimSuffix(e, "/text()")
	} else if m := xpathAttrSuffix.FindStringSubmatch(e); m != nil {
		attr = m[1]
		e = strings.TrimSuffix(e, m[0])
	}

	e = xpathPredicate.ReplaceAllStringFunc(e, func(m string) string {
		sub := xpathPredicate.FindStringSubmatch(m)
		if sub[3] != "" {
			return "[" + sub[1] + "=\"" + sub[3] + "\"]"
		}
		return "[" + sub[1] + "]"
	})
	e = strings.ReplaceAll(e, "/", " > ")
	return e, attr, wantText
}
