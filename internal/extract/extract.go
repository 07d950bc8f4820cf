// Package extract turns a parsed document into the ordered records a site
// document's selectors block describes, and applies each field's declared
// transform chain (strip, regex, cast, default) to the extracted values.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/cwerr"
	"github.com/cwsf/cwsf/internal/selector"
)

// Records parses body and returns one record (a field name to value map) per
// container node. With a container selector, len(records) always equals the
// number of matched container nodes; without one, Records returns at most
// one record built from the whole document.
func Records(site string, sel config.SelectorsConfig, body []byte) ([]map[string]interface{}, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, cwerr.Wrap(cwerr.KindParse, site, "parse document", err)
	}

	if sel.Container == "" {
		rec, ok := extractOne(doc.Selection, sel.Fields)
		if !ok {
			return nil, nil
		}
		return []map[string]interface{}{rec}, nil
	}

	// The container expression carries no declared kind field (only a
	// field's own selector does), so it alone is auto-detected: a leading
	// "/" marks it as XPath-flavored.
	containerKind := config.SelectorKindCSS
	if strings.HasPrefix(strings.TrimSpace(sel.Container), "/") {
		containerKind = config.SelectorKindXPath
	}
	containerSel, _, _ := selector.FindWithin(doc.Selection, sel.Container, containerKind)

	var records []map[string]interface{}
	containerSel.Each(func(_ int, node *goquery.Selection) {
		rec, _ := extractOne(node, sel.Fields)
		records = append(records, rec)
	})
	return records, nil
}

// extractOne builds one record from scope, applying every field's selector
// and transform chain. A field with no match at all is simply absent from
// the returned map. The record counts as present when any field's selector
// matched, even if every matched value was later dropped by its transform.
func extractOne(scope *goquery.Selection, fields map[string]config.FieldConfig) (map[string]interface{}, bool) {
	rec := make(map[string]interface{})
	matched := false
	for name, field := range fields {
		value, found := extractField(scope, field)
		if found {
			matched = true
		}
		value, keep := applyTransform(field.Transform, value, found)
		if keep {
			rec[name] = value
		}
	}
	return rec, matched || len(rec) > 0
}

// extractField evaluates one field's selector relative to scope, returning a
// scalar on a single match, an ordered []interface{} on multiple matches, or
// (nil, false) on no match.
func extractField(scope *goquery.Selection, field config.FieldConfig) (interface{}, bool) {
	sel, attr, wantText := selector.FindWithin(scope, field.Expression, field.Kind)
	values := selector.Values(sel, attr, wantText)
	switch len(values) {
	case 0:
		return nil, false
	case 1:
		return values[0], true
	default:
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i] = v
		}
		return out, true
	}
}

// applyTransform runs the field's declared transform (if any) followed by
// default substitution. keep is false only when the value is absent and no
// default applies.
func applyTransform(t *config.Transform, value interface{}, found bool) (interface{}, bool) {
	if t == nil {
		return value, found
	}

	result := value
	resultFound := found
	switch t.Type {
	case "strip":
		result, resultFound = transformStrip(value, found)
	case "regex":
		result, resultFound = transformRegex(value, found, t.Pattern)
	case "cast":
		result, resultFound = transformCast(value, found, t.CastTo)
	case "default":
		// handled uniformly below
	}

	if (!resultFound || isEmptyString(result)) && t.DefaultVal != "" {
		return t.DefaultVal, true
	}
	return result, resultFound
}

func isEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && s == ""
}

func transformStrip(value interface{}, found bool) (interface{}, bool) {
	if !found {
		return value, found
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = strings.TrimSpace(s)
			} else {
				out[i] = item
			}
		}
		return out, true
	default:
		return value, found
	}
}

func transformRegex(value interface{}, found bool, pattern string) (interface{}, bool) {
	if !found || pattern == "" {
		return value, false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value, false
	}
	switch v := value.(type) {
	case string:
		return applyRegexOne(re, v)
	case []interface{}:
		// Non-matching elements become nil rather than being dropped, so
		// the sequence keeps its length and stays position-aligned with
		// sibling fields.
		out := make([]interface{}, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				out[i] = item
				continue
			}
			if matched, ok := applyRegexOne(re, s); ok {
				out[i] = matched
			}
		}
		return out, true
	default:
		return value, found
	}
}

func applyRegexOne(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

func transformCast(value interface{}, found bool, castTo string) (interface{}, bool) {
	if !found {
		return value, false
	}
	if seq, ok := value.([]interface{}); ok {
		out := make([]interface{}, len(seq))
		for i, item := range seq {
			casted, _ := transformCast(item, true, castTo)
			out[i] = casted
		}
		return out, true
	}
	s, ok := value.(string)
	if !ok {
		return value, found
	}
	switch castTo {
	case "int":
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		return n, true
	case "float":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case "bool":
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "on":
			return true, true
		default:
			return false, true
		}
	case "str", "":
		return s, true
	default:
		return nil, false
	}
}
