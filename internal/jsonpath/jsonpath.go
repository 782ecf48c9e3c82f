// Package jsonpath evaluates the path expressions used by assertions and
// extractors against decoded JSON documents.
//
// The native dialect is a conservative subset: dot-separated field access,
// numeric indexing ("items[2]"), an optional "$." root prefix, and a single-
// level wildcard "*" (or "[*]") that fans out over every element of an array
// or every value of an object, yielding an array. Expressions that do not fit
// the subset are handed to JMESPath, so advanced queries remain available.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// ErrNotFound is reported when the path is syntactically valid but no value
// exists at it.
type ErrNotFound struct{ Path string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("path %q not found", e.Path)
}

// segment is one step of a parsed path: a field name, an index, or a wildcard.
type segment struct {
	field    string
	index    int
	isIndex  bool
	wildcard bool
}

// Lookup evaluates expr against doc. doc must be the result of decoding JSON
// into interface{} values (map[string]interface{}, []interface{}, string,
// float64, bool, nil).
func Lookup(doc interface{}, expr string) (interface{}, error) {
	segs, err := parse(expr)
	if err == nil {
		return navigate(doc, segs, expr)
	}
	// Outside the native subset: fall back to JMESPath.
	result, jmesErr := jmespath.Search(expr, doc)
	if jmesErr != nil {
		return nil, fmt.Errorf("invalid path expression %q: %w", expr, jmesErr)
	}
	if result == nil {
		return nil, &ErrNotFound{Path: expr}
	}
	return result, nil
}

// IsScalar reports whether v is a JSON scalar (string, number, bool).
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case string, float64, bool, int, int64:
		return true
	}
	return false
}

// ScalarString renders a scalar JSON value as the string stored into
// variables. Numbers use the shortest representation ("42", not "42.000000").
func ScalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprintf("%v", v)
}

// parse splits expr into segments, rejecting anything outside the subset.
func parse(expr string) ([]segment, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	// Strip the JSONPath root marker.
	s = strings.TrimPrefix(s, "$.")
	if s == "$" {
		return nil, nil
	}

	var segs []segment
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty path segment")
		}
		if part == "*" {
			segs = append(segs, segment{wildcard: true})
			continue
		}
		// A field may carry one or more bracket suffixes: "items[0][1]".
		field := part
		var brackets []string
		for {
			open := strings.Index(field, "[")
			if open < 0 {
				break
			}
			end := strings.Index(field[open:], "]")
			if end < 0 {
				return nil, fmt.Errorf("unclosed bracket in %q", part)
			}
			brackets = append(brackets, field[open+1:open+end])
			field = field[:open] + field[open+end+1:]
		}
		if field != "" {
			if strings.ContainsAny(field, "()@?'\" |&<>=!") {
				return nil, fmt.Errorf("unsupported syntax in %q", part)
			}
			segs = append(segs, segment{field: field})
		}
		for _, b := range brackets {
			if b == "*" {
				segs = append(segs, segment{wildcard: true})
				continue
			}
			idx, err := strconv.Atoi(b)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q", b)
			}
			segs = append(segs, segment{index: idx, isIndex: true})
		}
	}
	return segs, nil
}

// navigate walks doc along segs. A wildcard fans out and collects the results
// of navigating the remaining path under each element into an array.
func navigate(doc interface{}, segs []segment, fullPath string) (interface{}, error) {
	current := doc
	for i, seg := range segs {
		switch {
		case seg.wildcard:
			rest := segs[i+1:]
			var matches []interface{}
			switch t := current.(type) {
			case []interface{}:
				for _, el := range t {
					if v, err := navigate(el, rest, fullPath); err == nil {
						matches = append(matches, v)
					}
				}
			case map[string]interface{}:
				for _, el := range t {
					if v, err := navigate(el, rest, fullPath); err == nil {
						matches = append(matches, v)
					}
				}
			default:
				return nil, &ErrNotFound{Path: fullPath}
			}
			if len(matches) == 0 {
				return nil, &ErrNotFound{Path: fullPath}
			}
			return matches, nil
		case seg.isIndex:
			arr, ok := current.([]interface{})
			if !ok || seg.index >= len(arr) {
				return nil, &ErrNotFound{Path: fullPath}
			}
			current = arr[seg.index]
		default:
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, &ErrNotFound{Path: fullPath}
			}
			v, ok := obj[seg.field]
			if !ok {
				return nil, &ErrNotFound{Path: fullPath}
			}
			current = v
		}
	}
	return current, nil
}
