// Package sanitizer strips HTML markup from untrusted input.
package sanitizer

import (
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy *bluemonday.Policy
	initOnce     sync.Once
)

func policy() *bluemonday.Policy {
	initOnce.Do(func() {
		// StrictPolicy strips every element and attribute and escapes the text.
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// StripHTML removes all tags and attributes from s. Text content survives in
// escaped form, so applying StripHTML to its own output is a no-op.
func StripHTML(s string) string {
	return policy().Sanitize(s)
}

// maxTextPasses bounds Text. Each pass that changes the value shortens it,
// so real input settles in two or three.
const maxTextPasses = 8

// Text strips markup from s and returns the remaining text unescaped, for
// values that are used as plain text rather than HTML. Stripping repeats
// until the value stops changing, so markup hidden behind entities is
// removed too and Text(Text(s)) == Text(s).
func Text(s string) string {
	for range maxTextPasses {
		next := html.UnescapeString(policy().Sanitize(s))
		if next == s {
			break
		}
		s = next
	}
	return s
}

// Value sanitizes every string reachable from v. Maps and slices are walked
// recursively and rebuilt; all other values are returned unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case string:
		return StripHTML(t)
	case map[string]any:
		return Object(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Value(item)
		}
		return out
	default:
		return v
	}
}

// Object returns a sanitized copy of m.
func Object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Value(v)
	}
	return out
}
