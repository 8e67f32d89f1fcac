// File: internal/routing/matcher.go
package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// URLMatcher decides whether a request URL is covered by a registration.
// Glob patterns are translated to an anchored regular expression; the
// scheme prefix is implicit, so patterns match against the URL without
// spelling out http:// or https://.
type URLMatcher struct {
	pattern string
	re      *regexp.Regexp
	fn      func(url string) bool
}

// NewGlobMatcher compiles a glob pattern: '*' matches any run of characters
// including '/', '?' matches a single character, everything else is
// literal.
func NewGlobMatcher(pattern string) (*URLMatcher, error) {
	re, err := regexp.Compile(globToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
	}
	return &URLMatcher{pattern: pattern, re: re}, nil
}

// MatchFunc wraps an arbitrary predicate as a matcher.
func MatchFunc(fn func(url string) bool) *URLMatcher {
	return &URLMatcher{pattern: "<func>", fn: fn}
}

// Matches reports whether the URL is covered.
func (m *URLMatcher) Matches(url string) bool {
	if m.fn != nil {
		return m.fn(url)
	}
	return m.re.MatchString(url)
}

// Pattern returns the original pattern for logging.
func (m *URLMatcher) Pattern() string { return m.pattern }

// globToRegex performs the fnmatch-style translation with an implicit
// http/https scheme prefix.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString(`^(?:http://|https://)`)
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(`$`)
	return b.String()
}
