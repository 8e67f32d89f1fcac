// File: internal/routing/matcher_test.go
package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobMatcher(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		url     string
		want    bool
	}{
		{"star matches everything http", "*", "http://example.com/", true},
		{"star matches everything https", "*", "https://example.com/a/b?c=d", true},
		{"star does not match other schemes", "*", "ftp://example.com/", false},
		{"suffix glob matches", "**/*.png", "https://cdn.example.com/img/logo.png", true},
		{"suffix glob rejects other types", "**/*.png", "https://cdn.example.com/app.css", false},
		{"host plus path", "example.com/api/*", "https://example.com/api/users", true},
		{"host plus path wrong host", "example.com/api/*", "https://evil.com/api/users", false},
		{"question mark single char", "example.com/v?/ping", "http://example.com/v1/ping", true},
		{"question mark not multi char", "example.com/v?/ping", "http://example.com/v12/ping", false},
		{"literal dots escaped", "api.example.com/*", "https://apixexample.com/x", false},
		{"star crosses slashes", "example.com/*", "https://example.com/a/b/c", true},
		{"anchored at end", "example.com/api", "https://example.com/api/extra", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewGlobMatcher(tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Matches(tc.url))
			assert.Equal(t, tc.pattern, m.Pattern())
		})
	}
}

func TestMatchFunc(t *testing.T) {
	m := MatchFunc(func(url string) bool { return len(url) > 10 })
	assert.True(t, m.Matches("https://example.com"))
	assert.False(t, m.Matches("short"))
}
