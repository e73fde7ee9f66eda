package gateway

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PublicPaths matches request paths that are relayed without a token.
// Patterns are doublestar globs written without the leading slash.
type PublicPaths struct {
	patterns []string
}

// NewPublicPaths validates every pattern.
func NewPublicPaths(patterns []string) (*PublicPaths, error) {
	p := &PublicPaths{}
	for _, raw := range patterns {
		pattern := strings.TrimPrefix(strings.TrimSpace(raw), "/")
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid public path pattern %q", raw)
		}
		p.patterns = append(p.patterns, pattern)
	}
	return p, nil
}

// Match reports whether the request path is public. The path is cleaned
// first so dot segments cannot walk out of a public prefix.
func (p *PublicPaths) Match(requestPath string) bool {
	candidate := strings.TrimPrefix(path.Clean("/"+requestPath), "/")
	for _, pattern := range p.patterns {
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}
	}
	return false
}

// Patterns returns the normalized patterns.
func (p *PublicPaths) Patterns() []string {
	return append([]string(nil), p.patterns...)
}
