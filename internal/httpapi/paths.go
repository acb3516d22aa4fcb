// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// PathMatcher reports whether a request path is public, meaning it is served
// without a session. Patterns use gobwas/glob with '/' as the separator:
// '*' matches within one segment and '**' crosses segments.
//
// Trailing slashes are ignored on both patterns and paths, so "/api/v1/status"
// also matches "/api/v1/status/".
type PathMatcher struct {
	globs []glob.Glob
}

// NewPathMatcher compiles patterns. An empty pattern list makes every path
// require a session.
func NewPathMatcher(patterns []string) (*PathMatcher, error) {
	m := &PathMatcher{globs: make([]glob.Glob, 0, len(patterns))}
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.Code("HTTP_INVALID_PATH_PATTERN").
				With("index", i).
				Errorf("public path pattern %d is empty", i)
		}
		g, err := glob.Compile(normalizePath(pattern), '/')
		if err != nil {
			return nil, oops.Code("HTTP_INVALID_PATH_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// IsPublic reports whether path matches any public pattern.
func (m *PathMatcher) IsPublic(path string) bool {
	path = normalizePath(path)
	for _, g := range m.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}
