package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// searchPath is an environment variable assembled from glob patterns.
type searchPath struct {
	envKey   string
	patterns []string
}

// AddSearchPath assembles envKey from the paths matching patterns,
// relative to the working directory, in pattern order without duplicates.
// Patterns support ** (doublestar). Matching happens at Snapshot time.
func (s *Schema) AddSearchPath(envKey string, patterns ...string) *Schema {
	s.searchPaths = append(s.searchPaths, searchPath{
		envKey:   envKey,
		patterns: append([]string(nil), patterns...),
	})
	return s
}

func (sp searchPath) resolve(dir string) (string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range sp.patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return "", fmt.Errorf("search path %s: pattern %q: %w", sp.envKey, pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return joinPaths(paths...), nil
}

func joinPaths(paths ...string) string {
	return strings.Join(paths, string(os.PathListSeparator))
}
