package reader

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFiles caps glob expansion to prevent resource exhaustion.
const maxFiles = 1000

// ExpandPaths expands a list of path patterns into the ordered list of files
// a scan will read.
//
// Each pattern may include wildcards:
//   - * matches any sequence of non-separator characters
//   - ? matches any single non-separator character
//   - [range] matches any character in range
//
// Patterns without wildcards are kept as-is so that a missing file surfaces
// as an open error naming the file rather than an empty-glob error. Returns
// an error if a glob pattern matches nothing.
func ExpandPaths(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[]") {
			files = append(files, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern: %w", err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", pattern)
		}
		files = append(files, matches...)
	}
	if len(files) > maxFiles {
		return nil, fmt.Errorf("patterns matched too many files (%d), maximum is %d", len(files), maxFiles)
	}
	return files, nil
}
