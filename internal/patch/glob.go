package patch

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/layout"
)

// ExpandBraces expands "{a,b}" groups, including nested ones, into every
// alternative. Unbalanced braces are left as they are.
func ExpandBraces(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}

	depth := 0
	closeAt := -1
	var commas []int
	for i := open; i < len(pattern) && closeAt < 0; i++ {
		switch pattern[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				closeAt = i
			}
		case ',':
			if depth == 1 {
				commas = append(commas, i)
			}
		}
	}
	if closeAt < 0 {
		return []string{pattern}
	}

	prefix, suffix := pattern[:open], pattern[closeAt+1:]
	var alts []string
	start := open + 1
	for _, c := range commas {
		alts = append(alts, pattern[start:c])
		start = c + 1
	}
	alts = append(alts, pattern[start:closeAt])

	var out []string
	for _, alt := range alts {
		out = append(out, ExpandBraces(prefix+alt+suffix)...)
	}
	return out
}

// Resolved is a source file matched by a path expression.
type Resolved struct {
	Abs string
	// Key is the overlay key, "catalog/controller/…".
	Key string
}

// Resolve matches a single path expression (no "|") against the category
// roots and returns the regular files it names, sorted and de-duplicated.
func Resolve(fs afero.Fs, roots layout.Roots, expr string) ([]Resolved, error) {
	seen := map[string]bool{}
	var out []Resolved
	for _, pattern := range ExpandBraces(layout.ToSlash(expr)) {
		abs, ok := roots.Resolve(pattern)
		if !ok {
			continue
		}
		matches, err := afero.Glob(fs, abs)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			info, err := fs.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			key, ok := roots.Key(m)
			if !ok {
				continue
			}
			out = append(out, Resolved{Abs: filepath.Clean(m), Key: key})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Abs < out[j].Abs })
	return out, nil
}
