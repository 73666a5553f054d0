package syncer

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/vertextoedge/filesync/internal/domain"
)

// Filter keeps the files whose URI matches at least one glob.
// "*" stays within a path segment, "**" crosses segments.
type Filter struct {
	patterns []string
	globs    []glob.Glob
}

// NewFilter compiles the patterns. No patterns matches every file.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match reports whether uri is selected
func (f *Filter) Match(uri string) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(uri) {
			return true
		}
	}
	return false
}

// Apply returns the matching files in input order
func (f *Filter) Apply(files []domain.RemoteFile) []domain.RemoteFile {
	if f == nil || len(f.globs) == 0 {
		return files
	}
	out := make([]domain.RemoteFile, 0, len(files))
	for _, file := range files {
		if f.Match(file.URI) {
			out = append(out, file)
		}
	}
	return out
}

// Patterns returns the source patterns
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return f.patterns
}
