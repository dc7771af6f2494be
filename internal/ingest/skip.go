package ingest

import (
	"strings"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
	"gitlab.com/tozd/go/errors"
)

// DefaultSkipPatterns are dependency caches, build output, and VCS metadata
// directories that are never worth analyzing.
var DefaultSkipPatterns = []string{
	"venv",
	"env",
	".venv",
	".env",
	"virtualenv",
	"node_modules",
	".git",
	".svn",
	".hg",
	"__pycache__",
	".pytest_cache",
	".tox",
	"build",
	"dist",
	"*.egg-info",
	"eggs",
	".mypy_cache",
	".ruff_cache",
	".cache",
	"site-packages",
	"lib/python*/site-packages",
	"__MACOSX",
}

type segmentMatcher func(string) bool

// Skipper decides whether an archive path should be skipped.
type Skipper struct {
	patterns [][]segmentMatcher
	exclude  *ignore.GitIgnore
}

// NewSkipper compiles skip patterns and gitignore-style exclude lines.
//
// Each skip pattern is a "/"-separated sequence of segment matchers. It
// matches a path when it equals a contiguous run of the path's directory
// segments starting at any segment. Segments with glob metacharacters are
// matched as globs, others literally.
func NewSkipper(patterns, exclude []string) (*Skipper, error) {
	s := &Skipper{}
	for _, p := range patterns {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		var seq []segmentMatcher
		for _, seg := range strings.Split(p, "/") {
			m, err := compileSegment(seg)
			if err != nil {
				return nil, errors.Errorf("compiling skip pattern %q: %w", p, err)
			}
			seq = append(seq, m)
		}
		s.patterns = append(s.patterns, seq)
	}
	if len(exclude) > 0 {
		s.exclude = ignore.CompileIgnoreLines(exclude...)
	}
	return s, nil
}

func compileSegment(seg string) (segmentMatcher, error) {
	if !strings.ContainsAny(seg, "*?[{") {
		return func(s string) bool { return s == seg }, nil
	}
	g, err := glob.Compile(seg)
	if err != nil {
		return nil, err
	}
	return g.Match, nil
}

// Skip reports whether path (normalized, "/"-separated) should be skipped.
// Only directory segments are tested against skip patterns.
func (s *Skipper) Skip(path string) bool {
	if s.exclude != nil && s.exclude.MatchesPath(path) {
		return true
	}
	dirs := strings.Split(path, "/")
	dirs = dirs[:len(dirs)-1]
	for _, seq := range s.patterns {
		if matchRun(seq, dirs) {
			return true
		}
	}
	return false
}

func matchRun(seq []segmentMatcher, dirs []string) bool {
	for start := 0; start+len(seq) <= len(dirs); start++ {
		ok := true
		for i, m := range seq {
			if !m(dirs[start+i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
