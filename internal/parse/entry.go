package parse

import (
	"github.com/gobwas/glob"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/model"
)

// DefaultEntrypointNames are callable names treated as entrypoints. Dunder
// methods are invoked implicitly by the runtime.
var DefaultEntrypointNames = []string{"main", "__*__", "test_*"}

// DefaultEntrypointDecorators mark web handlers and app hooks.
var DefaultEntrypointDecorators = []string{"app", "route", "get", "post", "put", "delete", "patch"}

// Convention decides which callables are entrypoints. Patterns are globs
// matched against the symbol name and against the last dotted component of
// each decorator.
type Convention struct {
	names      []glob.Glob
	decorators []glob.Glob
}

// NewConvention compiles entrypoint name and decorator patterns.
func NewConvention(names, decorators []string) (*Convention, error) {
	c := &Convention{}
	var err error
	if c.names, err = compileGlobs(names); err != nil {
		return nil, errors.Errorf("entrypoint names: %w", err)
	}
	if c.decorators, err = compileGlobs(decorators); err != nil {
		return nil, errors.Errorf("entrypoint decorators: %w", err)
	}
	return c, nil
}

// DefaultConvention returns the built-in convention.
func DefaultConvention() *Convention {
	c, err := NewConvention(DefaultEntrypointNames, DefaultEntrypointDecorators)
	if err != nil {
		panic(err)
	}
	return c
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// IsEntrypoint reports whether sym matches the convention. Classes are never
// entrypoints.
func (c *Convention) IsEntrypoint(sym *model.Symbol) bool {
	if !sym.Kind.IsCallable() {
		return false
	}
	for _, g := range c.names {
		if g.Match(sym.Name) {
			return true
		}
	}
	for _, d := range sym.Decorators {
		for _, g := range c.decorators {
			if g.Match(d) {
				return true
			}
		}
	}
	return false
}
