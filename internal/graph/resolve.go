package graph

import (
	"context"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/phobologic/archgraph/internal/lang"
	"github.com/phobologic/archgraph/internal/model"
)

// binding is what a local import name refers to: a module, or a top-level
// symbol inside one when sym is set.
type binding struct {
	mod int
	sym string
}

type resolver struct {
	t      *Table
	stdlib func(string) bool

	exact  map[string]int // dotted module name -> module
	suffix map[string]int // every dotted suffix of a module name -> best module

	modNames []map[string][]int // per module: symbol name -> arena indices
	topLevel map[string][]int   // name -> top-level functions and classes
	members  map[string][]int   // name -> every symbol

	bindings  []map[string]binding
	externals []map[string]bool
	wildcards [][]int
}

// Resolve resolves every module's imports and every call site, then links
// calls symmetrically. It is a single-writer pass and must run after all
// modules are extracted.
func (t *Table) Resolve(ctx context.Context) {
	r := newResolver(t)
	for mi := range t.Modules {
		r.resolveImports(mi)
	}

	ambiguous := t.CallStats.Ambiguous
	for mi, m := range t.Modules {
		for _, site := range m.TopLevelCalls {
			if callee := r.resolveCall(mi, -1, site); callee >= 0 {
				t.linkModule(mi, callee)
			}
		}
		first, end := t.ModuleSymbols(mi)
		for si := first; si < end; si++ {
			for _, site := range t.Symbols[si].Sites {
				if callee := r.resolveCall(mi, si, site); callee >= 0 {
					t.link(si, callee)
				}
			}
		}
	}
	t.resolved = true
	t.render()

	if n := t.CallStats.Ambiguous - ambiguous; n > 0 {
		slogctx.Info(ctx, "ambiguous call targets resolved by module path order", "count", n)
	}
	slogctx.Debug(ctx, "references resolved",
		"imports_exact", t.ImportStats.Exact,
		"imports_suffix", t.ImportStats.Suffix,
		"imports_parent", t.ImportStats.Parent,
		"imports_external", t.ImportStats.External,
		"calls_unresolved", t.CallStats.Unresolved)
}

func newResolver(t *Table) *resolver {
	r := &resolver{
		t:         t,
		stdlib:    lang.Python().Stdlib,
		exact:     make(map[string]int),
		suffix:    make(map[string]int),
		modNames:  make([]map[string][]int, len(t.Modules)),
		topLevel:  make(map[string][]int),
		members:   make(map[string][]int),
		bindings:  make([]map[string]binding, len(t.Modules)),
		externals: make([]map[string]bool, len(t.Modules)),
		wildcards: make([][]int, len(t.Modules)),
	}
	for mi, m := range t.Modules {
		if m.Name != "" {
			if _, ok := r.exact[m.Name]; !ok {
				r.exact[m.Name] = mi
			}
			parts := strings.Split(m.Name, ".")
			for k := range parts {
				key := strings.Join(parts[k:], ".")
				best, ok := r.suffix[key]
				// Modules are in path order, so the first of equal length wins.
				if !ok || len(m.Name) < len(t.Modules[best].Name) {
					r.suffix[key] = mi
				}
			}
		}

		r.modNames[mi] = make(map[string][]int)
		r.bindings[mi] = make(map[string]binding)
		r.externals[mi] = make(map[string]bool)
		first, end := t.ModuleSymbols(mi)
		for si := first; si < end; si++ {
			s := t.Symbols[si]
			r.modNames[mi][s.Name] = append(r.modNames[mi][s.Name], si)
			r.members[s.Name] = append(r.members[s.Name], si)
			if s.Parent < 0 && s.Kind != model.Method {
				r.topLevel[s.Name] = append(r.topLevel[s.Name], si)
			}
		}
	}
	return r
}

// lookupModule finds the module an import name refers to, dropping trailing
// components (imported symbols) until a module matches. rest holds the
// dropped components.
func (r *resolver) lookupModule(name string) (mi int, how string, rest []string) {
	parts := strings.Split(name, ".")
	for n := len(parts); n > 0; n-- {
		cand := strings.Join(parts[:n], ".")
		if mi, ok := r.exact[cand]; ok {
			if n == len(parts) {
				return mi, "exact", nil
			}
			return mi, "parent", parts[n:]
		}
		// A bare stdlib name is never matched by suffix: "logging" must not
		// resolve to app/logging.py.
		if n == 1 && r.stdlib(cand) {
			continue
		}
		if mi, ok := r.suffix[cand]; ok {
			if n == len(parts) {
				return mi, "suffix", nil
			}
			return mi, "parent", parts[n:]
		}
	}
	return -1, "", nil
}

func (r *resolver) resolveImports(mi int) {
	t := r.t
	m := t.Modules[mi]
	for i := range m.Imports {
		imp := &m.Imports[i]
		target, how, rest := r.lookupModule(imp.Name)
		if target < 0 {
			top := imp.Name
			if j := strings.IndexByte(top, '.'); j >= 0 {
				top = top[:j]
			}
			imp.External = true
			imp.Resolved = ExternalID(top)
			t.ImportStats.External++
			t.addExternal(mi, top)
			if imp.Bind != "" {
				r.externals[mi][imp.Bind] = true
			}
			continue
		}

		switch how {
		case "exact":
			t.ImportStats.Exact++
		case "suffix":
			t.ImportStats.Suffix++
		default:
			t.ImportStats.Parent++
		}
		imp.Resolved = t.Modules[target].ID
		if target != mi {
			t.addImport(mi, target)
		}

		switch {
		case imp.Wildcard:
			r.wildcards[mi] = append(r.wildcards[mi], target)
		case imp.Bind == "":
		case len(rest) == 0:
			r.bindings[mi][imp.Bind] = binding{mod: target}
		default:
			r.bindings[mi][imp.Bind] = binding{mod: target, sym: rest[0]}
		}
	}
}

// resolveCall returns the callee's arena index, or -1. caller is -1 for
// module-level calls.
func (r *resolver) resolveCall(mi, caller int, site model.CallSite) int {
	stats := &r.t.CallStats
	if !site.Attribute {
		return r.resolveBare(mi, caller, site.Name)
	}

	switch site.Receiver {
	case "":
	case "self", "cls":
		if cls := r.enclosingClass(caller); cls >= 0 {
			if m := r.member(cls, site.Name); m >= 0 {
				stats.Class++
				return m
			}
		}
	default:
		if b, ok := r.bindings[mi][site.Receiver]; ok {
			target := r.topLevelIn(b.mod, site.Name)
			if b.sym != "" {
				target = -1
				if cls := r.topLevelIn(b.mod, b.sym); cls >= 0 && r.t.Symbols[cls].Kind == model.Class {
					target = r.member(cls, site.Name)
				}
			}
			if target >= 0 {
				stats.Imported++
				return target
			}
		}
		head := site.Receiver
		if j := strings.IndexByte(head, '.'); j >= 0 {
			head = head[:j]
		}
		if r.externals[mi][site.Receiver] || r.externals[mi][head] {
			stats.Unresolved++
			return -1
		}
		if cls := r.topLevelIn(mi, site.Receiver); cls >= 0 && r.t.Symbols[cls].Kind == model.Class {
			if m := r.member(cls, site.Name); m >= 0 {
				stats.Local++
				return m
			}
		}
	}

	// Receiver of unknown type: any symbol with the name, same module first.
	if cands := r.modNames[mi][site.Name]; len(cands) > 0 {
		stats.Local++
		return cands[0]
	}
	if s := r.crossModule(r.members[site.Name], mi); s >= 0 {
		stats.Global++
		return s
	}
	stats.Unresolved++
	return -1
}

func (r *resolver) resolveBare(mi, caller int, name string) int {
	stats := &r.t.CallStats
	if s := r.inScope(mi, caller, name); s >= 0 {
		stats.Local++
		return s
	}
	if b, ok := r.bindings[mi][name]; ok && b.sym != "" {
		if s := r.topLevelIn(b.mod, b.sym); s >= 0 {
			stats.Imported++
			return s
		}
	}
	if r.externals[mi][name] {
		stats.Unresolved++
		return -1
	}
	for _, w := range r.wildcards[mi] {
		if s := r.topLevelIn(w, name); s >= 0 {
			stats.Imported++
			return s
		}
	}
	if s := r.crossModule(r.topLevel[name], mi); s >= 0 {
		stats.Global++
		return s
	}
	stats.Unresolved++
	return -1
}

// inScope finds a function or class visible by bare name from caller:
// definitions nested in caller or its enclosing functions, then module
// level. Class bodies are not enclosing scopes.
func (r *resolver) inScope(mi, caller int, name string) int {
	cands := r.modNames[mi][name]
	if len(cands) == 0 {
		return -1
	}
	scope := caller
	for {
		if scope < 0 || r.t.Symbols[scope].Kind != model.Class {
			for _, c := range cands {
				if r.t.parentOf(c) == scope && r.t.Symbols[c].Kind != model.Method {
					return c
				}
			}
		}
		if scope < 0 {
			return -1
		}
		scope = r.t.parentOf(scope)
	}
}

func (r *resolver) enclosingClass(si int) int {
	for si >= 0 {
		if r.t.Symbols[si].Kind == model.Class {
			return si
		}
		si = r.t.parentOf(si)
	}
	return -1
}

func (r *resolver) member(cls int, name string) int {
	for _, c := range r.modNames[r.t.symModule[cls]][name] {
		if r.t.parentOf(c) == cls {
			return c
		}
	}
	return -1
}

func (r *resolver) topLevelIn(mi int, name string) int {
	for _, c := range r.modNames[mi][name] {
		if r.t.Symbols[c].Parent < 0 {
			return c
		}
	}
	return -1
}

// crossModule picks the first candidate outside module mi. Candidates are
// in arena order, which is module path then source line, so the choice is
// deterministic. More than one candidate is counted as ambiguous.
func (r *resolver) crossModule(cands []int, mi int) int {
	pick, n := -1, 0
	for _, c := range cands {
		if r.t.symModule[c] == mi {
			continue
		}
		if pick < 0 {
			pick = c
		}
		n++
	}
	if n > 1 {
		r.t.CallStats.Ambiguous++
	}
	return pick
}

// ExternalID is the node id of an external top-level package.
func ExternalID(top string) string {
	return "external:" + top
}
