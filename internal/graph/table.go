// Package graph holds the symbol arena, resolves imports and calls across
// modules, and assembles the exported node/edge graph.
package graph

import (
	"sort"
	"strconv"

	"github.com/phobologic/archgraph/internal/model"
)

// Table is the central arena for one analysis. Modules and symbols are
// addressed by index and call relations are index adjacency, so symbols
// never hold pointers to each other.
type Table struct {
	Modules []*model.Module
	Symbols []*model.Symbol

	symModule []int // module index of each symbol
	modFirst  []int // index of a module's first symbol; symbols are contiguous

	modByID map[string]int
	symByID map[string]int

	// calls[caller][callee] and calledBy[callee][caller] count call sites.
	calls    []map[int]int
	calledBy []map[int]int
	// modCalls[module][callee] and modCalledBy[callee][module] count
	// module-level call sites.
	modCalls    []map[int]int
	modCalledBy []map[int]int

	// imports[module][target module] and external[module][top-level name]
	// count import statements.
	imports  []map[int]int
	external []map[string]int

	resolved    bool
	ImportStats model.ImportStats
	CallStats   model.CallStats
}

// NewTable indexes modules in path order and assigns stable ids. A module's
// id is its dotted name unless another module's id equals it (or it is
// empty), in which case the relative path is used. A symbol's id is the module id,
// ":", and its qualified name, with "@line" appended to repeated names.
func NewTable(mods []*model.Module) *Table {
	sorted := make([]*model.Module, len(mods))
	copy(sorted, mods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	ids := moduleIDs(sorted)

	t := &Table{
		Modules: sorted,
		modByID: make(map[string]int, len(sorted)),
		symByID: make(map[string]int),
	}
	for mi, m := range sorted {
		m.ID = ids[mi]
		t.modByID[m.ID] = mi
		t.modFirst = append(t.modFirst, len(t.Symbols))

		seen := make(map[string]bool, len(m.Symbols))
		for _, s := range m.Symbols {
			s.Module = m.ID
			s.ID = m.ID + ":" + s.QualName
			if seen[s.ID] {
				s.ID += "@" + strconv.Itoa(s.Line)
			}
			seen[s.ID] = true
			t.symByID[s.ID] = len(t.Symbols)
			t.Symbols = append(t.Symbols, s)
			t.symModule = append(t.symModule, mi)
		}
	}

	n, nm := len(t.Symbols), len(t.Modules)
	t.calls = make([]map[int]int, n)
	t.calledBy = make([]map[int]int, n)
	t.modCalledBy = make([]map[int]int, n)
	t.modCalls = make([]map[int]int, nm)
	t.imports = make([]map[int]int, nm)
	t.external = make([]map[string]int, nm)
	return t
}

// moduleIDs picks dotted names, falling back to paths for every module
// whose id clashes with another. A path can itself equal another module's
// dotted name (a.py next to a/py.py), so fallback repeats until ids are
// unique.
func moduleIDs(mods []*model.Module) []string {
	usePath := make([]bool, len(mods))
	ids := make([]string, len(mods))
	for {
		count := make(map[string]int, len(mods))
		for mi, m := range mods {
			ids[mi] = m.Name
			if usePath[mi] || m.Name == "" {
				ids[mi] = m.Path
			}
			count[ids[mi]]++
		}
		changed := false
		for mi, m := range mods {
			if count[ids[mi]] > 1 && !usePath[mi] && m.Name != "" {
				usePath[mi] = true
				changed = true
			}
		}
		if !changed {
			return ids
		}
	}
}

// Resolved reports whether Resolve has run.
func (t *Table) Resolved() bool {
	return t.resolved
}

// ModuleOf returns the module index of symbol si.
func (t *Table) ModuleOf(si int) int {
	return t.symModule[si]
}

// ModuleSymbols returns the arena index range [first, end) of module mi.
func (t *Table) ModuleSymbols(mi int) (first, end int) {
	first = t.modFirst[mi]
	end = len(t.Symbols)
	if mi+1 < len(t.modFirst) {
		end = t.modFirst[mi+1]
	}
	return first, end
}

// parentOf returns the arena index of the enclosing symbol, or -1.
func (t *Table) parentOf(si int) int {
	p := t.Symbols[si].Parent
	if p < 0 {
		return -1
	}
	return t.modFirst[t.symModule[si]] + p
}

// Callees returns the callee indices of si in ascending order.
func (t *Table) Callees(si int) []int {
	return sortedKeys(t.calls[si])
}

// HasCallers reports whether any symbol or module-level statement calls si.
func (t *Table) HasCallers(si int) bool {
	return len(t.calledBy[si]) > 0 || len(t.modCalledBy[si]) > 0
}

// link records one call site from caller symbol to callee. It is only
// called from the single resolution pass.
func (t *Table) link(caller, callee int) {
	if t.calls[caller] == nil {
		t.calls[caller] = make(map[int]int)
	}
	if t.calledBy[callee] == nil {
		t.calledBy[callee] = make(map[int]int)
	}
	t.calls[caller][callee]++
	t.calledBy[callee][caller]++
}

// linkModule records one module-level call site.
func (t *Table) linkModule(mi, callee int) {
	if t.modCalls[mi] == nil {
		t.modCalls[mi] = make(map[int]int)
	}
	if t.modCalledBy[callee] == nil {
		t.modCalledBy[callee] = make(map[int]int)
	}
	t.modCalls[mi][callee]++
	t.modCalledBy[callee][mi]++
}

func (t *Table) addImport(mi, target int) {
	if t.imports[mi] == nil {
		t.imports[mi] = make(map[int]int)
	}
	t.imports[mi][target]++
}

func (t *Table) addExternal(mi int, top string) {
	if t.external[mi] == nil {
		t.external[mi] = make(map[string]int)
	}
	t.external[mi][top]++
}

// render copies the adjacency into each symbol's id lists.
func (t *Table) render() {
	for si, s := range t.Symbols {
		s.Calls = t.ids(sortedKeys(t.calls[si]), false)
		s.CalledBy = t.ids(sortedKeys(t.calledBy[si]), false)
		s.CalledByModules = t.ids(sortedKeys(t.modCalledBy[si]), true)
	}
}

func (t *Table) ids(idx []int, modules bool) []string {
	out := make([]string, len(idx))
	for i, x := range idx {
		if modules {
			out[i] = t.Modules[x].ID
		} else {
			out[i] = t.Symbols[x].ID
		}
	}
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
