package graph

import (
	"sort"

	"github.com/phobologic/archgraph/internal/lang"
	"github.com/phobologic/archgraph/internal/model"
)

// Options controls graph assembly.
type Options struct {
	// SymbolLevel emits one node per symbol with defines and symbol-level
	// call edges. Otherwise calls are lifted to module-to-module edges.
	SymbolLevel bool
}

// Graph is the assembled node/edge view of a table.
type Graph struct {
	Nodes         []model.Node
	Edges         []model.Edge
	ModuleDetails map[string]model.ModuleDetail
	LayoutDepth   map[string]int
}

type edgeKey struct {
	from, to string
	kind     model.EdgeKind
}

// Assemble builds the exported graph. Edge multiplicity collapses into
// weights, output order is deterministic, and any edge whose endpoint is not
// a node is dropped.
func (t *Table) Assemble(opts Options) *Graph {
	g := &Graph{
		Nodes:         []model.Node{},
		Edges:         []model.Edge{},
		ModuleDetails: make(map[string]model.ModuleDetail, len(t.Modules)),
	}
	ranks := t.Rank()
	stdlib := lang.Python().Stdlib

	for mi, m := range t.Modules {
		node := model.Node{
			ID:              m.ID,
			Kind:            model.ModuleNode,
			Title:           m.Name,
			Path:            m.Path,
			Lines:           m.Lines,
			Complexity:      m.ComplexityTotal,
			Maintainability: m.Maintainability,
			Rank:            ranks[mi],
			Entrypoint:      m.HasMainGuard,
			ParseError:      m.ParseStatus == model.ParseFailed,
		}
		if node.Title == "" {
			node.Title = m.Path
		}
		syms := m.Symbols
		if syms == nil {
			syms = []*model.Symbol{}
		}
		for _, s := range syms {
			if s.IsEntrypoint {
				node.Entrypoint = true
			}
		}
		g.Nodes = append(g.Nodes, node)
		g.ModuleDetails[m.ID] = model.ModuleDetail{Module: m, Symbols: syms}
	}
	for _, top := range t.externalNames() {
		g.Nodes = append(g.Nodes, model.Node{
			ID:     ExternalID(top),
			Kind:   model.ExternalNode,
			Title:  top,
			Stdlib: stdlib(top),
		})
	}

	weights := make(map[edgeKey]int)
	add := func(from, to string, kind model.EdgeKind, w int) {
		if from == to {
			return
		}
		weights[edgeKey{from, to, kind}] += w
	}
	for mi, m := range t.Modules {
		for target, w := range t.imports[mi] {
			add(m.ID, t.Modules[target].ID, model.Imports, w)
		}
		for top, w := range t.external[mi] {
			add(m.ID, ExternalID(top), model.External, w)
		}
	}

	if opts.SymbolLevel {
		for si, s := range t.Symbols {
			g.Nodes = append(g.Nodes, model.Node{
				ID:              s.ID,
				Kind:            model.NodeKind(s.Kind),
				Title:           s.QualName,
				Parent:          s.Module,
				Lines:           s.LineCount,
				Complexity:      s.Complexity,
				Maintainability: s.Maintainability,
				Entrypoint:      s.IsEntrypoint,
				Dead:            s.Dead,
			})
			owner := s.Module
			if p := t.parentOf(si); p >= 0 {
				owner = t.Symbols[p].ID
			}
			add(owner, s.ID, model.Defines, 1)
			for callee, w := range t.calls[si] {
				add(s.ID, t.Symbols[callee].ID, model.Calls, w)
			}
		}
		for mi, m := range t.Modules {
			for callee, w := range t.modCalls[mi] {
				add(m.ID, t.Symbols[callee].ID, model.Calls, w)
			}
		}
	} else {
		for from, targets := range t.liftedCalls() {
			for to, w := range targets {
				add(t.Modules[from].ID, t.Modules[to].ID, model.Calls, w)
			}
		}
	}

	present := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		present[n.ID] = true
	}
	for k, w := range weights {
		if !present[k.from] || !present[k.to] {
			continue
		}
		g.Edges = append(g.Edges, model.Edge{From: k.from, To: k.to, Kind: k.kind, Weight: w})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})

	g.LayoutDepth = t.LayoutDepth()
	if opts.SymbolLevel {
		for _, s := range t.Symbols {
			g.LayoutDepth[s.ID] = g.LayoutDepth[s.Module]
		}
	}
	return g
}

// liftedCalls aggregates symbol and top-level call sites by module pair.
func (t *Table) liftedCalls() []map[int]int {
	out := make([]map[int]int, len(t.Modules))
	add := func(from, to, w int) {
		if out[from] == nil {
			out[from] = make(map[int]int)
		}
		out[from][to] += w
	}
	for si := range t.Symbols {
		for callee, w := range t.calls[si] {
			add(t.symModule[si], t.symModule[callee], w)
		}
	}
	for mi := range t.Modules {
		for callee, w := range t.modCalls[mi] {
			add(mi, t.symModule[callee], w)
		}
	}
	return out
}
