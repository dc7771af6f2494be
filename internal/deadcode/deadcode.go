// Package deadcode flags functions and methods that nothing references.
package deadcode

import (
	"context"

	slogctx "github.com/veqryn/slog-context"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	arena "github.com/phobologic/archgraph/internal/graph"
)

// Detect marks every function or method that is neither an entrypoint nor
// reachable from one, and fills each module's DeadFunctions with qualified
// names in source order. Reachability starts from all entrypoints and every
// symbol that has any caller, so a referenced symbol is never dead. Classes
// are never reported. Detect returns the number of dead symbols, and does
// nothing when references were not resolved.
func Detect(ctx context.Context, t *arena.Table) int {
	if !t.Resolved() {
		slogctx.Debug(ctx, "skipping dead code detection: references not resolved")
		return 0
	}

	n := len(t.Symbols)
	g := simple.NewDirectedGraph()
	root := simple.Node(n)
	g.AddNode(root)
	for si := range t.Symbols {
		g.AddNode(simple.Node(si))
	}
	for si, s := range t.Symbols {
		if s.IsEntrypoint || t.HasCallers(si) {
			g.SetEdge(simple.Edge{F: root, T: simple.Node(si)})
		}
		for _, callee := range t.Callees(si) {
			if callee == si {
				continue
			}
			g.SetEdge(simple.Edge{F: simple.Node(si), T: simple.Node(callee)})
		}
	}

	reached := make([]bool, n)
	bf := traverse.BreadthFirst{
		Visit: func(v graph.Node) {
			if id := v.ID(); id < int64(n) {
				reached[id] = true
			}
		},
	}
	bf.Walk(g, root, nil)

	for _, m := range t.Modules {
		m.DeadFunctions = []string{}
	}
	dead := 0
	for si, s := range t.Symbols {
		s.Dead = false
		if reached[si] || s.IsEntrypoint || !s.Kind.IsCallable() {
			continue
		}
		s.Dead = true
		dead++
		m := t.Modules[t.ModuleOf(si)]
		m.DeadFunctions = append(m.DeadFunctions, s.QualName)
	}
	slogctx.Debug(ctx, "dead code detected", "dead", dead, "symbols", n)
	return dead
}
