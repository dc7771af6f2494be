package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// externalNames returns every external top-level package, sorted.
func (t *Table) externalNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, ext := range t.external {
		for top := range ext {
			if !seen[top] {
				seen[top] = true
				names = append(names, top)
			}
		}
	}
	sort.Strings(names)
	return names
}

// LayoutDepth assigns each module and external node its longest-path depth
// in the condensation of the module graph: strongly connected components
// collapse to one level, importers sit above what they import, and nodes
// nothing depends on are at depth 0.
func (t *Table) LayoutDepth() map[string]int {
	n := len(t.Modules)
	externals := t.externalNames()
	extIndex := make(map[string]int, len(externals))

	g := simple.NewDirectedGraph()
	ids := make([]string, 0, n+len(externals))
	for mi, m := range t.Modules {
		g.AddNode(simple.Node(mi))
		ids = append(ids, m.ID)
	}
	for i, top := range externals {
		extIndex[top] = n + i
		g.AddNode(simple.Node(n + i))
		ids = append(ids, ExternalID(top))
	}

	for from, targets := range t.moduleEdges() {
		for to := range targets {
			g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		}
	}
	for from, ext := range t.external {
		for top := range ext {
			g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(extIndex[top])})
		}
	}

	comps := topo.TarjanSCC(g)
	comp := make([]int, len(ids))
	for ci, nodes := range comps {
		for _, node := range nodes {
			comp[node.ID()] = ci
		}
	}

	succ := make([]map[int]bool, len(comps))
	inDegree := make([]int, len(comps))
	edges := g.Edges()
	for edges.Next() {
		e := edges.Edge()
		a, b := comp[e.From().ID()], comp[e.To().ID()]
		if a == b {
			continue
		}
		if succ[a] == nil {
			succ[a] = make(map[int]bool)
		}
		if !succ[a][b] {
			succ[a][b] = true
			inDegree[b]++
		}
	}

	depth := make([]int, len(comps))
	var queue []int
	for ci := range comps {
		if inDegree[ci] == 0 {
			queue = append(queue, ci)
		}
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for next := range succ[c] {
			if depth[c]+1 > depth[next] {
				depth[next] = depth[c] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = depth[comp[i]]
	}
	return out
}
