package graph

import "math"

// moduleEdges returns module-level adjacency: imports plus calls lifted from
// symbols and top-level statements, weighted by occurrence. Self edges are
// dropped.
func (t *Table) moduleEdges() []map[int]int {
	out := make([]map[int]int, len(t.Modules))
	add := func(from, to, w int) {
		if from == to {
			return
		}
		if out[from] == nil {
			out[from] = make(map[int]int)
		}
		out[from][to] += w
	}
	for mi := range t.Modules {
		for target, w := range t.imports[mi] {
			add(mi, target, w)
		}
	}
	for from, targets := range t.liftedCalls() {
		for to, w := range targets {
			add(from, to, w)
		}
	}
	return out
}

// Rank computes PageRank over the module graph. Each weighted edge counts
// as that many links. Modules without edges share rank uniformly.
func (t *Table) Rank() []float64 {
	n := len(t.Modules)
	if n == 0 {
		return []float64{}
	}
	edges := t.moduleEdges()
	outDegree := make([]int, n)
	total := 0
	for src, targets := range edges {
		for _, w := range targets {
			outDegree[src] += w
			total += w
		}
	}
	if total == 0 {
		uniform := make([]float64, n)
		for i := range uniform {
			uniform[i] = 1.0 / float64(n)
		}
		return uniform
	}

	adj := make([][]int, n)
	weight := make([][]int, n)
	for src := range edges {
		for _, tgt := range sortedKeys(edges[src]) {
			adj[src] = append(adj[src], tgt)
			weight[src] = append(weight[src], edges[src][tgt])
		}
	}
	return pageRank(adj, weight, outDegree, 0.85, 100, 1e-6)
}

func pageRank(adj, weight [][]int, outDegree []int, alpha float64, maxIter int, tol float64) []float64 {
	n := len(adj)
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make([]float64, n)

		// Dangling node contribution (nodes with no outgoing edges)
		var danglingSum float64
		for i := range rank {
			if outDegree[i] == 0 {
				danglingSum += rank[i]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)
		for i := range newRank {
			newRank[i] = teleport + danglingContrib
		}

		// Distribute rank through edges
		for src, targets := range adj {
			if outDegree[src] == 0 {
				continue
			}
			contrib := alpha * rank[src] / float64(outDegree[src])
			for k, tgt := range targets {
				newRank[tgt] += contrib * float64(weight[src][k])
			}
		}

		var diff float64
		for i := range rank {
			diff += math.Abs(newRank[i] - rank[i])
		}
		rank = newRank
		if diff < tol {
			break
		}
	}
	return rank
}
