// Package folder rebuilds the archive's directory hierarchy from module paths.
package folder

import (
	"path"
	"sort"
	"strings"

	"github.com/phobologic/archgraph/internal/model"
)

// Build returns the root folder with one node per directory and one file
// reference per module, annotated bottom-up with file counts, line counts,
// and complexity. The result does not depend on input order.
func Build(mods []*model.Module) *model.FolderNode {
	root := model.NewFolder("", "")
	stats := make(map[*model.FolderNode]*leafStats)

	for _, m := range mods {
		dir, name := path.Split(m.Path)
		node := root
		if dir = strings.Trim(dir, "/"); dir != "" {
			for _, seg := range strings.Split(dir, "/") {
				child, ok := node.Children[seg]
				if !ok {
					child = model.NewFolder(seg, joinPath(node.Path, seg))
					node.Children[seg] = child
				}
				node = child
			}
		}
		node.Files = append(node.Files, model.FileRef{
			Name:   name,
			Path:   m.Path,
			Module: m.ID,
			Size:   m.Size,
		})
		st := stats[node]
		if st == nil {
			st = &leafStats{}
			stats[node] = st
		}
		st.lines += m.Lines
		st.complexity += m.ComplexityTotal
	}

	aggregate(root, stats)
	return root
}

type leafStats struct {
	lines, complexity int
}

func aggregate(n *model.FolderNode, stats map[*model.FolderNode]*leafStats) {
	sort.Slice(n.Files, func(i, j int) bool { return n.Files[i].Path < n.Files[j].Path })
	n.FileCount = len(n.Files)
	if st := stats[n]; st != nil {
		n.Lines = st.lines
		n.Complexity = st.complexity
	}
	for _, child := range n.Children {
		aggregate(child, stats)
		n.FileCount += child.FileCount
		n.Lines += child.Lines
		n.Complexity += child.Complexity
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Walk visits every folder depth-first with children in name order.
func Walk(n *model.FolderNode, fn func(*model.FolderNode)) {
	fn(n)
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		Walk(n.Children[name], fn)
	}
}
