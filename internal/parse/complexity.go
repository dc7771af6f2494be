package parse

import (
	"math"

	sitter "github.com/smacker/go-tree-sitter"
)

// branchNodes are the syntax nodes that add one independent path each.
var branchNodes = map[string]bool{
	"if_statement":           true,
	"elif_clause":            true,
	"for_statement":          true,
	"while_statement":        true,
	"except_clause":          true,
	"except_group_clause":    true,
	"conditional_expression": true,
	"boolean_operator":       true,
	"for_in_clause":          true,
	"if_clause":              true,
	"case_clause":            true,
}

// nestedScopes are owned by their own symbol and never counted in the
// enclosing one.
var nestedScopes = map[string]bool{
	"function_definition":  true,
	"class_definition":     true,
	"decorated_definition": true,
}

// Complexity returns the cyclomatic complexity of a definition node: 1 plus
// one per branching construct inside it, excluding nested definitions.
// Lambdas have no symbol of their own and count toward the enclosing one.
func Complexity(def *sitter.Node) int {
	return 1 + countBranches(def)
}

func countBranches(n *sitter.Node) int {
	total := 0
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if nestedScopes[c.Type()] {
			continue
		}
		if branchNodes[c.Type()] {
			total++
		}
		total += countBranches(c)
	}
	return total
}

// Volume is a Halstead-style volume N*log2(n) over the leaf tokens of a
// node, where N is the token count and n the distinct token count.
// Comments are not tokens.
func Volume(n *sitter.Node, source []byte) float64 {
	total := 0
	distinct := make(map[string]struct{})
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n.ChildCount() == 0 {
			if n.Type() == "comment" || n.EndByte() == n.StartByte() {
				return
			}
			total++
			distinct[string(source[n.StartByte():n.EndByte()])] = struct{}{}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(n)
	if len(distinct) < 2 {
		return float64(total)
	}
	return float64(total) * math.Log2(float64(len(distinct)))
}

// Maintainability returns the maintainability index in [0, 100], rounded to
// two decimals:
//
//	max(0, (171 - 5.2 ln V - 0.23 G - 16.2 ln L) * 100 / 171)
//
// V is the volume, G the cyclomatic complexity and L the line count.
func Maintainability(volume float64, complexity, lines int) float64 {
	v := math.Max(volume, 1)
	l := math.Max(float64(lines), 1)
	raw := 171 - 5.2*math.Log(v) - 0.23*float64(complexity) - 16.2*math.Log(l)
	mi := math.Min(100, math.Max(0, raw*100/171))
	return math.Round(mi*100) / 100
}
