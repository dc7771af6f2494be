package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/archgraph/internal/lang"
	"github.com/phobologic/archgraph/internal/model"
)

// extractor walks one tree and fills in its Module.
type extractor struct {
	source []byte
	mod    *model.Module
	conv   *Convention
}

// visit walks n. owner is the index of the innermost enclosing symbol, or -1
// at module level; prefix is the qualified-name prefix for definitions.
func (x *extractor) visit(n *sitter.Node, owner int, prefix string) {
	switch n.Type() {
	case "function_definition", "class_definition":
		x.define(n, owner, prefix)
		return
	case "import_statement":
		x.importStatement(n)
		return
	case "import_from_statement":
		x.importFrom(n)
		return
	case "future_import_statement":
		return
	case "call":
		x.call(n, owner)
	case "if_statement":
		if owner == -1 && lang.IsMainGuard(n, x.source) {
			x.mod.HasMainGuard = true
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		x.visit(n.NamedChild(i), owner, prefix)
	}
}

func (x *extractor) define(def *sitter.Node, owner int, prefix string) {
	name := lang.DefinitionName(def, x.source)
	if name == "" {
		return
	}
	kind := model.Function
	switch {
	case def.Type() == "class_definition":
		kind = model.Class
	case lang.EnclosingClass(def) != nil:
		kind = model.Method
	}

	line, end := lang.Line(def), lang.EndLine(def)
	// Decorators belong to the definition's line range.
	if parent := def.Parent(); parent != nil && parent.Type() == "decorated_definition" {
		line = lang.Line(parent)
	}
	sym := &model.Symbol{
		Kind:       kind,
		Name:       name,
		QualName:   prefix + name,
		Line:       line,
		EndLine:    end,
		LineCount:  end - line + 1,
		Complexity: Complexity(def),
		Decorators: lang.Decorators(def, x.source),
		Calls:      []string{},
		CalledBy:   []string{},
		Parent:     owner,
	}
	body := def.ChildByFieldName("body")
	sym.Docstring = lang.Docstring(body, x.source)
	sym.Maintainability = Maintainability(Volume(def, x.source), sym.Complexity, sym.LineCount)
	sym.IsEntrypoint = x.conv.IsEntrypoint(sym)

	idx := len(x.mod.Symbols)
	x.mod.Symbols = append(x.mod.Symbols, sym)

	// Parameter defaults and base classes are evaluated in the enclosing
	// scope; only the body belongs to the new symbol.
	for i := 0; i < int(def.NamedChildCount()); i++ {
		c := def.NamedChild(i)
		if body != nil && sameNode(c, body) {
			x.visit(c, idx, sym.QualName+".")
			continue
		}
		x.visit(c, owner, prefix)
	}
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func (x *extractor) call(n *sitter.Node, owner int) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	site := model.CallSite{Line: lang.Line(n)}
	switch fn.Type() {
	case "identifier":
		site.Name = lang.NodeText(fn, x.source)
	case "attribute":
		site.Attribute = true
		site.Name = lang.NodeText(fn.ChildByFieldName("attribute"), x.source)
		if obj := fn.ChildByFieldName("object"); obj != nil && isNameChain(obj) {
			site.Receiver = lang.DottedName(obj, x.source)
		}
	default:
		return
	}
	if site.Name == "" {
		return
	}
	if owner < 0 {
		x.mod.TopLevelCalls = append(x.mod.TopLevelCalls, site)
		return
	}
	sym := x.mod.Symbols[owner]
	sym.Sites = append(sym.Sites, site)
}

func isNameChain(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier":
		return true
	case "attribute":
		obj := n.ChildByFieldName("object")
		return obj != nil && isNameChain(obj)
	}
	return false
}

func (x *extractor) importStatement(n *sitter.Node) {
	line := lang.Line(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			name := lang.DottedName(c, x.source)
			x.addImport(model.Import{Name: name, Bind: name, Line: line})
		case "aliased_import":
			name := lang.DottedName(c.ChildByFieldName("name"), x.source)
			alias := lang.NodeText(c.ChildByFieldName("alias"), x.source)
			if alias == "" {
				alias = name
			}
			x.addImport(model.Import{Name: name, Bind: alias, Line: line})
		}
	}
}

func (x *extractor) importFrom(n *sitter.Node) {
	line := lang.Line(n)
	var (
		base     string
		sawBase  bool
		imported []model.Import
		wildcard bool
	)
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "relative_import":
			var prefix, rest string
			for j := 0; j < int(c.NamedChildCount()); j++ {
				gc := c.NamedChild(j)
				switch gc.Type() {
				case "import_prefix":
					prefix = strings.TrimSpace(lang.NodeText(gc, x.source))
				case "dotted_name":
					rest = lang.DottedName(gc, x.source)
				}
			}
			base = absoluteBase(x.mod.Package, prefix, rest)
			sawBase = true
		case "dotted_name":
			name := lang.DottedName(c, x.source)
			if !sawBase {
				base = name
				sawBase = true
				continue
			}
			imported = append(imported, model.Import{Name: name, Bind: lastDotted(name)})
		case "aliased_import":
			name := lang.DottedName(c.ChildByFieldName("name"), x.source)
			alias := lang.NodeText(c.ChildByFieldName("alias"), x.source)
			if alias == "" {
				alias = lastDotted(name)
			}
			imported = append(imported, model.Import{Name: name, Bind: alias})
		case "wildcard_import":
			wildcard = true
		}
	}
	if wildcard {
		x.addImport(model.Import{Name: base, Line: line, From: true, Wildcard: true})
		return
	}
	for _, imp := range imported {
		imp.Name = joinDotted(base, imp.Name)
		imp.Line = line
		imp.From = true
		x.addImport(imp)
	}
}

func (x *extractor) addImport(imp model.Import) {
	if imp.Name == "" {
		return
	}
	x.mod.Imports = append(x.mod.Imports, imp)
}

func lastDotted(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// finish computes module aggregates once all symbols are known.
func (x *extractor) finish(root *sitter.Node) {
	mod := x.mod
	for _, sym := range mod.Symbols {
		switch sym.Kind {
		case model.Class:
			mod.ClassCount++
		case model.Function:
			mod.FunctionCount++
		case model.Method:
			mod.MethodCount++
		}
		mod.ComplexityTotal += sym.Complexity
		if sym.Complexity > mod.MaxComplexity {
			mod.MaxComplexity = sym.Complexity
		}
	}
	mod.Maintainability = Maintainability(Volume(root, x.source), mod.ComplexityTotal, mod.Lines)
}
