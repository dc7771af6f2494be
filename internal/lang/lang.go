// Package lang provides a language registry mapping file extensions to
// tree-sitter languages, plus syntax-tree helpers shared by the parser.
package lang

import (
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Stdlib reports whether a top-level package name belongs to the
	// language's standard library.
	Stdlib func(top string) bool
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Line returns the 1-based start line of a node.
func Line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// EndLine returns the 1-based end line of a node.
func EndLine(node *sitter.Node) int {
	end := node.EndPoint()
	// A node ending at column 0 stops at the newline of the previous line.
	if end.Column == 0 && end.Row > node.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

// FirstError returns the first ERROR or missing node in document order, or
// nil when the tree is clean.
func FirstError(root *sitter.Node) *sitter.Node {
	if root == nil || !root.HasError() {
		return nil
	}
	var walk func(n *sitter.Node) *sitter.Node
	walk = func(n *sitter.Node) *sitter.Node {
		if n.Type() == "ERROR" || n.IsMissing() {
			return n
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c == nil || !(c.HasError() || c.IsMissing()) {
				continue
			}
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	if found := walk(root); found != nil {
		return found
	}
	return root
}
