// Package parse turns Python source into Module records with nested symbols,
// imports, call sites, and complexity metrics, using tree-sitter.
package parse

import (
	"bytes"
	"context"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/archgraph/internal/lang"
	"github.com/phobologic/archgraph/internal/model"
)

// Parser parses source files concurrently. tree-sitter parsers are not
// goroutine-safe, so each call borrows one from a pool.
type Parser struct {
	lang *lang.Language
	conv *Convention
	pool sync.Pool
}

// NewParser creates a Python parser. conv may be nil for the default
// entrypoint convention.
func NewParser(conv *Convention) *Parser {
	if conv == nil {
		conv = DefaultConvention()
	}
	p := &Parser{lang: lang.Python(), conv: conv}
	p.pool.New = func() any { return p.lang.NewParser() }
	return p
}

// Parse builds the Module for one source file. A file with syntax errors is
// returned with ParseStatus "error", a ParseError, and no symbols. The only
// error returned is ctx's, when parsing was cancelled.
func (p *Parser) Parse(ctx context.Context, relPath string, source []byte) (*model.Module, error) {
	name, pkg := ModuleName(relPath)
	mod := &model.Module{
		Path:          relPath,
		Name:          name,
		Package:       pkg,
		Size:          int64(len(source)),
		Lines:         lineCount(source),
		Imports:       []model.Import{},
		ParseStatus:   model.ParseOK,
		DeadFunctions: []string{},
	}

	parser := p.pool.Get().(*sitter.Parser)
	defer p.pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		mod.ParseStatus = model.ParseFailed
		mod.ParseError = &model.ParseError{Path: relPath, Line: 1, Message: err.Error()}
		return mod, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if bad := lang.FirstError(root); bad != nil {
		mod.ParseStatus = model.ParseFailed
		mod.ParseError = &model.ParseError{Path: relPath, Line: lang.Line(bad), Message: errorMessage(bad)}
		return mod, nil
	}

	x := &extractor{source: source, mod: mod, conv: p.conv}
	mod.Docstring = lang.Docstring(root, source)
	x.visit(root, -1, "")
	x.finish(root)
	return mod, nil
}

func errorMessage(n *sitter.Node) string {
	if n.IsMissing() {
		return "syntax error: missing " + n.Type()
	}
	return "syntax error"
}

func lineCount(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	n := bytes.Count(source, []byte("\n"))
	if source[len(source)-1] != '\n' {
		n++
	}
	return n
}
