package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Stdlib:     pythonIsStdlib,
	}
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

var pythonStdlib = map[string]bool{}

func init() {
	for _, name := range strings.Fields(`
		__future__ _thread abc aifc argparse array ast asynchat asyncio asyncore
		atexit audioop base64 bdb binascii bisect builtins bz2 calendar cgi cgitb
		chunk cmath cmd code codecs codeop collections colorsys compileall
		concurrent configparser contextlib contextvars copy copyreg cProfile crypt
		csv ctypes curses dataclasses datetime dbm decimal difflib dis doctest
		email encodings ensurepip enum errno faulthandler fcntl filecmp fileinput
		fnmatch fractions ftplib functools gc getopt getpass gettext glob graphlib
		grp gzip hashlib heapq hmac html http imaplib imghdr imp importlib inspect
		io ipaddress itertools json keyword lib2to3 linecache locale logging lzma
		mailbox mailcap marshal math mimetypes mmap modulefinder msvcrt
		multiprocessing netrc nntplib numbers operator optparse os ossaudiodev
		pathlib pdb pickle pickletools pipes pkgutil platform plistlib poplib posix
		pprint profile pstats pty pwd py_compile pyclbr pydoc queue quopri random re
		readline reprlib resource rlcompleter runpy sched secrets select selectors
		shelve shlex shutil signal site smtpd smtplib sndhdr socket socketserver
		spwd sqlite3 ssl stat statistics string stringprep struct subprocess sunau
		symtable sys sysconfig syslog tabnanny tarfile telnetlib tempfile termios
		textwrap threading time timeit tkinter token tokenize tomllib trace
		traceback tracemalloc tty turtle types typing unicodedata unittest urllib
		uu uuid venv warnings wave weakref webbrowser winreg winsound wsgiref
		xdrlib xml xmlrpc zipapp zipfile zipimport zlib zoneinfo
	`) {
		pythonStdlib[name] = true
	}
}

func pythonIsStdlib(top string) bool {
	return pythonStdlib[top]
}

// DefinitionName returns the name of a function_definition or
// class_definition node.
func DefinitionName(node *sitter.Node, source []byte) string {
	return NodeText(node.ChildByFieldName("name"), source)
}

// Unwrap returns the definition inside a decorated_definition, or node itself.
func Unwrap(node *sitter.Node) *sitter.Node {
	if node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return node
}

// Decorators returns the decorator names attached to a definition, as the
// last dotted component of each decorator expression (e.g. "route" for
// @app.route("/")).
func Decorators(def *sitter.Node, source []byte) []string {
	parent := def.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return nil
	}
	var names []string
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		child := parent.NamedChild(i)
		if child.Type() != "decorator" || child.NamedChildCount() == 0 {
			continue
		}
		if name := lastComponent(child.NamedChild(0), source); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func lastComponent(expr *sitter.Node, source []byte) string {
	switch expr.Type() {
	case "identifier":
		return NodeText(expr, source)
	case "attribute":
		return NodeText(expr.ChildByFieldName("attribute"), source)
	case "call":
		if fn := expr.ChildByFieldName("function"); fn != nil {
			return lastComponent(fn, source)
		}
	}
	return ""
}

// Docstring returns the first non-blank line of the docstring that opens
// body (a module or block node), or "".
func Docstring(body *sitter.Node, source []byte) string {
	if body == nil {
		return ""
	}
	var first *sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		first = c
		break
	}
	if first == nil || first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := stripQuotes(NodeText(str, source))
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func stripQuotes(s string) string {
	s = strings.TrimLeft(s, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// IsMainGuard reports whether an if_statement is `if __name__ == "__main__":`
// (either operand order, either quote style).
func IsMainGuard(ifNode *sitter.Node, source []byte) bool {
	cond := ifNode.ChildByFieldName("condition")
	if cond == nil || cond.Type() != "comparison_operator" || cond.NamedChildCount() != 2 {
		return false
	}
	text := strings.ReplaceAll(CollapseWhitespace(NodeText(cond, source)), "'", `"`)
	return text == `__name__ == "__main__"` || text == `"__main__" == __name__`
}

// EnclosingClass returns the class_definition whose body directly contains
// def, or nil.
func EnclosingClass(def *sitter.Node) *sitter.Node {
	parent := def.Parent()
	if parent == nil {
		return nil
	}

	// Decorated: func -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		parent = parent.Parent()
		if parent == nil {
			return nil
		}
	}

	// Direct: func -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}
	return nil
}

// DottedName returns the text of a dotted_name or identifier node with
// whitespace removed.
func DottedName(node *sitter.Node, source []byte) string {
	return strings.Join(strings.Fields(NodeText(node, source)), "")
}
