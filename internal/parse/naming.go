package parse

import (
	"path"
	"strings"
)

// ModuleName derives the dotted module name from a relative path:
// pkg/mod.py is "pkg.mod" and pkg/__init__.py is "pkg". The package is the
// name relative imports are resolved against.
func ModuleName(relPath string) (name, pkg string) {
	dir, file := path.Split(relPath)
	dir = strings.Trim(dir, "/")
	var parts []string
	if dir != "" {
		parts = strings.Split(dir, "/")
	}
	stem := strings.TrimSuffix(file, path.Ext(file))
	if stem == "__init__" {
		name = strings.Join(parts, ".")
		return name, name
	}
	parts = append(parts, stem)
	return strings.Join(parts, "."), strings.Join(parts[:len(parts)-1], ".")
}

// absoluteBase resolves the module part of a from-import. prefix is the run
// of leading dots, rest the dotted name after them. An import that climbs
// above the archive root keeps only rest.
func absoluteBase(pkg, prefix, rest string) string {
	if prefix == "" {
		return rest
	}
	var parts []string
	if pkg != "" {
		parts = strings.Split(pkg, ".")
	}
	up := len(prefix) - 1
	if up > len(parts) {
		up = len(parts)
	}
	parts = parts[:len(parts)-up]
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ".")
}

func joinDotted(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "." + b
}
