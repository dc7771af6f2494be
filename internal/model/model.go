// Package model defines core data structures for archgraph.
package model

import "fmt"

// SymbolKind indicates the syntactic kind of a symbol.
type SymbolKind string

const (
	Class    SymbolKind = "class"
	Function SymbolKind = "function"
	Method   SymbolKind = "method"
)

// IsCallable reports whether symbols of this kind can appear as call targets.
func (k SymbolKind) IsCallable() bool {
	return k == Function || k == Method
}

// EdgeKind is the relationship an Edge represents.
type EdgeKind string

const (
	Imports  EdgeKind = "imports"
	Calls    EdgeKind = "calls"
	Defines  EdgeKind = "defines"
	External EdgeKind = "external"
)

// ParseStatus records whether a module's source parsed cleanly.
type ParseStatus string

const (
	ParseOK     ParseStatus = "ok"
	ParseFailed ParseStatus = "error"
)

// ParseError describes a syntax error in one source file. It is recorded on
// the module rather than returned from the run.
type ParseError struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
}

// Import is a single imported name as written in a module, made absolute.
// Name is the full dotted target ("pkg.util" for import pkg.util,
// "pkg.util.load" for from pkg.util import load). Bind is the local name the
// statement introduces.
type Import struct {
	Name     string `json:"name"`
	Bind     string `json:"bind,omitempty"`
	Line     int    `json:"line"`
	From     bool   `json:"from,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty"`
	Resolved string `json:"resolved,omitempty"`
	External bool   `json:"external,omitempty"`
}

// CallSite is a call expression found in a module. Receiver is the dotted
// name before the final attribute when it is a plain name chain (e.g. "self"
// for self.save(), "os.path" for os.path.join()). Attribute is set for every
// attribute call, including ones whose receiver is not a plain name.
type CallSite struct {
	Name      string
	Receiver  string
	Attribute bool
	Line      int
}

// Symbol is a class, function, or method inside a module.
type Symbol struct {
	ID              string     `json:"id"`
	Kind            SymbolKind `json:"kind"`
	Name            string     `json:"name"`
	QualName        string     `json:"qualified_name"`
	Module          string     `json:"module"`
	Line            int        `json:"line"`
	EndLine         int        `json:"end_line"`
	LineCount       int        `json:"line_count"`
	Complexity      int        `json:"cyclomatic_complexity"`
	Maintainability float64    `json:"maintainability_index"`
	IsEntrypoint    bool       `json:"is_entrypoint"`
	Dead            bool       `json:"dead"`
	Decorators      []string   `json:"decorators,omitempty"`
	Docstring       string     `json:"docstring,omitempty"`
	Calls           []string   `json:"calls"`
	CalledBy        []string   `json:"called_by"`
	// CalledByModules lists modules that call the symbol from top-level code.
	CalledByModules []string   `json:"called_by_modules,omitempty"`

	// Parent is the index of the enclosing symbol within the module, or -1.
	Parent int        `json:"-"`
	Sites  []CallSite `json:"-"`
}

// Module is the analyzed unit for one source file.
type Module struct {
	ID              string      `json:"id"`
	Path            string      `json:"path"`
	Name            string      `json:"name"`
	Package         string      `json:"package"`
	Size            int64       `json:"size"`
	Lines           int         `json:"line_count"`
	Docstring       string      `json:"docstring,omitempty"`
	Imports         []Import    `json:"imports"`
	ClassCount      int         `json:"class_count"`
	FunctionCount   int         `json:"function_count"`
	MethodCount     int         `json:"method_count"`
	ComplexityTotal int         `json:"complexity_total"`
	MaxComplexity   int         `json:"max_complexity"`
	Maintainability float64     `json:"maintainability_index"`
	ParseStatus     ParseStatus `json:"parse_status"`
	ParseError      *ParseError `json:"parse_error,omitempty"`
	HasMainGuard    bool        `json:"has_main_guard"`
	DeadFunctions   []string    `json:"dead_functions"`

	Symbols       []*Symbol  `json:"-"`
	TopLevelCalls []CallSite `json:"-"`
	Source        []byte     `json:"-"`
}

// FileRef is a file leaf inside a FolderNode.
type FileRef struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Module string `json:"module"`
	Size   int64  `json:"size"`
}

// FolderNode is one directory of the archive.
type FolderNode struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	Children   map[string]*FolderNode `json:"children"`
	Files      []FileRef              `json:"files"`
	FileCount  int                    `json:"file_count"`
	Lines      int                    `json:"line_count"`
	Complexity int                    `json:"complexity"`
}

// NewFolder returns an empty folder node.
func NewFolder(name, path string) *FolderNode {
	return &FolderNode{
		Name:     name,
		Path:     path,
		Children: make(map[string]*FolderNode),
		Files:    []FileRef{},
	}
}

// NodeKind classifies a graph node.
type NodeKind string

const (
	ModuleNode   NodeKind = "module"
	ExternalNode NodeKind = "external"
)

// Node is a vertex in the exported graph.
type Node struct {
	ID              string   `json:"id"`
	Kind            NodeKind `json:"kind"`
	Title           string   `json:"title"`
	Path            string   `json:"path,omitempty"`
	Parent          string   `json:"parent,omitempty"`
	Lines           int      `json:"lines,omitempty"`
	Complexity      int      `json:"complexity,omitempty"`
	Maintainability float64  `json:"maintainability_index,omitempty"`
	Rank            float64  `json:"rank,omitempty"`
	Stdlib          bool     `json:"stdlib,omitempty"`
	Entrypoint      bool     `json:"entrypoint,omitempty"`
	Dead            bool     `json:"dead,omitempty"`
	ParseError      bool     `json:"parse_error,omitempty"`
}

// Edge is a directed relationship between two nodes.
// Weight counts the collapsed occurrences.
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Weight int      `json:"weight"`
}

// ModuleDetail is the per-module record of a result.
type ModuleDetail struct {
	*Module
	Symbols []*Symbol `json:"symbols,omitempty"`
}

// SkippedEntry is an archive entry that was not analyzed.
type SkippedEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Reason string `json:"reason"`
}

// ImportStats counts how imports were resolved.
type ImportStats struct {
	Exact    int `json:"exact"`
	Suffix   int `json:"suffix"`
	Parent   int `json:"parent"`
	External int `json:"external"`
}

// CallStats counts how call sites were resolved.
type CallStats struct {
	Class      int `json:"class"`
	Local      int `json:"local"`
	Imported   int `json:"imported"`
	Global     int `json:"global"`
	Ambiguous  int `json:"ambiguous"`
	Unresolved int `json:"unresolved"`
}

// Summary aggregates counts and averages over the whole run.
type Summary struct {
	TotalEntries       int         `json:"total_entries"`
	SourceFiles        int         `json:"source_files"`
	AssetFiles         int         `json:"asset_files"`
	SkippedEntries     int         `json:"skipped_entries"`
	AnalyzedModules    int         `json:"analyzed_modules"`
	ParseErrors        int         `json:"parse_errors"`
	TotalLines         int         `json:"total_lines"`
	TotalSymbols       int         `json:"total_symbols"`
	TotalClasses       int         `json:"total_classes"`
	TotalFunctions     int         `json:"total_functions"`
	TotalMethods       int         `json:"total_methods"`
	TotalComplexity    int         `json:"total_complexity"`
	MaxComplexity      int         `json:"max_complexity"`
	AvgComplexity      float64     `json:"avg_complexity"`
	HighComplexity     int         `json:"high_complexity_symbols"`
	AvgMaintainability float64     `json:"avg_maintainability_index"`
	DeadFunctions      int         `json:"dead_functions"`
	ExternalPackages   int         `json:"external_packages"`
	TotalNodes         int         `json:"total_nodes"`
	TotalEdges         int         `json:"total_edges"`
	SymbolLevel        bool        `json:"symbol_level"`
	ImportResolution   ImportStats `json:"import_resolution"`
	CallResolution     CallStats   `json:"call_resolution"`
}

// Result is the complete output of one analysis.
type Result struct {
	Version         string                  `json:"version"`
	Nodes           []Node                  `json:"nodes"`
	Edges           []Edge                  `json:"edges"`
	ModuleDetails   map[string]ModuleDetail `json:"module_details"`
	FolderStructure *FolderNode             `json:"folder_structure"`
	LayoutDepth     map[string]int          `json:"layout_depth"`
	Summary         Summary                 `json:"summary"`
	Partial         bool                    `json:"partial"`
	PartialReasons  []string                `json:"partial_reasons"`
	ParseErrors     []ParseError            `json:"parse_errors"`
	Skipped         []SkippedEntry          `json:"skipped"`
	FileContents    map[string]string       `json:"file_contents,omitempty"`
}

// Partial-result reasons.
const (
	ReasonFileCount = "file_count"
	ReasonTotalSize = "total_size"
	ReasonMemory    = "memory"
	ReasonTimeout   = "timeout"
	ReasonArchive   = "archive"
)
