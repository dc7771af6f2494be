// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// analysis results.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phobologic/archgraph/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Result into TOON format. Modules are listed by rank,
// most central first; symbols follow module id and line order.
func Encode(name string, res *model.Result) string {
	var parts []string

	s := res.Summary
	parts = append(parts, fmt.Sprintf("archive: %s", encodeValue(name)))
	parts = append(parts, fmt.Sprintf("partial: %t", res.Partial))
	if res.Partial {
		parts = append(parts, fmt.Sprintf("partial_reasons: %s", encodeValue(strings.Join(res.PartialReasons, " "))))
	}
	parts = append(parts, fmt.Sprintf("summary{modules,symbols,lines,complexity,avg_complexity,maintainability,dead,parse_errors}: %d,%d,%d,%d,%s,%s,%d,%d",
		s.AnalyzedModules, s.TotalSymbols, s.TotalLines, s.TotalComplexity,
		formatFloat(s.AvgComplexity, 1), formatFloat(s.AvgMaintainability, 2),
		s.DeadFunctions, s.ParseErrors))

	var modules []model.Node
	for _, n := range res.Nodes {
		if n.Kind == model.ModuleNode {
			modules = append(modules, n)
		}
	}
	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].Rank != modules[j].Rank {
			return modules[i].Rank > modules[j].Rank
		}
		return modules[i].ID < modules[j].ID
	})
	var moduleRows [][]string
	for _, n := range modules {
		status := string(model.ParseOK)
		if n.ParseError {
			status = string(model.ParseFailed)
		}
		moduleRows = append(moduleRows, []string{
			n.ID,
			n.Path,
			strconv.Itoa(n.Lines),
			strconv.Itoa(n.Complexity),
			formatFloat(n.Maintainability, 2),
			fmt.Sprintf("%.4f", n.Rank),
			status,
		})
	}
	parts = append(parts, formatTabular("modules", []string{"id", "path", "lines", "complexity", "mi", "rank", "status"}, moduleRows))

	ids := make([]string, 0, len(res.ModuleDetails))
	for id := range res.ModuleDetails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var symbolRows [][]string
	for _, id := range ids {
		for _, sym := range res.ModuleDetails[id].Symbols {
			symbolRows = append(symbolRows, []string{
				id,
				sym.QualName,
				string(sym.Kind),
				strconv.Itoa(sym.Line),
				strconv.Itoa(sym.Complexity),
				liveness(sym),
			})
		}
	}
	parts = append(parts, formatTabular("symbols", []string{"module", "name", "kind", "line", "complexity", "state"}, symbolRows))

	for _, kind := range []model.EdgeKind{model.Imports, model.Calls, model.External} {
		var rows [][]string
		for _, e := range res.Edges {
			if e.Kind == kind {
				rows = append(rows, []string{e.From, e.To, strconv.Itoa(e.Weight)})
			}
		}
		parts = append(parts, formatTabular(string(kind), []string{"from", "to", "weight"}, rows))
	}

	if len(res.ParseErrors) > 0 {
		var rows [][]string
		for _, pe := range res.ParseErrors {
			rows = append(rows, []string{pe.Path, strconv.Itoa(pe.Line), pe.Message})
		}
		parts = append(parts, formatTabular("parse_errors", []string{"path", "line", "message"}, rows))
	}
	if len(res.Skipped) > 0 {
		var rows [][]string
		for _, sk := range res.Skipped {
			rows = append(rows, []string{sk.Path, sk.Reason})
		}
		parts = append(parts, formatTabular("skipped", []string{"path", "reason"}, rows))
	}

	return strings.Join(parts, "\n")
}

func liveness(sym *model.Symbol) string {
	switch {
	case sym.IsEntrypoint:
		return "entry"
	case sym.Dead:
		return "dead"
	}
	return "live"
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
