package analyzer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/ingest"
	"github.com/phobologic/archgraph/internal/model"
)

type file struct {
	name, body string
}

func buildZip(t *testing.T, files ...file) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func newAnalyzer() *Analyzer {
	return New(governor.New(governor.Config{Sampler: func() uint64 { return 0 }}), "test")
}

func opts(symbolLevel bool) Options {
	o := DefaultOptions()
	o.SymbolLevel = symbolLevel
	o.Name = "upload.zip"
	return o
}

func assertWellFormed(t *testing.T, res *model.Result) {
	t.Helper()
	ids := make(map[string]bool, len(res.Nodes))
	for _, n := range res.Nodes {
		ids[n.ID] = true
	}
	for _, e := range res.Edges {
		assert.True(t, ids[e.From], "edge from unknown node %s", e.From)
		assert.True(t, ids[e.To], "edge to unknown node %s", e.To)
	}
	assert.NotNil(t, res.Nodes)
	assert.NotNil(t, res.Edges)
	assert.NotNil(t, res.ModuleDetails)
	assert.NotNil(t, res.FolderStructure)
	assert.NotNil(t, res.LayoutDepth)
	assert.NotNil(t, res.PartialReasons)
	assert.NotNil(t, res.ParseErrors)
	assert.NotNil(t, res.Skipped)
}

func TestTwoFileCall(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"a.py", "from b import g\n\ndef f():\n    g()\n"},
		file{"b.py", "def g():\n    pass\n"},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)

	var calls []model.Edge
	for _, e := range res.Edges {
		if e.Kind == model.Calls {
			calls = append(calls, e)
		}
	}
	assert.Equal(t, []model.Edge{{From: "a:f", To: "b:g", Kind: model.Calls, Weight: 1}}, calls)

	assert.Empty(t, res.ModuleDetails["b"].DeadFunctions)
	assert.Equal(t, []string{"f"}, res.ModuleDetails["a"].DeadFunctions)
	assert.Equal(t, 1, res.Summary.DeadFunctions)
	assert.False(t, res.Partial)
	assert.Equal(t, "test", res.Version)
}

func TestEntrypointKeepsCallerAlive(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"a.py", "from b import g\n\ndef f():\n    g()\n\ndef main():\n    f()\n"},
		file{"b.py", "def g():\n    pass\n"},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(false))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.DeadFunctions)
}

func TestComplexityTotalsMatchSymbols(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"svc/core.py", `class Store:
    kind = "a" if True else "b"

    def get(self, key):
        if key in self.data:
            return self.data[key]
        for k in self.data:
            if k and key:
                return k
        return None

def helper(x):
    return [y for y in x if y]
`},
		file{"svc/empty.py", ""},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(false))
	require.NoError(t, err)

	total := 0
	for id, d := range res.ModuleDetails {
		sum := 0
		for _, s := range d.Symbols {
			sum += s.Complexity
		}
		assert.Equal(t, d.ComplexityTotal, sum, id)
		total += sum
	}
	assert.Equal(t, total, res.Summary.TotalComplexity)
	assert.Equal(t, 3, res.Summary.TotalSymbols)
}

func TestIdempotent(t *testing.T) {
	t.Parallel()

	files := []file{
		{"pkg/__init__.py", ""},
		{"pkg/a.py", "import pkg.b\nfrom pkg.c import h\n\ndef f():\n    pkg.b.g()\n    h()\n"},
		{"pkg/b.py", "from pkg.c import h\nimport requests\n\ndef g():\n    h()\n"},
		{"pkg/c.py", "import pkg.a\n\ndef h():\n    pass\n"},
		{"shared_one.py", "def shared():\n    pass\n"},
		{"shared_two.py", "def shared():\n    pass\n\ndef use():\n    shared()\n"},
	}
	a := newAnalyzer()
	first, err := a.Analyze(context.Background(), buildZip(t, files...), opts(true))
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), buildZip(t, files...), opts(true))
	require.NoError(t, err)

	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Edges, second.Edges)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.LayoutDepth, second.LayoutDepth)
	assert.Equal(t, first.FolderStructure, second.FolderStructure)
}

func TestCallSymmetryAcrossResult(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"a.py", "from b import *\n\ndef f():\n    g()\n    k()\n"},
		file{"b.py", "def g():\n    k()\n\ndef k():\n    pass\n"},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(true))
	require.NoError(t, err)

	byID := make(map[string]*model.Symbol)
	for _, d := range res.ModuleDetails {
		for _, s := range d.Symbols {
			byID[s.ID] = s
		}
	}
	for _, e := range res.Edges {
		caller, ok := byID[e.From]
		if e.Kind != model.Calls || !ok {
			continue
		}
		assert.Contains(t, caller.Calls, e.To)
		assert.Contains(t, byID[e.To].CalledBy, e.From)
	}
	assert.ElementsMatch(t, []string{"a:f", "b:g"}, byID["b:k"].CalledBy)
}

func TestSyntaxErrorIsNotPartial(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"broken.py", "def ok():\n    pass\n\ndef bad(:\n    pass\n"},
		file{"good.py", "def fine():\n    return 1\n"},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)

	assert.False(t, res.Partial)
	assert.Empty(t, res.PartialReasons)
	require.Len(t, res.ParseErrors, 1)
	assert.Equal(t, "broken.py", res.ParseErrors[0].Path)
	assert.Equal(t, 4, res.ParseErrors[0].Line)

	broken := res.ModuleDetails["broken"]
	assert.Equal(t, model.ParseFailed, broken.ParseStatus)
	assert.Empty(t, broken.Symbols)

	good := res.ModuleDetails["good"]
	assert.Equal(t, model.ParseOK, good.ParseStatus)
	require.Len(t, good.Symbols, 1)
	assert.Equal(t, 1, res.Summary.ParseErrors)
	assert.Equal(t, 2, res.Summary.AnalyzedModules)
}

func TestMemoryCriticalMidRun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	gov := governor.New(governor.Config{
		HardMB: 1,
		Sampler: func() uint64 {
			if calls.Add(1) > 2 {
				return 2 << 20
			}
			return 0
		},
	})

	var files []file
	for i := range 5 {
		files = append(files, file{
			fmt.Sprintf("m%d.py", i),
			fmt.Sprintf("import m%d\n\ndef f%d():\n    pass\n", (i+1)%5, i),
		})
	}
	res, err := New(gov, "test").Analyze(context.Background(), buildZip(t, files...), opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)

	assert.True(t, res.Partial)
	assert.Contains(t, res.PartialReasons, model.ReasonMemory)
	assert.Len(t, res.ModuleDetails, 2)
	assert.Equal(t, int64(0), gov.Snapshot().ReservedBytes)
}

func TestFileCountBoundary(t *testing.T) {
	t.Parallel()

	files := []file{{"a.py", "x = 1\n"}, {"b.py", "x = 2\n"}, {"c.py", "x = 3\n"}, {"d.py", "x = 4\n"}}

	o := opts(false)
	o.MaxFileCount = 3
	res, err := newAnalyzer().Analyze(context.Background(), buildZip(t, files[:3]...), o)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Len(t, res.ModuleDetails, 3)

	res, err = newAnalyzer().Analyze(context.Background(), buildZip(t, files...), o)
	require.NoError(t, err)
	assertWellFormed(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{model.ReasonFileCount}, res.PartialReasons)
	assert.Len(t, res.ModuleDetails, 3)
}

func TestEntrySizeBoundary(t *testing.T) {
	t.Parallel()

	body := "x = 1\n"
	o := opts(false)
	o.MaxEntryBytes = int64(len(body))

	res, err := newAnalyzer().Analyze(context.Background(), buildZip(t, file{"a.py", body}), o)
	require.NoError(t, err)
	assert.Len(t, res.ModuleDetails, 1)

	_, err = newAnalyzer().Analyze(context.Background(), buildZip(t, file{"a.py", body + "#"}), o)
	var sizeErr *ingest.SizeLimitError
	require.True(t, errors.As(err, &sizeErr))
	assert.True(t, sizeErr.Fatal)

	res, err = newAnalyzer().Analyze(context.Background(),
		buildZip(t, file{"a.py", body}, file{"b.py", body + "#"}), o)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Len(t, res.ModuleDetails, 1)
	assert.Equal(t, []model.SkippedEntry{{Path: "b.py", Size: int64(len(body) + 1), Reason: "entry_size"}}, res.Skipped)
}

func TestInvalidArchive(t *testing.T) {
	t.Parallel()

	o := opts(false)
	_, err := newAnalyzer().Analyze(context.Background(), bytes.NewReader([]byte("not an archive at all")), o)
	var archErr *ingest.ArchiveError
	assert.True(t, errors.As(err, &archErr))
}

func TestSinglePythonFile(t *testing.T) {
	t.Parallel()

	o := opts(false)
	o.Name = "tool.py"
	res, err := newAnalyzer().Analyze(context.Background(), strings.NewReader("def main():\n    pass\n"), o)
	require.NoError(t, err)
	require.Contains(t, res.ModuleDetails, "tool")
	assert.Equal(t, 1, res.Summary.TotalFunctions)
}

func TestCanceledContextIsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newAnalyzer().Analyze(ctx, buildZip(t, file{"a.py", "x = 1\n"}), opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{model.ReasonTimeout}, res.PartialReasons)
	assert.Empty(t, res.Nodes)
}

func TestCancelDuringParsingIsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The first sample happens while the entry is being admitted, so parsing
	// starts on a done context.
	gov := governor.New(governor.Config{Sampler: func() uint64 {
		cancel()
		return 0
	}})
	src := buildZip(t, file{"a.py", "def f():\n    pass\n"}, file{"b.py", "def g():\n    pass\n"})
	res, err := New(gov, "test").Analyze(ctx, src, opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{model.ReasonTimeout}, res.PartialReasons)
	assert.Zero(t, gov.Snapshot().ReservedBytes)
}

func TestModulePathsClashingWithDottedNames(t *testing.T) {
	t.Parallel()

	body := "def f():\n    pass\n"
	src := buildZip(t, file{"a.py", body}, file{"a/__init__.py", body}, file{"a/py.py", body})
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(true))
	require.NoError(t, err)
	assertWellFormed(t, res)

	assert.Len(t, res.ModuleDetails, 3)
	assert.Contains(t, res.ModuleDetails, "a.py")
	assert.Contains(t, res.ModuleDetails, "a/__init__.py")
	assert.Contains(t, res.ModuleDetails, "a/py.py")
	seen := make(map[string]int)
	for _, n := range res.Nodes {
		seen[n.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s", id)
	}
	assert.Len(t, res.Nodes, 6)
}

func TestSkipPatternsAndAssets(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"app/main.py", "def main():\n    pass\n"},
		file{"venv/lib/site.py", "x = 1\n"},
		file{"README.md", "# readme\n"},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(false))
	require.NoError(t, err)

	assert.Len(t, res.ModuleDetails, 1)
	assert.Equal(t, 3, res.Summary.TotalEntries)
	assert.Equal(t, 1, res.Summary.SourceFiles)
	assert.Equal(t, 1, res.Summary.AssetFiles)
	assert.Equal(t, 1, res.Summary.SkippedEntries)
	assert.Equal(t, "skip_pattern", res.Skipped[0].Reason)
}

func TestIncludeSource(t *testing.T) {
	t.Parallel()

	body := "def f():\n    pass\n"
	o := opts(false)
	res, err := newAnalyzer().Analyze(context.Background(), buildZip(t, file{"a.py", body}), o)
	require.NoError(t, err)
	assert.Nil(t, res.FileContents)

	o.IncludeSource = true
	res, err = newAnalyzer().Analyze(context.Background(), buildZip(t, file{"a.py", body}), o)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.py": body}, res.FileContents)
}

func TestCustomEntrypoints(t *testing.T) {
	t.Parallel()

	o := opts(false)
	o.EntrypointNames = []string{"run_*"}
	res, err := newAnalyzer().Analyze(context.Background(),
		buildZip(t, file{"jobs.py", "def run_nightly():\n    pass\n\ndef main():\n    pass\n"}), o)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, res.ModuleDetails["jobs"].DeadFunctions)
}

func TestReservationsReleased(t *testing.T) {
	t.Parallel()

	gov := governor.New(governor.Config{HardMB: 1024, Sampler: func() uint64 { return 0 }})
	o := opts(false)
	o.IncludeSource = true
	_, err := New(gov, "test").Analyze(context.Background(), buildZip(t, file{"a.py", "x = 1\n"}), o)
	require.NoError(t, err)

	snap := gov.Snapshot()
	assert.Equal(t, int64(0), snap.ReservedBytes)
	assert.Empty(t, snap.RunIDs)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	src := buildZip(t,
		file{"m.py", `import os

class A:
    def one(self):
        pass

    def two(self):
        pass

def branchy(x):
    if x == 1:
        return 1
    if x == 2:
        return 2
    if x == 3:
        return 3
    if x == 4:
        return 4
    if x == 5:
        return 5
    if x == 6:
        return 6
    if x == 7:
        return 7
    if x == 8:
        return 8
    if x == 9:
        return 9
    if x == 10:
        return 10
    return 0
`},
	)
	res, err := newAnalyzer().Analyze(context.Background(), src, opts(true))
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 1, s.TotalClasses)
	assert.Equal(t, 2, s.TotalMethods)
	assert.Equal(t, 1, s.TotalFunctions)
	assert.Equal(t, 4, s.TotalSymbols)
	assert.Equal(t, 11, s.MaxComplexity)
	assert.Equal(t, 1, s.HighComplexity)
	assert.Equal(t, 14, s.TotalComplexity)
	assert.InDelta(t, 3.5, s.AvgComplexity, 1e-9)
	assert.Equal(t, 1, s.ExternalPackages)
	assert.Equal(t, len(res.Nodes), s.TotalNodes)
	assert.Equal(t, len(res.Edges), s.TotalEdges)
	assert.True(t, s.SymbolLevel)
	assert.Equal(t, 1, s.ImportResolution.External)
}
