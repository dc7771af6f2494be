// Package analyzer runs the whole pipeline for one archive: ingestion,
// parallel parsing, reference resolution, dead code detection, and graph
// assembly, under the process memory governor.
package analyzer

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/archgraph/internal/deadcode"
	"github.com/phobologic/archgraph/internal/folder"
	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/graph"
	"github.com/phobologic/archgraph/internal/ingest"
	"github.com/phobologic/archgraph/internal/model"
	"github.com/phobologic/archgraph/internal/parse"
)

// Built-in limits.
const (
	DefaultMaxFileCount  = 100_000
	DefaultMaxTotalBytes = 4 << 30
	DefaultMaxEntryBytes = 50 << 20

	// HighComplexity is the threshold above which a symbol counts as
	// highly complex in the summary.
	HighComplexity = 10
)

// Options controls one analysis. Zero limits mean unlimited.
type Options struct {
	SymbolLevel   bool
	MaxTotalBytes int64
	MaxEntryBytes int64
	MaxFileCount  int
	SkipPatterns  []string
	// Exclude holds gitignore-syntax lines matched against full paths.
	Exclude []string

	// EntrypointNames and EntrypointDecorators replace the default
	// convention when either is set.
	EntrypointNames      []string
	EntrypointDecorators []string

	IncludeSource bool
	Workers       int
	Timeout       time.Duration
	// Name is the upload's filename, used to identify the archive format.
	Name string
}

// DefaultOptions returns the built-in limits and skip patterns.
func DefaultOptions() Options {
	return Options{
		MaxTotalBytes: DefaultMaxTotalBytes,
		MaxEntryBytes: DefaultMaxEntryBytes,
		MaxFileCount:  DefaultMaxFileCount,
		SkipPatterns:  append([]string(nil), ingest.DefaultSkipPatterns...),
	}
}

func (o Options) convention() (*parse.Convention, error) {
	if len(o.EntrypointNames) == 0 && len(o.EntrypointDecorators) == 0 {
		return parse.DefaultConvention(), nil
	}
	names, decorators := o.EntrypointNames, o.EntrypointDecorators
	if len(names) == 0 {
		names = parse.DefaultEntrypointNames
	}
	if len(decorators) == 0 {
		decorators = parse.DefaultEntrypointDecorators
	}
	return parse.NewConvention(names, decorators)
}

// Analyzer runs analyses. It is safe for concurrent use; concurrent runs
// share only the governor.
type Analyzer struct {
	gov     *governor.Governor
	version string
}

// New creates an analyzer. version is stamped on every result.
func New(gov *governor.Governor, version string) *Analyzer {
	return &Analyzer{gov: gov, version: version}
}

// Governor returns the memory governor shared by all runs.
func (a *Analyzer) Governor() *governor.Governor {
	return a.gov
}

// collector gathers parsed modules from the worker pool.
type collector struct {
	mu       sync.Mutex
	mods     []*model.Module
	contents map[string]string
}

func (c *collector) add(mod *model.Module, source []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mods = append(c.mods, mod)
	if c.contents != nil {
		c.contents[mod.Path] = string(source)
	}
}

// Analyze ingests src and returns its structural model.
//
// An error is returned only when nothing can be analyzed: src is not a
// readable archive, the first source entry exceeds the single-entry cap, or
// options are invalid. Every other limit produces a well-formed result with
// Partial set and the reasons listed.
func (a *Analyzer) Analyze(ctx context.Context, src ingest.Source, opts Options) (*model.Result, error) {
	runID := uuid.NewString()
	ctx = slogctx.With(ctx, "run", runID)

	skip, err := ingest.NewSkipper(opts.SkipPatterns, opts.Exclude)
	if err != nil {
		return nil, errors.Errorf("skip rules: %w", err)
	}
	conv, err := opts.convention()
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	run := a.gov.Begin(runID)
	defer run.End()

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	slogctx.Info(ctx, "analysis started", "name", opts.Name, "workers", workers, "symbol_level", opts.SymbolLevel)
	started := time.Now()

	parser := parse.NewParser(conv)
	col := &collector{}
	if opts.IncludeSource {
		col.contents = make(map[string]string)
	}

	var pool errgroup.Group
	pool.SetLimit(workers)

	ing := ingest.New(ingest.Limits{
		MaxTotalBytes: opts.MaxTotalBytes,
		MaxEntryBytes: opts.MaxEntryBytes,
		MaxFileCount:  opts.MaxFileCount,
	}, skip, run)

	report, err := ing.Walk(ctx, src, opts.Name, func(ctx context.Context, e ingest.Entry) error {
		pool.Go(func() error {
			mod, err := parser.Parse(ctx, e.Path, e.Data)
			if !opts.IncludeSource {
				run.Release(e.Reserved)
			}
			if err != nil {
				return errors.Errorf("parsing %s: %w", e.Path, err)
			}
			col.add(mod, e.Data)
			return nil
		})
		return nil
	})
	parseErr := pool.Wait()
	if err != nil {
		return nil, errors.Errorf("ingesting %s: %w", opts.Name, err)
	}

	reasons := newReasons()
	if report.Partial() {
		slogctx.Warn(ctx, "ingestion stopped early", "reason", report.Reason(), "error", report.Stop)
		reasons.add(report.Reason())
	}
	if parseErr != nil {
		// Parse only fails once the run's context is done.
		slogctx.Warn(ctx, "parsing stopped early", "error", parseErr)
		reasons.add(model.ReasonTimeout)
	}

	tbl := graph.NewTable(col.mods)

	// Resolution and dead code detection allocate whole-tree structures, so
	// they only run with memory and time to spare. Assembly always runs.
	if err := a.stage(ctx, run, "resolve", reasons); err == nil {
		tbl.Resolve(ctx)
		if err := a.stage(ctx, run, "deadcode", reasons); err == nil {
			deadcode.Detect(ctx, tbl)
		}
	}

	g := tbl.Assemble(graph.Options{SymbolLevel: opts.SymbolLevel})
	res := &model.Result{
		Version:         a.version,
		Nodes:           g.Nodes,
		Edges:           g.Edges,
		ModuleDetails:   g.ModuleDetails,
		FolderStructure: folder.Build(tbl.Modules),
		LayoutDepth:     g.LayoutDepth,
		PartialReasons:  reasons.list(),
		ParseErrors:     []model.ParseError{},
		Skipped:         report.Skipped,
	}
	res.Partial = len(res.PartialReasons) > 0
	for _, m := range tbl.Modules {
		if m.ParseError != nil {
			res.ParseErrors = append(res.ParseErrors, *m.ParseError)
		}
	}
	if opts.IncludeSource {
		res.FileContents = col.contents
	}
	res.Summary = summarize(report, tbl, res, opts.SymbolLevel)

	slogctx.Info(ctx, "analysis finished",
		"modules", res.Summary.AnalyzedModules,
		"symbols", res.Summary.TotalSymbols,
		"parse_errors", res.Summary.ParseErrors,
		"admitted", humanize.IBytes(uint64(report.AdmittedBytes)),
		"partial", res.Partial,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return res, nil
}

// stage checks the governor and the run deadline before a whole-tree stage
// and records why it cannot run.
func (a *Analyzer) stage(ctx context.Context, run *governor.Run, name string, reasons *reasonSet) error {
	if err := ctx.Err(); err != nil {
		slogctx.Warn(ctx, "skipping stage: run timed out", "stage", name)
		reasons.add(model.ReasonTimeout)
		return err
	}
	if err := run.Check(ctx, name); err != nil {
		slogctx.Warn(ctx, "skipping stage: memory critical", "stage", name, "error", err)
		reasons.add(model.ReasonMemory)
		return err
	}
	return nil
}

type reasonSet struct {
	seen map[string]bool
}

func newReasons() *reasonSet {
	return &reasonSet{seen: make(map[string]bool)}
}

func (r *reasonSet) add(reason string) {
	if reason != "" {
		r.seen[reason] = true
	}
}

func (r *reasonSet) list() []string {
	out := make([]string, 0, len(r.seen))
	for reason := range r.seen {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}

func summarize(report *ingest.Report, tbl *graph.Table, res *model.Result, symbolLevel bool) model.Summary {
	s := model.Summary{
		TotalEntries:     report.Entries,
		SourceFiles:      report.Sources,
		AssetFiles:       report.Assets,
		SkippedEntries:   len(report.Skipped),
		AnalyzedModules:  len(tbl.Modules),
		ParseErrors:      len(res.ParseErrors),
		TotalSymbols:     len(tbl.Symbols),
		TotalNodes:       len(res.Nodes),
		TotalEdges:       len(res.Edges),
		SymbolLevel:      symbolLevel,
		ImportResolution: tbl.ImportStats,
		CallResolution:   tbl.CallStats,
	}

	var maintainability float64
	parsed := 0
	for _, m := range tbl.Modules {
		s.TotalLines += m.Lines
		s.TotalClasses += m.ClassCount
		s.TotalFunctions += m.FunctionCount
		s.TotalMethods += m.MethodCount
		s.TotalComplexity += m.ComplexityTotal
		s.DeadFunctions += len(m.DeadFunctions)
		if m.MaxComplexity > s.MaxComplexity {
			s.MaxComplexity = m.MaxComplexity
		}
		if m.ParseStatus == model.ParseOK {
			maintainability += m.Maintainability
			parsed++
		}
	}
	for _, sym := range tbl.Symbols {
		if sym.Complexity > HighComplexity {
			s.HighComplexity++
		}
	}
	for _, n := range res.Nodes {
		if n.Kind == model.ExternalNode {
			s.ExternalPackages++
		}
	}
	if s.TotalSymbols > 0 {
		s.AvgComplexity = round(float64(s.TotalComplexity)/float64(s.TotalSymbols), 1)
	}
	if parsed > 0 {
		s.AvgMaintainability = round(maintainability/float64(parsed), 2)
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
