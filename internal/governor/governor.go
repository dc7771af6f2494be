// Package governor tracks process memory against warning and hard limits and
// lets concurrent analysis runs reserve memory before they allocate it.
package governor

import (
	"context"
	"fmt"
	"runtime/metrics"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

// Level classifies current memory usage.
type Level int32

const (
	OK Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name.
func (l *Level) UnmarshalText(text []byte) error {
	for _, v := range []Level{OK, Warning, Critical} {
		if v.String() == string(text) {
			*l = v
			return nil
		}
	}
	return errors.Errorf("unknown memory level %q", text)
}

// MemoryExceededError is returned when a stage would allocate while the
// governor is Critical.
type MemoryExceededError struct {
	Stage     string
	UsedBytes uint64
	HardBytes uint64
}

func (e *MemoryExceededError) Error() string {
	return fmt.Sprintf("memory exceeded during %s: %s used, hard limit %s",
		e.Stage, humanize.IBytes(e.UsedBytes), humanize.IBytes(e.HardBytes))
}

// Sampler returns the current live memory usage of the process in bytes.
type Sampler func() uint64

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// HeapSampler reads live heap bytes from runtime/metrics. It does not stop
// the world, so it is cheap enough to call per archive entry.
func HeapSampler() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// Config holds governor thresholds in megabytes.
type Config struct {
	WarningMB uint64
	HardMB    uint64
	Sampler   Sampler
}

const mb = 1024 * 1024

// Governor is shared by every run in the process. Usage is the sampled live
// heap plus the outstanding reservations of all runs.
type Governor struct {
	warnBytes uint64
	hardBytes uint64
	sample    Sampler

	reserved atomic.Int64
	last     atomic.Int32

	mu   sync.Mutex
	runs map[string]*Run
}

// New creates a governor. A zero hard limit disables Critical.
func New(cfg Config) *Governor {
	if cfg.Sampler == nil {
		cfg.Sampler = HeapSampler
	}
	return &Governor{
		warnBytes: cfg.WarningMB * mb,
		hardBytes: cfg.HardMB * mb,
		sample:    cfg.Sampler,
		runs:      make(map[string]*Run),
	}
}

// Usage returns the current usage estimate in bytes.
func (g *Governor) Usage() uint64 {
	used := g.sample()
	if r := g.reserved.Load(); r > 0 {
		used += uint64(r)
	}
	return used
}

// Level re-evaluates usage against the thresholds. It never returns a cached
// state: usage can fall back below a threshold as memory is reclaimed.
func (g *Governor) Level() Level {
	return g.classify(g.Usage())
}

func (g *Governor) classify(used uint64) Level {
	switch {
	case g.hardBytes > 0 && used >= g.hardBytes:
		return Critical
	case g.warnBytes > 0 && used >= g.warnBytes:
		return Warning
	}
	return OK
}

func (g *Governor) observe(ctx context.Context, level Level, used uint64) {
	prev := Level(g.last.Swap(int32(level)))
	if prev == level {
		return
	}
	if level > prev {
		slogctx.Warn(ctx, "memory level raised",
			"from", prev.String(), "to", level.String(),
			"used", humanize.IBytes(used),
			"hard_limit", humanize.IBytes(g.hardBytes))
		return
	}
	slogctx.Info(ctx, "memory level lowered", "from", prev.String(), "to", level.String())
}

// Begin registers a run. Callers must End it to free its reservations.
func (g *Governor) Begin(id string) *Run {
	r := &Run{g: g, id: id}
	g.mu.Lock()
	g.runs[id] = r
	g.mu.Unlock()
	return r
}

// Snapshot is a point-in-time view of the governor.
type Snapshot struct {
	Level         Level            `json:"level"`
	UsedMB        float64          `json:"current_usage_mb"`
	WarningMB     uint64           `json:"warning_threshold_mb"`
	HardMB        uint64           `json:"hard_limit_mb"`
	ReservedBytes int64            `json:"reserved_bytes"`
	Runs          map[string]int64 `json:"runs"`
	RunIDs        []string         `json:"run_ids"`
}

// Snapshot reports current usage and per-run reservations.
func (g *Governor) Snapshot() Snapshot {
	used := g.Usage()
	s := Snapshot{
		Level:         g.classify(used),
		UsedMB:        float64(used) / mb,
		WarningMB:     g.warnBytes / mb,
		HardMB:        g.hardBytes / mb,
		ReservedBytes: g.reserved.Load(),
		Runs:          make(map[string]int64),
		RunIDs:        []string{},
	}
	g.mu.Lock()
	for id, r := range g.runs {
		s.Runs[id] = r.reserved.Load()
		s.RunIDs = append(s.RunIDs, id)
	}
	g.mu.Unlock()
	sort.Strings(s.RunIDs)
	return s
}

// Run is one analysis's share of the governor.
type Run struct {
	g        *Governor
	id       string
	reserved atomic.Int64
	ended    atomic.Bool
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Reserved returns the bytes this run currently holds.
func (r *Run) Reserved() int64 {
	return r.reserved.Load()
}

// Reserve records n bytes of provisional usage before they are materialized.
// It is refused, and nothing is recorded, when the reservation would reach
// the hard limit.
func (r *Run) Reserve(ctx context.Context, stage string, n int64) error {
	if n < 0 {
		n = 0
	}
	used := r.g.Usage()
	if r.g.hardBytes > 0 && used+uint64(n) >= r.g.hardBytes {
		r.g.observe(ctx, Critical, used+uint64(n))
		return &MemoryExceededError{Stage: stage, UsedBytes: used + uint64(n), HardBytes: r.g.hardBytes}
	}
	r.reserved.Add(n)
	r.g.reserved.Add(n)
	r.g.observe(ctx, r.g.classify(used+uint64(n)), used+uint64(n))
	return nil
}

// Release returns n previously reserved bytes.
func (r *Run) Release(n int64) {
	if n <= 0 {
		return
	}
	if held := r.reserved.Load(); n > held {
		n = held
	}
	r.reserved.Add(-n)
	r.g.reserved.Add(-n)
}

// Check fails with MemoryExceededError when the governor is Critical.
func (r *Run) Check(ctx context.Context, stage string) error {
	used := r.g.Usage()
	level := r.g.classify(used)
	r.g.observe(ctx, level, used)
	if level == Critical {
		return &MemoryExceededError{Stage: stage, UsedBytes: used, HardBytes: r.g.hardBytes}
	}
	return nil
}

// End frees everything the run still holds and unregisters it.
func (r *Run) End() {
	if !r.ended.CompareAndSwap(false, true) {
		return
	}
	held := r.reserved.Swap(0)
	r.g.reserved.Add(-held)
	r.g.mu.Lock()
	delete(r.g.runs, r.id)
	r.g.mu.Unlock()
}
