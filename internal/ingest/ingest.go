// Package ingest streams source files out of an uploaded archive under size,
// count, and memory limits.
package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mholt/archives"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/lang"
	"github.com/phobologic/archgraph/internal/model"
)

// ArchiveError means the stream is not a readable archive.
type ArchiveError struct {
	Name string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid archive: %v", e.Err)
	}
	return fmt.Sprintf("invalid archive %s: %v", e.Name, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// SizeLimitError reports an entry, or the admitted total, over its limit.
type SizeLimitError struct {
	Path       string
	Size       int64
	Limit      int64
	Cumulative bool
	// Fatal is set when the very first source entry is already over the
	// single-entry cap; the run is aborted.
	Fatal bool
}

func (e *SizeLimitError) Error() string {
	if e.Cumulative {
		return fmt.Sprintf("%s: admitting %s would exceed the total limit of %s",
			e.Path, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
	}
	return fmt.Sprintf("%s: %s exceeds the per-entry limit of %s",
		e.Path, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// FileCountError reports that the file-count limit stopped admission.
type FileCountError struct {
	Limit int
}

func (e *FileCountError) Error() string {
	return fmt.Sprintf("file count limit of %d reached", e.Limit)
}

// Limits bounds one ingestion. Zero values mean unlimited.
type Limits struct {
	MaxTotalBytes int64
	MaxEntryBytes int64
	MaxFileCount  int
}

// Source is an uploaded archive. Zip needs random access, so the stream
// must also be an io.ReaderAt and io.Seeker.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Entry is one admitted source file. Reserved is the number of bytes held in
// the governor run on its behalf; the consumer releases them.
type Entry struct {
	Path     string
	Size     int64
	Data     []byte
	Reserved int64
}

// Report summarizes one walk over an archive.
type Report struct {
	Entries       int
	Sources       int
	Assets        int
	AdmittedBytes int64
	Skipped       []model.SkippedEntry
	// Stop is the condition that ended admission early, if any.
	Stop error
}

// Partial reports whether admission stopped before the archive was exhausted.
func (r *Report) Partial() bool {
	return r.Stop != nil
}

// Reason maps the stop condition to a partial-result reason.
func (r *Report) Reason() string {
	var (
		countErr *FileCountError
		sizeErr  *SizeLimitError
		memErr   *governor.MemoryExceededError
		archErr  *ArchiveError
	)
	switch {
	case r.Stop == nil:
		return ""
	case errors.As(r.Stop, &countErr):
		return model.ReasonFileCount
	case errors.As(r.Stop, &sizeErr):
		return model.ReasonTotalSize
	case errors.As(r.Stop, &memErr):
		return model.ReasonMemory
	case errors.As(r.Stop, &archErr):
		return model.ReasonArchive
	case errors.Is(r.Stop, context.DeadlineExceeded), errors.Is(r.Stop, context.Canceled):
		return model.ReasonTimeout
	}
	return model.ReasonArchive
}

// Ingestor admits archive entries.
type Ingestor struct {
	limits Limits
	skip   *Skipper
	run    *governor.Run
}

// New creates an ingestor. run may be nil to disable memory accounting.
func New(limits Limits, skip *Skipper, run *governor.Run) *Ingestor {
	if skip == nil {
		skip = &Skipper{}
	}
	return &Ingestor{limits: limits, skip: skip, run: run}
}

// walkState is the bookkeeping of one Walk call.
type walkState struct {
	report     *Report
	candidates int
	fatal      error
	fn         func(context.Context, Entry) error
}

// Walk streams admitted entries to fn in archive order. Each call re-reads
// the source from the start. name is an optional filename hint used for
// format identification.
//
// Walk returns an error only when nothing useful can be produced: the
// stream is not an archive, or the first source entry is over the
// single-entry cap. Every other limit ends the walk early and is reported
// in Report.Stop.
func (in *Ingestor) Walk(ctx context.Context, src Source, name string, fn func(context.Context, Entry) error) (*Report, error) {
	st := &walkState{report: &Report{Skipped: []model.SkippedEntry{}}, fn: fn}
	if err := ctx.Err(); err != nil {
		st.report.Stop = err
		return st.report, nil
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Errorf("rewinding archive: %w", err)
	}
	format, _, err := archives.Identify(ctx, name, src)
	if _, serr := src.Seek(0, io.SeekStart); serr != nil {
		return nil, errors.Errorf("rewinding archive: %w", serr)
	}

	if errors.Is(err, archives.NoMatch) && lang.ForExtension(path.Ext(name)) != "" {
		in.walkSingle(ctx, src, name, st)
		return st.finish()
	}
	if err != nil {
		return nil, &ArchiveError{Name: name, Err: err}
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, &ArchiveError{Name: name, Err: errors.Errorf("format %s is not an archive", format.Extension())}
	}

	err = extractor.Extract(ctx, src, func(ctx context.Context, info archives.FileInfo) error {
		return in.handle(ctx, info, st)
	})
	if err != nil && !errors.Is(err, fs.SkipAll) && st.fatal == nil && st.report.Stop == nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			st.report.Stop = err
		case st.report.Sources == 0:
			return nil, &ArchiveError{Name: name, Err: err}
		default:
			st.report.Stop = &ArchiveError{Name: name, Err: err}
		}
	}
	return st.finish()
}

func (st *walkState) finish() (*Report, error) {
	if st.fatal != nil {
		return st.report, st.fatal
	}
	return st.report, nil
}

func (in *Ingestor) walkSingle(ctx context.Context, src Source, name string, st *walkState) {
	size, err := src.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = src.Seek(0, io.SeekStart)
	}
	if err != nil {
		st.fatal = errors.Errorf("sizing %s: %w", name, err)
		return
	}
	p := normalizePath(name)
	if p == "" {
		p = "main.py"
	}
	st.report.Entries++
	_ = in.admit(ctx, st, p, size, func() (io.ReadCloser, error) {
		return io.NopCloser(io.NewSectionReader(src, 0, size)), nil
	})
}

func (in *Ingestor) handle(ctx context.Context, info archives.FileInfo, st *walkState) error {
	if err := ctx.Err(); err != nil {
		st.report.Stop = err
		return fs.SkipAll
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return nil
	}
	p := normalizePath(info.NameInArchive)
	if p == "" {
		return nil
	}
	st.report.Entries++

	if in.skip.Skip(p) {
		slogctx.Debug(ctx, "skipping entry", "path", p)
		st.report.Skipped = append(st.report.Skipped, model.SkippedEntry{Path: p, Size: info.Size(), Reason: "skip_pattern"})
		return nil
	}
	if lang.ForExtension(path.Ext(p)) == "" {
		st.report.Assets++
		return nil
	}
	return in.admit(ctx, st, p, info.Size(), func() (io.ReadCloser, error) {
		return info.Open()
	})
}

// admit applies the limits to one source candidate and hands it to fn.
// A non-nil return stops the walk.
func (in *Ingestor) admit(ctx context.Context, st *walkState, p string, size int64, open func() (io.ReadCloser, error)) error {
	st.candidates++
	lim := in.limits

	if lim.MaxFileCount > 0 && st.report.Sources >= lim.MaxFileCount {
		st.report.Stop = &FileCountError{Limit: lim.MaxFileCount}
		return fs.SkipAll
	}
	if lim.MaxEntryBytes > 0 && size > lim.MaxEntryBytes {
		return in.oversize(ctx, st, p, size)
	}
	if lim.MaxTotalBytes > 0 && st.report.AdmittedBytes+size > lim.MaxTotalBytes {
		st.report.Stop = &SizeLimitError{Path: p, Size: size, Limit: lim.MaxTotalBytes, Cumulative: true}
		return fs.SkipAll
	}

	var reserved int64
	if in.run != nil {
		if err := in.run.Reserve(ctx, "ingest", size); err != nil {
			st.report.Stop = err
			return fs.SkipAll
		}
		reserved = size
	}

	data, err := readEntry(open, lim.MaxEntryBytes)
	if err != nil {
		in.release(reserved)
		slogctx.Warn(ctx, "could not read entry", "path", p, "error", err)
		st.report.Skipped = append(st.report.Skipped, model.SkippedEntry{Path: p, Size: size, Reason: "unreadable"})
		return nil
	}
	if lim.MaxEntryBytes > 0 && int64(len(data)) > lim.MaxEntryBytes {
		in.release(reserved)
		return in.oversize(ctx, st, p, int64(len(data)))
	}

	st.report.Sources++
	st.report.AdmittedBytes += int64(len(data))
	if err := st.fn(ctx, Entry{Path: p, Size: int64(len(data)), Data: data, Reserved: reserved}); err != nil {
		st.fatal = err
		return fs.SkipAll
	}
	return nil
}

func (in *Ingestor) oversize(ctx context.Context, st *walkState, p string, size int64) error {
	err := &SizeLimitError{Path: p, Size: size, Limit: in.limits.MaxEntryBytes}
	if st.candidates == 1 {
		err.Fatal = true
		st.fatal = err
		return fs.SkipAll
	}
	slogctx.Warn(ctx, "skipping oversized entry", "path", p, "size", humanize.IBytes(uint64(size)))
	st.report.Skipped = append(st.report.Skipped, model.SkippedEntry{Path: p, Size: size, Reason: "entry_size"})
	return nil
}

func (in *Ingestor) release(n int64) {
	if in.run != nil {
		in.run.Release(n)
	}
}

// readEntry reads at most max+1 bytes so a lying header cannot force an
// unbounded read.
func readEntry(open func() (io.ReadCloser, error), max int64) ([]byte, error) {
	f, err := open()
	if err != nil {
		return nil, errors.Errorf("opening entry: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if max > 0 {
		r = io.LimitReader(f, max+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Errorf("reading entry: %w", err)
	}
	return data, nil
}

// normalizePath converts an archive name to a clean relative path with "/"
// separators. It returns "" for names that should be ignored.
func normalizePath(name string) string {
	p := strings.ReplaceAll(name, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return p
}
