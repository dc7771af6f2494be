// archgraph analyzes an archive of Python source and reports its structure:
// modules, symbols, complexity, import and call graphs, and dead code.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/analyzer"
	"github.com/phobologic/archgraph/internal/config"
	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "archgraph",
		Short:         "Structural analysis of Python source archives",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
				return errors.Errorf("--log-level: %w", err)
			}
			logger := slog.New(tint.NewHandler(stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.Kitchen,
			}))
			cmd.SetContext(slogctx.NewCtx(cmd.Context(), logger))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("archgraph {{.Version}}\n")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default ./"+config.DefaultPath+" if present)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newAnalyzeCmd(g), newServeCmd(g), newInitCmd())
	return root
}

// loadConfig reads the explicit config file, or the default one when it
// exists.
func loadConfig(g *globalFlags) (config.Config, error) {
	path := g.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	return config.Load(path)
}

type analyzeFlags struct {
	format        string
	symbolLevel   bool
	includeSource bool
	maxFiles      int
	maxTotal      string
	maxEntry      string
	skip          []string
	exclude       []string
	workers       int
	timeout       time.Duration
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [flags] <archive>",
		Short: "Analyze a zip, tar, or .py file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			opts, err := f.options(cmd, cfg)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), args[0], f.format, cfg, opts)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "json", "output format: json or toon")
	fl.BoolVarP(&f.symbolLevel, "symbol-level", "s", false, "emit symbol nodes and symbol-level call edges")
	fl.BoolVar(&f.includeSource, "include-source", false, "include file contents in the result")
	fl.IntVarP(&f.maxFiles, "max-files", "n", 0, "maximum number of source files to admit")
	fl.StringVar(&f.maxTotal, "max-total-bytes", "", "cumulative size limit, e.g. 4GiB")
	fl.StringVar(&f.maxEntry, "max-entry-bytes", "", "single file size limit, e.g. 50MiB")
	fl.StringSliceVar(&f.skip, "skip", nil, "directory patterns to skip (replaces configured patterns)")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "gitignore-style exclude lines")
	fl.IntVarP(&f.workers, "workers", "j", 0, "parse workers (default GOMAXPROCS)")
	fl.DurationVar(&f.timeout, "timeout", 0, "whole-run time budget")
	return cmd
}

// options layers changed flags over the configuration.
func (f *analyzeFlags) options(cmd *cobra.Command, cfg config.Config) (analyzer.Options, error) {
	opts := cfg.Options()
	fl := cmd.Flags()
	if fl.Changed("symbol-level") {
		opts.SymbolLevel = f.symbolLevel
	}
	if fl.Changed("include-source") {
		opts.IncludeSource = f.includeSource
	}
	if fl.Changed("max-files") {
		opts.MaxFileCount = f.maxFiles
	}
	if fl.Changed("max-total-bytes") {
		n, err := humanize.ParseBytes(f.maxTotal)
		if err != nil {
			return opts, errors.Errorf("--max-total-bytes: %w", err)
		}
		opts.MaxTotalBytes = int64(n)
	}
	if fl.Changed("max-entry-bytes") {
		n, err := humanize.ParseBytes(f.maxEntry)
		if err != nil {
			return opts, errors.Errorf("--max-entry-bytes: %w", err)
		}
		opts.MaxEntryBytes = int64(n)
	}
	if fl.Changed("skip") {
		opts.SkipPatterns = f.skip
	}
	if fl.Changed("exclude") {
		opts.Exclude = append(append([]string(nil), opts.Exclude...), f.exclude...)
	}
	if fl.Changed("workers") {
		opts.Workers = f.workers
	}
	if fl.Changed("timeout") {
		opts.Timeout = f.timeout
	}
	switch f.format {
	case "json", "toon":
	default:
		return opts, errors.Errorf("unsupported format %q", f.format)
	}
	return opts, nil
}

func runAnalyze(ctx context.Context, stdout io.Writer, path, format string, cfg config.Config, opts analyzer.Options) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Errorf("opening archive: %w", err)
	}
	defer file.Close()
	opts.Name = filepath.Base(path)

	an := analyzer.New(governor.New(cfg.Governor()), version)
	res, err := an.Analyze(ctx, file, opts)
	if err != nil {
		return err
	}
	if res.Partial {
		slogctx.Warn(ctx, "result is partial",
			"reasons", res.PartialReasons,
			"analyzed", res.Summary.AnalyzedModules,
			"entries", res.Summary.TotalEntries)
	}

	if format == "toon" {
		_, err = fmt.Fprintln(stdout, toon.Encode(opts.Name, res))
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return errors.Errorf("encoding result: %w", err)
	}
	return nil
}
