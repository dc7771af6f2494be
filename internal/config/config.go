// Package config loads archgraph settings from an optional YAML file layered
// over built-in defaults.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/archgraph/internal/analyzer"
	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/ingest"
	"github.com/phobologic/archgraph/internal/parse"
)

// DefaultPath is where init writes and the CLI looks when no --config is given.
const DefaultPath = "archgraph.yaml"

// Config is the whole settings file.
type Config struct {
	Limits   Limits   `yaml:"limits"`
	Memory   Memory   `yaml:"memory"`
	Analysis Analysis `yaml:"analysis"`
	Server   Server   `yaml:"server"`
}

// Limits bounds what one analysis admits. Zero disables a limit.
type Limits struct {
	MaxFileCount  int      `yaml:"max_file_count"`
	MaxTotalBytes ByteSize `yaml:"max_total_bytes"`
	MaxEntryBytes ByteSize `yaml:"max_entry_bytes"`
}

// Memory configures the process-wide governor.
type Memory struct {
	WarningMB uint64 `yaml:"warning_mb"`
	HardMB    uint64 `yaml:"hard_limit_mb"`
}

// Entrypoints overrides the entrypoint convention.
type Entrypoints struct {
	Names      []string `yaml:"names"`
	Decorators []string `yaml:"decorators"`
}

// Analysis holds per-run defaults.
type Analysis struct {
	SymbolLevel   bool        `yaml:"symbol_level"`
	IncludeSource bool        `yaml:"include_source"`
	Workers       int         `yaml:"workers"`
	Timeout       Duration    `yaml:"timeout"`
	SkipPatterns  []string    `yaml:"skip_patterns"`
	Exclude       []string    `yaml:"exclude"`
	Entrypoints   Entrypoints `yaml:"entrypoints"`
}

// Server configures the HTTP transport.
type Server struct {
	Addr           string   `yaml:"addr"`
	MaxUploadBytes ByteSize `yaml:"max_upload_bytes"`
	CacheSize      int      `yaml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Limits: Limits{
			MaxFileCount:  analyzer.DefaultMaxFileCount,
			MaxTotalBytes: analyzer.DefaultMaxTotalBytes,
			MaxEntryBytes: analyzer.DefaultMaxEntryBytes,
		},
		Memory: Memory{
			WarningMB: 14_000,
			HardMB:    16_000,
		},
		Analysis: Analysis{
			Timeout:      Duration(10 * time.Minute),
			SkipPatterns: append([]string(nil), ingest.DefaultSkipPatterns...),
			Exclude:      []string{},
			Entrypoints: Entrypoints{
				Names:      append([]string(nil), parse.DefaultEntrypointNames...),
				Decorators: append([]string(nil), parse.DefaultEntrypointDecorators...),
			},
		},
		Server: Server{
			Addr:           ":8000",
			MaxUploadBytes: analyzer.DefaultMaxTotalBytes,
			CacheSize:      32,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Errorf("reading config: %w", err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return cfg, errors.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects negative limits and inconsistent memory thresholds.
func (c Config) Validate() error {
	switch {
	case c.Limits.MaxFileCount < 0:
		return errors.New("limits.max_file_count must not be negative")
	case c.Limits.MaxTotalBytes < 0:
		return errors.New("limits.max_total_bytes must not be negative")
	case c.Limits.MaxEntryBytes < 0:
		return errors.New("limits.max_entry_bytes must not be negative")
	case c.Analysis.Workers < 0:
		return errors.New("analysis.workers must not be negative")
	case c.Analysis.Timeout < 0:
		return errors.New("analysis.timeout must not be negative")
	case c.Memory.HardMB > 0 && c.Memory.WarningMB > c.Memory.HardMB:
		return errors.Errorf("memory.warning_mb (%d) exceeds memory.hard_limit_mb (%d)", c.Memory.WarningMB, c.Memory.HardMB)
	case c.Server.CacheSize < 0:
		return errors.New("server.cache_size must not be negative")
	}
	return nil
}

// Options converts the configuration to per-run analyzer options.
func (c Config) Options() analyzer.Options {
	return analyzer.Options{
		SymbolLevel:          c.Analysis.SymbolLevel,
		MaxTotalBytes:        int64(c.Limits.MaxTotalBytes),
		MaxEntryBytes:        int64(c.Limits.MaxEntryBytes),
		MaxFileCount:         c.Limits.MaxFileCount,
		SkipPatterns:         c.Analysis.SkipPatterns,
		Exclude:              c.Analysis.Exclude,
		EntrypointNames:      c.Analysis.Entrypoints.Names,
		EntrypointDecorators: c.Analysis.Entrypoints.Decorators,
		IncludeSource:        c.Analysis.IncludeSource,
		Workers:              c.Analysis.Workers,
		Timeout:              time.Duration(c.Analysis.Timeout),
	}
}

// Governor returns the governor configuration.
func (c Config) Governor() governor.Config {
	return governor.Config{WarningMB: c.Memory.WarningMB, HardMB: c.Memory.HardMB}
}

const header = `# archgraph configuration.
#
# Sizes accept plain byte counts or units such as "50 MiB" and "4 GiB".
# A zero limit disables it. Durations use Go syntax ("90s", "10m").
# skip_patterns match runs of directory names ("lib/python*/site-packages");
# exclude lines use .gitignore syntax against the full archive path.
`

// Marshal renders c as a commented YAML document.
func Marshal(c Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// ByteSize is a byte count that reads and writes human-readable units.
type ByteSize int64

// UnmarshalYAML accepts an integer or a string such as "50 MiB".
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Errorf("line %d: size must be a number or string", value.Line)
	}
	parsed, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// MarshalYAML writes the size in binary units.
func (b ByteSize) MarshalYAML() (any, error) {
	if b <= 0 {
		return int64(b), nil
	}
	return humanize.IBytes(uint64(b)), nil
}

// Duration is a time.Duration in Go syntax.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Errorf("line %d: duration must be a string", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
