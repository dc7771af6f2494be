package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100_000, cfg.Limits.MaxFileCount)
	assert.Equal(t, ByteSize(4<<30), cfg.Limits.MaxTotalBytes)
	assert.Equal(t, ByteSize(50<<20), cfg.Limits.MaxEntryBytes)
	assert.Equal(t, uint64(14_000), cfg.Memory.WarningMB)
	assert.Equal(t, Duration(10*time.Minute), cfg.Analysis.Timeout)
	assert.Contains(t, cfg.Analysis.SkipPatterns, "node_modules")
}

func TestParseOverridesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
limits:
  max_file_count: 10
  max_entry_bytes: 1 MiB
analysis:
  symbol_level: true
  timeout: 90s
  skip_patterns: [vendor]
  entrypoints:
    names: [handler]
server:
  addr: 127.0.0.1:9000
`))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Limits.MaxFileCount)
	assert.Equal(t, ByteSize(1<<20), cfg.Limits.MaxEntryBytes)
	assert.Equal(t, ByteSize(4<<30), cfg.Limits.MaxTotalBytes, "unset keys keep defaults")
	assert.True(t, cfg.Analysis.SymbolLevel)
	assert.Equal(t, Duration(90*time.Second), cfg.Analysis.Timeout)
	assert.Equal(t, []string{"vendor"}, cfg.Analysis.SkipPatterns)
	assert.Equal(t, []string{"handler"}, cfg.Analysis.Entrypoints.Names)
	assert.NotEmpty(t, cfg.Analysis.Entrypoints.Decorators)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	opts := cfg.Options()
	assert.Equal(t, int64(1<<20), opts.MaxEntryBytes)
	assert.Equal(t, 90*time.Second, opts.Timeout)
	assert.True(t, opts.SymbolLevel)
	assert.Equal(t, []string{"handler"}, opts.EntrypointNames)
}

func TestParsePlainByteCount(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("limits:\n  max_total_bytes: 2048\n"))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(2048), cfg.Limits.MaxTotalBytes)
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "limits:\n  max_files: 3\n"},
		{"bad size", "limits:\n  max_entry_bytes: lots\n"},
		{"bad duration", "analysis:\n  timeout: soon\n"},
		{"negative count", "limits:\n  max_file_count: -1\n"},
		{"warning above hard", "memory:\n  warning_mb: 200\n  hard_limit_mb: 100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# archgraph configuration.")
	assert.Contains(t, string(data), "max_entry_bytes: 50 MiB")
	assert.Contains(t, string(data), "timeout: 10m0s")

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "archgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  cache_size: 4\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Server.CacheSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
