package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipperDefaults(t *testing.T) {
	t.Parallel()

	s, err := NewSkipper(DefaultSkipPatterns, nil)
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"app/main.py", false},
		{"main.py", false},
		{"build.py", false},
		{"pkg/build/gen.py", true},
		{"venv/lib/site.py", true},
		{"proj/.git/hooks/pre.py", true},
		{"proj/node_modules/x/y.py", true},
		{"src/__pycache__/m.py", true},
		{"mylib.egg-info/setup.py", true},
		{"usr/lib/python3.11/site-packages/req/api.py", true},
		{"lib/python3.11/other/api.py", false},
		{"__MACOSX/app/._main.py", true},
		{"environment/config.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, s.Skip(tt.path))
		})
	}
}

func TestSkipperExclude(t *testing.T) {
	t.Parallel()

	s, err := NewSkipper(nil, []string{"*_pb2.py", "migrations/"})
	require.NoError(t, err)

	assert.True(t, s.Skip("api/service_pb2.py"))
	assert.True(t, s.Skip("db/migrations/0001_initial.py"))
	assert.False(t, s.Skip("api/service.py"))
}

func TestSkipperMultiSegmentPattern(t *testing.T) {
	t.Parallel()

	s, err := NewSkipper([]string{"docs/examples"}, nil)
	require.NoError(t, err)

	assert.True(t, s.Skip("docs/examples/demo.py"))
	assert.True(t, s.Skip("repo/docs/examples/nested/demo.py"))
	assert.False(t, s.Skip("examples/docs/demo.py"))
	assert.False(t, s.Skip("docs/demo.py"))
}

func TestSkipperBadGlob(t *testing.T) {
	t.Parallel()

	_, err := NewSkipper([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestSkipperEmpty(t *testing.T) {
	t.Parallel()

	s, err := NewSkipper([]string{"", " / "}, nil)
	require.NoError(t, err)
	assert.False(t, s.Skip("venv/a.py"))
}
