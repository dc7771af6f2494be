package deadcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arena "github.com/phobologic/archgraph/internal/graph"
	"github.com/phobologic/archgraph/internal/model"
	"github.com/phobologic/archgraph/internal/parse"
)

func analyze(t *testing.T, files ...string) *arena.Table {
	t.Helper()
	p := parse.NewParser(nil)
	var mods []*model.Module
	for i := 0; i < len(files); i += 2 {
		m, err := p.Parse(context.Background(), files[i], []byte(files[i+1]))
		require.NoError(t, err)
		mods = append(mods, m)
	}
	tbl := arena.NewTable(mods)
	tbl.Resolve(context.Background())
	return tbl
}

func deadIDs(tbl *arena.Table) []string {
	out := []string{}
	for _, s := range tbl.Symbols {
		if s.Dead {
			out = append(out, s.ID)
		}
	}
	return out
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tbl := analyze(t,
		"app.py", `from util import used

def main():
    used()

def orphan():
    chain()

def chain():
    pass

class Service:
    def handle(self):
        pass
`,
		"util.py", "def used():\n    pass\n\ndef unused():\n    pass\n",
	)

	n := Detect(context.Background(), tbl)

	// chain has a caller, so it is live even though its caller is dead.
	assert.Equal(t, []string{"app:orphan", "app:Service.handle", "util:unused"}, deadIDs(tbl))
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"orphan", "Service.handle"}, tbl.Modules[0].DeadFunctions)
	assert.Equal(t, []string{"unused"}, tbl.Modules[1].DeadFunctions)
}

func TestDeadRoundTrip(t *testing.T) {
	t.Parallel()

	tbl := analyze(t,
		"a.py", "def f():\n    g()\n\ndef g():\n    pass\n\ndef h():\n    pass\n\ndef test_it():\n    pass\n",
	)
	Detect(context.Background(), tbl)

	for si, s := range tbl.Symbols {
		if s.Dead {
			assert.False(t, s.IsEntrypoint, s.ID)
			assert.False(t, tbl.HasCallers(si), s.ID)
			assert.True(t, s.Kind.IsCallable(), s.ID)
		}
	}
	assert.Equal(t, []string{"a:f", "a:h"}, deadIDs(tbl))
}

func TestClassesNeverDead(t *testing.T) {
	t.Parallel()

	tbl := analyze(t, "m.py", "class Unused:\n    pass\n")
	assert.Equal(t, 0, Detect(context.Background(), tbl))
	assert.Empty(t, tbl.Modules[0].DeadFunctions)
	assert.NotNil(t, tbl.Modules[0].DeadFunctions)
}

func TestModuleLevelCallKeepsSymbolAlive(t *testing.T) {
	t.Parallel()

	tbl := analyze(t, "script.py", "def setup():\n    pass\n\nsetup()\n")
	assert.Equal(t, 0, Detect(context.Background(), tbl))
}

func TestRecursiveFunctionIsNotDead(t *testing.T) {
	t.Parallel()

	tbl := analyze(t, "math.py", "def fact(n):\n    return n * fact(n - 1)\n")
	assert.Equal(t, 0, Detect(context.Background(), tbl))
	assert.False(t, tbl.Symbols[0].Dead)
	assert.Empty(t, tbl.Modules[0].DeadFunctions)
}

func TestDecoratedEntrypoint(t *testing.T) {
	t.Parallel()

	tbl := analyze(t, "web.py", `@app.route("/")
def index():
    render()

def render():
    pass
`)
	assert.Equal(t, 0, Detect(context.Background(), tbl))
}

func TestUnresolvedTableIsUntouched(t *testing.T) {
	t.Parallel()

	p := parse.NewParser(nil)
	m, err := p.Parse(context.Background(), "a.py", []byte("def f():\n    pass\n"))
	require.NoError(t, err)
	tbl := arena.NewTable([]*model.Module{m})

	assert.Equal(t, 0, Detect(context.Background(), tbl))
	assert.False(t, tbl.Symbols[0].Dead)
}
