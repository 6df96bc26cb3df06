package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Parsing
// ============================================================================

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: sample
root: counter
max_evaluations: 8
env: { theme: dark }
steps:
  - set: { count: 2 }
  - at: root/child
    set: { text: "x" }
  - signal: /open
  - restart: true
expect:
  - expr: 'nodes == 2'
    message: two nodes
`))
	require.NoError(t, err)

	assert.Equal(t, "sample", s.Name)
	assert.Equal(t, "counter", s.Root)
	assert.Equal(t, 8, s.MaxEvaluations)
	assert.Equal(t, "dark", s.Env["theme"])
	require.Len(t, s.Steps, 4)
	assert.Equal(t, OpSet, s.Steps[0].Op())
	assert.Equal(t, "root/child", s.Steps[1].At)
	assert.Equal(t, OpSignal, s.Steps[2].Op())
	assert.Equal(t, "/open", *s.Steps[2].Signal)
	assert.Equal(t, OpRestart, s.Steps[3].Op())
	require.Len(t, s.Expect, 1)
	assert.Equal(t, "two nodes", s.Expect[0].Message)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
root: counter
expects:
  - expr: 'true'
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "root: counter", "name is required"},
		{"missing root", "name: x", "root is required"},
		{"unknown root", "name: x\nroot: widget", `unknown node type "widget"`},
		{"negative bound", "name: x\nroot: loop\nmax_evaluations: -1", "max_evaluations"},
		{"no op", "name: x\nroot: counter\nsteps:\n  - at: root", "exactly one of"},
		{"two ops", "name: x\nroot: counter\nsteps:\n  - set: {count: 1}\n    restart: true", "exactly one of"},
		{"at without set", "name: x\nroot: counter\nsteps:\n  - at: root\n    restart: true", "at is only valid with set"},
		{"empty expr", "name: x\nroot: counter\nexpect:\n  - message: nothing", "expr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// ============================================================================
// Loading
// ============================================================================

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: disk\nroot: leaf\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "disk", s.Name)
	assert.Empty(t, s.Steps)
}

func TestNodeTypes_Sorted(t *testing.T) {
	types := NodeTypes()
	assert.Contains(t, types, "counter")
	assert.IsIncreasing(t, types)
}
