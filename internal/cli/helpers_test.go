package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/harness"
	"github.com/roach88/grove/internal/ir"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, nil, args...)
}

func executeWithInput(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if stdin != nil {
		cmd.SetIn(bytes.NewReader(stdin))
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses a JSON CLI response.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// runTree runs an inline scenario and returns its final tree.
func runTree(t *testing.T, src string) ir.TreeStateRecord {
	t.Helper()
	s, err := harness.ParseScenario([]byte(src))
	require.NoError(t, err)
	result, err := harness.Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	return result.Tree
}

func counterTree(t *testing.T) ir.TreeStateRecord {
	t.Helper()
	return runTree(t, `
name: counter
root: counter
steps:
  - set: { count: 2 }
`)
}

// writeSnapshot writes tree as JSON into a temp file.
func writeSnapshot(t *testing.T, tree ir.TreeStateRecord) string {
	t.Helper()
	data, err := json.Marshal(tree)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
