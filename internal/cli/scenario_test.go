package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `name: counter_two
root: counter
steps:
  - set: { count: 2 }
expect:
  - expr: 'nodes == 2'
`

const failingScenario = `name: counter_wrong
root: counter
steps:
  - set: { count: 2 }
expect:
  - expr: 'nodes == 7'
`

const rampScenario = `name: ramp_to_four
root: ramp
steps:
  - set: { n: 1 }
expect:
  - expr: 'root.n == 4'
`

func TestScenarioRun_ConfigAppliesEngineOptions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenarios/ramp.yaml", rampScenario)

	out, err := execute(t, "scenario", "run", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ ramp_to_four")

	cfg := writeFile(t, dir, "grove.cue", "max_evaluations: 2\n")
	out, err = execute(t, "scenario", "run", path, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ ramp_to_four")
	assert.Contains(t, out, "CYCLE_DETECTED")
}

func TestScenarioRun_ConfigArchiveRecordsSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenarios/ok.yaml", passingScenario)
	db := filepath.Join(dir, "snaps.db")
	cfg := writeFile(t, dir, "grove.cue", "archive: path: \""+db+"\"\n")

	out, err := execute(t, "scenario", "run", path, "--config", cfg)
	require.NoError(t, err, out)

	out, err = execute(t, "archive", "list", "--db", db, "--format", "json")
	require.NoError(t, err, out)
	entries := decodeResponse(t, out).Data.([]any)
	assert.NotEmpty(t, entries, "scenario writes were archived")
}

func TestScenarioRun_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "scenario", "run", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ counter_child")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenarioRun_Filter(t *testing.T) {
	out, err := execute(t, "scenario", "run", harnessScenarios, "--filter", "intent_*", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["total"])
	assert.Equal(t, float64(2), data["passed"])
}

func TestScenarioRun_Failure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scenarios/ok.yaml", passingScenario)
	writeFile(t, dir, "scenarios/bad.yaml", failingScenario)

	out, err := execute(t, "scenario", "run", filepath.Join(dir, "scenarios"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ counter_two")
	assert.Contains(t, out, "✗ counter_wrong")
	assert.Contains(t, out, "Expectation failed: nodes == 7")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestScenarioRun_FailureJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", failingScenario)

	out, err := execute(t, "scenario", "run", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
}

func TestScenarioRun_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenarios/ok.yaml", passingScenario)

	_, err := execute(t, "scenario", "run", path, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "counter_two.golden"))
	require.NoError(t, err)
	assert.Equal(t, "nodes 2\nroot counter count=2\n  child leaf text=\"hello\" hits=0\n", string(golden))

	_, err = execute(t, "scenario", "run", path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "counter_two.golden"), []byte("nodes 1\n"), 0o644))
	out, err := execute(t, "scenario", "run", path)
	require.Error(t, err)
	assert.Contains(t, out, "does not match")
}

func TestScenarioRun_GoldenDirFlag(t *testing.T) {
	golden := t.TempDir()
	path := writeFile(t, t.TempDir(), "ok.yaml", passingScenario)

	_, err := execute(t, "scenario", "run", path, "--update", "--golden", golden)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(golden, "counter_two.golden"))
}

func TestScenarioRun_LoadError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yaml", "name: x\nroot: widget\n")

	out, err := execute(t, "scenario", "run", path)
	require.Error(t, err)
	assert.Contains(t, out, "failed to load scenario")
}

func TestScenarioRun_Empty(t *testing.T) {
	out, err := execute(t, "scenario", "run", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestScenarioRun_MissingPath(t *testing.T) {
	_, err := execute(t, "scenario", "run", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioRun_RequiresArgs(t *testing.T) {
	_, err := execute(t, "scenario", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestScenarioNodes(t *testing.T) {
	out, err := execute(t, "scenario", "nodes")
	require.NoError(t, err)
	assert.Contains(t, out, "counter\n")
	assert.Contains(t, out, "list\n")
}
