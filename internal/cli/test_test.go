package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenario copies a harness scenario into dir and returns its new path.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
}

func TestTestCommandNotFound(t *testing.T) {
	out, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "scenarios not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir(), "--format", "json")
	require.NoError(t, err)

	var result TestResult
	resp := decode(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, result.Total)
}

func TestTestCommandRunsAllScenarios(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ fetch_success")
	assert.Contains(t, out, "✓ supersede_out_of_order")
	assert.Contains(t, out, "4 passed, 0 failed, 4 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--filter", "fetch_*", "--format", "json")
	require.NoError(t, err)

	var result TestResult
	decode(t, out, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	names := []string{result.Scenarios[0].Name, result.Scenarios[1].Name}
	assert.Equal(t, []string{"fetch_all", "fetch_success"}, names)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	src := `name: wrong_status
steps:
  - request: { op: "fetchEntity:u1", as: A }
assertions:
  - type: status
    op: "fetchEntity:u1"
    status: fulfilled
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_status.yaml"), []byte(src), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_status")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommandUpdateThenCompareGolden(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "fetch_success")

	_, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)

	golden := goldenFilePath(filepath.Join(dir, "fetch_success.yaml"), "fetch_success")
	written, err := os.ReadFile(golden)
	require.NoError(t, err)

	// The CLI writes the same canonical trace the harness golden tests pin.
	pinned, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "fetch_success.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(pinned), string(written))

	_, _, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"stale"}`), 0o644))
	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestFindScenarioFiles(t *testing.T) {
	files, err := findScenarioFiles(scenariosDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 4)

	files, err = findScenarioFiles(scenariosDir, "supersede_*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "supersede_out_of_order.yaml", filepath.Base(files[0]))

	_, err = findScenarioFiles(scenariosDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestGoldenFilePath(t *testing.T) {
	got := goldenFilePath(filepath.Join("scenarios", "fetch.yaml"), "fetch_success")
	assert.Equal(t, filepath.Join("scenarios", "golden", "fetch_success.golden"), got)
}
