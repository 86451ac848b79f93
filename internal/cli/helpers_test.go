package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")
	catalogFile  = filepath.Join("..", "harness", "testdata", "catalog.cue")
)

// execute runs the root command with args and captures both streams.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decode parses a JSON envelope and re-decodes its data into out.
func decode(t *testing.T, raw string, out any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	if out != nil && resp.Data != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return resp
}

// journaledRun runs one harness scenario into a fresh journal and returns its path.
func journaledRun(t *testing.T, scenario string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "statekit.db")
	_, _, err := execute(t, "run", filepath.Join(scenariosDir, scenario+".yaml"), "--db", db)
	require.NoError(t, err)
	return db
}
