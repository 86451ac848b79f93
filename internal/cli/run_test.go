package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/journal"
)

func TestRunScenarioText(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "fetch_success.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ fetch_success")
	assert.Contains(t, out, "seq=3 entities=1 pending=0 notifications=3")
	assert.NotContains(t, out, "journal:")
}

func TestRunScenarioJSONWithJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "statekit.db")
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "supersede_out_of_order.yaml"),
		"--db", db, "--format", "json")
	require.NoError(t, err)

	var summary RunSummary
	resp := decode(t, out, &summary)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, RunSummary{
		Scenario:      "supersede_out_of_order",
		Pass:          true,
		Seq:           4,
		Entities:      1,
		Notifications: 4,
		Journal:       db,
	}, summary)

	_, err = os.Stat(db)
	require.NoError(t, err)
}

func TestRunScenarioMetrics(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "supersede_out_of_order.yaml"), "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "statekit_dispatch_total")
	assert.Contains(t, out, "statekit_stale_resolutions_total")
	assert.Contains(t, out, `statekit_selector_recomputes_total{selector="pending_operations"}`)
}

func TestRunScenarioVerboseWatchesPending(t *testing.T) {
	_, stderr, err := execute(t, "run", filepath.Join(scenariosDir, "fetch_success.yaml"), "-v")
	require.NoError(t, err)
	assert.Contains(t, stderr, "pending operations: 1")
	assert.Contains(t, stderr, "pending operations: 0")
}

func TestRunScenarioFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing_entity.yaml")
	src := `name: missing_entity
steps:
  - upsert: { key: u1, attrs: { name: Ann } }
assertions:
  - type: entity
    key: u2
    expect: { name: Ann }
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	out, _, err := execute(t, "run", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var summary RunSummary
	resp := decode(t, out, &summary)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, summary.Pass)
	assert.NotEmpty(t, summary.Errors)
}

func TestRunScenarioNotFound(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestRunScenarioUnusableJournal(t *testing.T) {
	// A directory cannot be opened as a database file.
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "fetch_success.yaml"), "--db", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E010]")
}

func TestRunScenarioResumesExistingJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "statekit.db")

	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "fetch_all.yaml"), "--db", db, "--format", "json")
	require.NoError(t, err)
	var first RunSummary
	decode(t, out, &first)
	assert.Zero(t, first.ResumedAt)

	out, _, err = execute(t, "run", filepath.Join(scenariosDir, "reject_and_retry.yaml"), "--db", db, "--format", "json")
	require.NoError(t, err)
	var second RunSummary
	decode(t, out, &second)
	assert.True(t, second.Pass, "errors: %v", second.Errors)
	assert.Equal(t, first.Seq, second.ResumedAt)
	assert.Equal(t, first.Seq+int64(second.Notifications), second.Seq)
	assert.Equal(t, first.Entities+1, second.Entities, "u1 joins the entities of the first run")

	out, _, err = execute(t, "replay", "--db", db, "--format", "json")
	require.NoError(t, err)
	var replayed ReplaySummary
	decode(t, out, &replayed)
	assert.True(t, replayed.Verified)
	assert.Equal(t, second.Seq, replayed.Check.Seq)
	assert.Equal(t, second.Entities, replayed.Count)

	out, _, err = execute(t, "run", filepath.Join(scenariosDir, "fetch_success.yaml"), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("resumed after seq %d", second.Seq))
	_, _, err = execute(t, "replay", "--db", db)
	require.NoError(t, err)
}

func TestRunScenarioRefusesMismatchedJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tampered.db")
	j, err := journal.Open(db)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, journal.Event{Seq: 1, Kind: journal.KindUpsert, EntityKey: "u1", Payload: ir.Object{}}))
	require.NoError(t, j.Checkpoint(ctx, journal.Checkpoint{Seq: 1, Digest: "not-the-digest"}))
	require.NoError(t, j.Close())

	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "fetch_success.yaml"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, journal.ErrDigestMismatch)
	assert.Contains(t, out, "Error [E011]")

	events, err := func() ([]journal.Event, error) {
		j, err := journal.Open(db)
		if err != nil {
			return nil, err
		}
		defer j.Close()
		return j.Events(ctx, journal.Filter{})
	}()
	require.NoError(t, err)
	assert.Len(t, events, 1, "nothing is appended to a journal that fails verification")
}
