package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/persistence"
)

func testStoreConfig(dir string) config.Store {
	return config.Store{
		Dir:            dir,
		StalenessBound: 30 * 24 * time.Hour,
		KeepSnapshots:  3,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(testStoreConfig(t.TempDir()), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := models.NewRun(models.ModeInteractive, true)
	require.NoError(t, run.SetContext("problem_statement", "docs/problem_statement.md"))
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, models.ModeInteractive, loaded.Mode)
	assert.Equal(t, models.StageProblemFormulation, loaded.CurrentStage)

	value, ok := loaded.ContextValue("problem_statement")
	require.True(t, ok)
	assert.Equal(t, "docs/problem_statement.md", value)
}

func TestStore_LoadWithoutState(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background())

	assert.True(t, persistence.IsRunNotFound(err))
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	require.NoError(t, store.Save(context.Background(), models.NewRun(models.ModeAutonomous, false)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp-", "commit must rename the temp file away")
	}
}

func TestStore_SecondWriterIsLockedOut(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	first, err := New(testStoreConfig(dir), logger)
	require.NoError(t, err)

	defer first.Close(context.Background())

	_, err = New(testStoreConfig(dir), logger)
	require.Error(t, err)
	assert.True(t, persistence.IsStoreLocked(err))

	require.NoError(t, first.Close(context.Background()))

	second, err := New(testStoreConfig(dir), logger)
	require.NoError(t, err)
	require.NoError(t, second.Close(context.Background()))
}

func TestStore_CorruptStateWithoutSnapshotIsUnrecoverable(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.NewRun(models.ModeAutonomous, false)))

	// Simulate a truncated write from a crash.
	path := filepath.Join(dir, "state.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	_, err = store.Load(ctx)
	require.Error(t, err)
	assert.True(t, persistence.IsStoreCorrupt(err))
}

func TestStore_CorruptStateRestoresFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeAutonomous, false)
	require.NoError(t, store.Save(ctx, run))

	snapshotID, err := store.Snapshot(ctx, run)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o600))

	restored, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, run.ID, restored.ID)
	assert.Equal(t, snapshotID+".json", restored.RestoredFrom)
	require.NotNil(t, restored.RestoredAt)
}

func TestStore_SchemaRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	// Well-formed JSON that is not a run document.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(`{"id": "x"}`), 0o600))

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, persistence.IsStoreCorrupt(err))
}

func TestStore_MissingStateRestoresFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeAutonomous, false)
	require.NoError(t, store.Save(ctx, run))
	_, err = store.Snapshot(ctx, run)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "state.json")))

	restored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, restored.ID)
	assert.NotEmpty(t, restored.RestoredFrom)
}

func TestStore_SnapshotPruning(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeAutonomous, false)

	for i := 0; i < 6; i++ {
		_, err := store.Snapshot(ctx, run)
		require.NoError(t, err)
	}

	names, err := store.snapshotNames()
	require.NoError(t, err)
	assert.Len(t, names, 3, "retention keeps the newest KeepSnapshots copies")
}

// Snapshots are ordered by name, so IDs taken within the same second must
// still sort chronologically; otherwise recovery could restore the older
// state and pruning could delete the newer one.
func TestStore_SnapshotsWithinSameSecondOrderChronologically(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeAutonomous, false)

	first, err := store.Snapshot(ctx, run)
	require.NoError(t, err)

	require.NoError(t, run.SetContext("gap_analysis", "docs/gap_analysis.md"))

	second, err := store.Snapshot(ctx, run)
	require.NoError(t, err)

	assert.Greater(t, second, first, "later snapshot must sort after the earlier one")

	restored, err := store.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second+".json", restored.RestoredFrom)

	_, ok := restored.ContextValue("gap_analysis")
	assert.True(t, ok, "recovery must surface the newer state")
}

func TestStore_RestoreSkipsInvalidSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := New(testStoreConfig(dir), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)

	defer store.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeAutonomous, false)
	_, err = store.Snapshot(ctx, run)
	require.NoError(t, err)

	// A later, corrupt snapshot must be skipped in favor of the valid one.
	corrupt := filepath.Join(dir, "snapshots", "state_99990101T000000_ffffffff.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{broken"), 0o600))

	restored, err := store.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, restored.ID)
}

func TestStore_ReadOnlyDoesNotTakeTheLock(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	writer, err := New(testStoreConfig(dir), logger)
	require.NoError(t, err)

	defer writer.Close(context.Background())

	ctx := context.Background()
	run := models.NewRun(models.ModeInteractive, true)
	require.NoError(t, writer.Save(ctx, run))

	observer, err := NewReadOnly(testStoreConfig(dir), logger)
	require.NoError(t, err)

	loaded, err := observer.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)

	require.NoError(t, observer.Close(ctx))
}
