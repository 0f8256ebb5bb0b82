package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedStore переживает закрытие командой, чтобы следующие вызовы видели данные
type sharedStore struct{ storage.KVStore }

func (sharedStore) Close() error { return nil }

type ctlWorld struct {
	t     *testing.T
	store *storage.MemoryStore
	layer *storage.Layer
}

func newCtlWorld(t *testing.T) *ctlWorld {
	t.Helper()
	t.Setenv("WORLD_CONFIG", "")
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return &ctlWorld{t: t, store: store, layer: storage.NewLayer(store)}
}

func (w *ctlWorld) run(args ...string) (int, string) {
	w.t.Helper()
	app := newApp(func(*config.Config) (storage.KVStore, error) {
		return sharedStore{w.store}, nil
	})
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"worldctl", "--log-level", "error"}, args...))
	return exitCodeOf(err), out.String()
}

func (w *ctlWorld) save(key chunk.Key, block chunk.BlockID, mode storage.WriteMode) {
	w.t.Helper()
	c := chunk.New(key)
	c.SetBlock(0, 0, 0, block)
	c.SetHeight(0, 0, 1)
	require.NoError(w.t, w.layer.Save(context.Background(), key, c, mode))
}

func (w *ctlWorld) has(key chunk.Key, format chunk.Format) bool {
	w.t.Helper()
	ok, err := w.layer.HasRecord(context.Background(), key, format)
	require.NoError(w.t, err)
	return ok
}

var (
	keyA = chunk.NewKey(chunk.Overworld, 0, 0)
	keyB = chunk.NewKey(chunk.Overworld, 0, 1)
)

func TestWorldctl_MigrateReportRollback(t *testing.T) {
	w := newCtlWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)

	code, out := w.run("migrate-world", "--batch-size", "1")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "completed")
	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
	assert.True(t, w.has(keyB, chunk.FormatEnhanced))

	code, out = w.run("--json", "report")
	require.Equal(t, ExitOK, code)
	var report migration.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, migration.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Batches)

	code, _ = w.run("validate-world")
	assert.Equal(t, ExitOK, code)

	code, out = w.run("rollback-migration", "--run", report.RunID)
	require.Equal(t, ExitOK, code, out)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))
	assert.True(t, w.has(keyA, chunk.FormatLegacy))

	code, out = w.run("report", "--run", report.RunID)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "rolled_back")

	// Повторный откат безопасен
	code, _ = w.run("rollback-migration")
	assert.Equal(t, ExitOK, code)
}

func TestWorldctl_MigratePlan(t *testing.T) {
	w := newCtlWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)

	code, out := w.run("--json", "migrate-world", "--plan")
	require.Equal(t, ExitOK, code)
	var rec migration.Recommendations
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.True(t, rec.NeedsMigration)
	assert.Equal(t, 1, rec.PendingChunks)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))
}

func TestWorldctl_ValidateAndRepairDivergence(t *testing.T) {
	w := newCtlWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyA, chunk.SandBlockID, storage.WriteEnhanced)

	code, out := w.run("validate-world")
	assert.Equal(t, ExitValidationFailed, code)
	assert.Contains(t, out, keyA.String())

	code, out = w.run("repair-world", "--dry-run")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "будет исправлено 1")

	code, _ = w.run("validate-world")
	assert.Equal(t, ExitValidationFailed, code, "dry run must not change records")

	code, _ = w.run("repair-world")
	require.Equal(t, ExitOK, code)

	code, _ = w.run("validate-world")
	assert.Equal(t, ExitOK, code)
}

func TestWorldctl_RollbackWithoutRuns(t *testing.T) {
	w := newCtlWorld(t)
	code, _ := w.run("rollback-migration")
	assert.Equal(t, ExitUsage, code)

	code, _ = w.run("report", "--run", "missing")
	assert.Equal(t, ExitUsage, code)
}

func TestWorldctl_RollbackWithoutBackup(t *testing.T) {
	w := newCtlWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)

	code, _ := w.run("migrate-world", "--no-backup")
	require.Equal(t, ExitOK, code)

	code, _ = w.run("rollback-migration")
	assert.Equal(t, ExitRollbackFailed, code)
	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
}

func TestWorldctl_UsageErrors(t *testing.T) {
	w := newCtlWorld(t)

	code, _ := w.run("migrate-world", "--no-such-flag")
	assert.Equal(t, ExitUsage, code)

	code, _ = w.run("migrate-world", "--batch-size", "0")
	assert.Equal(t, ExitUsage, code)

	code, _ = w.run("--config", "/nonexistent/world.yaml", "validate-world")
	assert.Equal(t, ExitUsage, code)

	code, _ = w.run("validate-world", "--sample-rate", "2")
	assert.Equal(t, ExitUsage, code)
}

func TestWorldctl_StoreErrors(t *testing.T) {
	t.Setenv("WORLD_CONFIG", "")
	cases := map[string]struct {
		err  error
		want int
	}{
		"locked":  {fmt.Errorf("%w: held by server", storage.ErrLockConflict), ExitLockConflict},
		"storage": {errors.New("disk on fire"), ExitStorage},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := newApp(func(*config.Config) (storage.KVStore, error) { return nil, tc.err })
			app.Writer = &bytes.Buffer{}
			app.ErrWriter = &bytes.Buffer{}
			err := app.Run([]string{"worldctl", "--log-level", "error", "migrate-world"})
			assert.Equal(t, tc.want, exitCodeOf(err))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("x: %w", storage.ErrWorldLocked), ExitLockConflict},
		{fmt.Errorf("%w: %w", migration.ErrRollbackFailed, errors.New("disk")), ExitRollbackFailed},
		{migration.ErrNoBackup, ExitRollbackFailed},
		{fmt.Errorf("%w: 1 divergent", migration.ErrValidationFailed), ExitValidationFailed},
		{fmt.Errorf("%w after 1 batches", migration.ErrCancelled), ExitMigrationFailed},
		{migration.ErrChunkFailed, ExitMigrationFailed},
		{storage.ErrCorruptRecord, ExitStorage},
		{errors.New("other"), ExitMigrationFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.err, ExitMigrationFailed), fmt.Sprint(tc.err))
	}
}
