package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.BatchDelay = 0
	cfg.ValidationSampleRate = 1
	return cfg
}

func testChunk(key chunk.Key, block chunk.BlockID) *chunk.Chunk {
	c := chunk.New(key)
	for x := 0; x < chunk.SectionSize; x++ {
		for z := 0; z < chunk.SectionSize; z++ {
			c.SetBlock(x, 0, z, block)
			c.SetHeight(x, z, 1)
			c.SetBiome(x, z, chunk.BiomeID((x+z)%4))
		}
	}
	return c
}

type testWorld struct {
	t     *testing.T
	ctx   context.Context
	store *storage.MemoryStore
	layer *storage.Layer
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return &testWorld{t: t, ctx: context.Background(), store: store, layer: storage.NewLayer(store)}
}

func (w *testWorld) manager(cfg Config, opts ...Option) *Manager {
	w.t.Helper()
	m, err := NewManager(w.layer, cfg, opts...)
	require.NoError(w.t, err)
	return m
}

func (w *testWorld) save(key chunk.Key, block chunk.BlockID, mode storage.WriteMode) {
	w.t.Helper()
	require.NoError(w.t, w.layer.Save(w.ctx, key, testChunk(key, block), mode))
}

// saveUnsupported пишет legacy-запись с биомом вне enhanced-диапазона
func (w *testWorld) saveUnsupported(key chunk.Key) {
	w.t.Helper()
	lc := &chunk.LegacyChunk{Biomes: chunk.LegacyBiomes{Encoding: chunk.BiomeSingle, Single: 1000}}
	data, err := lc.MarshalBinary()
	require.NoError(w.t, err)
	rec, err := storage.NewRecord(chunk.FormatLegacy, data)
	require.NoError(w.t, err)
	w.put(storage.RecordKey(key, chunk.FormatLegacy), rec.Marshal())
}

func (w *testWorld) raw(key chunk.Key, format chunk.Format) []byte {
	w.t.Helper()
	data, err := w.store.Get(w.ctx, storage.RecordKey(key, format))
	require.NoError(w.t, err)
	return data
}

func (w *testWorld) has(key chunk.Key, format chunk.Format) bool {
	w.t.Helper()
	ok, err := w.layer.HasRecord(w.ctx, key, format)
	require.NoError(w.t, err)
	return ok
}

func (w *testWorld) put(k string, v []byte) {
	w.t.Helper()
	require.NoError(w.t, w.store.Apply(w.ctx, []storage.Mutation{storage.Put(k, v)}))
}

func (w *testWorld) corrupt(key chunk.Key, format chunk.Format) {
	w.t.Helper()
	data := w.raw(key, format)
	data[len(data)-1] ^= 0xFF
	w.put(storage.RecordKey(key, format), data)
}

type fakeLoaded struct{ n int }

func (f fakeLoaded) LoadedCount() int { return f.n }

var (
	keyA = chunk.NewKey(chunk.Overworld, 0, 0)
	keyB = chunk.NewKey(chunk.Overworld, 0, 1)
	keyC = chunk.NewKey(chunk.Overworld, 1, 0)
)

func TestMigrateWorld_TwoKeysWithBackup(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)
	legacyA := w.raw(keyA, chunk.FormatLegacy)

	var batches []int
	reg := prometheus.NewRegistry()
	m := w.manager(testConfig(),
		WithRegisterer(reg),
		WithBatchHook(func(batch int, r *Report) { batches = append(batches, batch) }),
	)

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.ChunksScanned)
	assert.Equal(t, 2, report.ChunksConverted)
	assert.Zero(t, report.ChunksFailed)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 2, report.BackupEntries)
	assert.Equal(t, []int{0, 1}, batches)
	require.NotNil(t, report.Validation)
	assert.Equal(t, 2, report.Validation.Consistent)
	assert.False(t, report.FinishedAt.IsZero())

	manifest, err := LoadManifest(w.ctx, w.store, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Len())
	assert.Equal(t, []chunk.Key{keyA, keyB}, manifest.Keys())
	assert.Equal(t, legacyA, manifest.Entries[keyA].Legacy)
	assert.False(t, manifest.Entries[keyA].HasEnhanced())

	// Legacy сохранены, enhanced совпадают по содержимому
	assert.Equal(t, legacyA, w.raw(keyA, chunk.FormatLegacy))
	for _, key := range []chunk.Key{keyA, keyB} {
		rep, err := w.layer.ValidateConsistency(w.ctx, key)
		require.NoError(t, err)
		assert.True(t, rep.OK(), key.String())
	}

	latest, err := LatestReport(w.ctx, w.store)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, latest.RunID)
	assert.Equal(t, OutcomeCompleted, latest.Outcome)

	meta, err := w.layer.LoadMetadata(w.ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.WorldHybrid, meta.Format)
	assert.Equal(t, report.RunID, meta.LastMigrationRun)
	assert.Equal(t, "completed", meta.LastMigrationOutcome)

	progress := m.Progress()
	assert.Equal(t, PhaseCompleted, progress.Phase)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 2, progress.TotalBatches)
	assert.InDelta(t, 100, progress.Percent(), 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.chunks.WithLabelValues("converted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.runs.WithLabelValues("completed")))
}

func TestRollback_RestoresOriginalRecords(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	// keyB уже имел enhanced-запись с другим содержимым
	w.save(keyB, chunk.SandBlockID, storage.WriteBoth)
	w.save(keyB, chunk.DirtBlockID, storage.WriteLegacy)

	legacyA := w.raw(keyA, chunk.FormatLegacy)
	legacyB := w.raw(keyB, chunk.FormatLegacy)
	enhancedB := w.raw(keyB, chunk.FormatEnhanced)

	cfg := testConfig()
	cfg.ValidateAfterMigration = false
	m := w.manager(cfg)

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, report.Outcome)
	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
	assert.NotEqual(t, enhancedB, w.raw(keyB, chunk.FormatEnhanced))

	rr, err := m.Rollback(w.ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 2, rr.Entries)
	assert.Equal(t, 2, rr.Restored)
	assert.Equal(t, OutcomeRolledBack, rr.Outcome)
	assert.Equal(t, OutcomeRolledBack, report.Outcome)

	assert.Equal(t, legacyA, w.raw(keyA, chunk.FormatLegacy))
	assert.Equal(t, legacyB, w.raw(keyB, chunk.FormatLegacy))
	assert.Equal(t, enhancedB, w.raw(keyB, chunk.FormatEnhanced))
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))

	// Запись после отката переживает повторный откат
	w.save(keyA, chunk.GrassBlockID, storage.WriteBoth)
	savedLegacyA := w.raw(keyA, chunk.FormatLegacy)
	savedEnhancedA := w.raw(keyA, chunk.FormatEnhanced)

	rr, err = m.Rollback(w.ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Restored)
	assert.Equal(t, OutcomeRolledBack, rr.Outcome)
	assert.Equal(t, savedLegacyA, w.raw(keyA, chunk.FormatLegacy))
	assert.Equal(t, savedEnhancedA, w.raw(keyA, chunk.FormatEnhanced))
	assert.Equal(t, enhancedB, w.raw(keyB, chunk.FormatEnhanced))

	stored, err := LoadReport(w.ctx, w.store, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRolledBack, stored.Outcome)
	assert.Equal(t, PhaseRolledBack, m.Progress().Phase)
}

func TestRollback_RepeatKeepsNewerRun(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	cfg := testConfig()
	cfg.ValidateAfterMigration = false
	m := w.manager(cfg)

	first, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	_, err = m.RollbackRun(w.ctx, first.RunID)
	require.NoError(t, err)
	require.False(t, w.has(keyA, chunk.FormatEnhanced))

	second, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, second.Outcome)
	require.NotEqual(t, first.RunID, second.RunID)
	enhancedA := w.raw(keyA, chunk.FormatEnhanced)

	rr, err := m.RollbackRun(w.ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Restored)
	assert.Equal(t, enhancedA, w.raw(keyA, chunk.FormatEnhanced))

	latest, err := LatestReport(w.ctx, w.store)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
	assert.Equal(t, OutcomeCompleted, latest.Outcome)
}

func TestRollbackRun_ByID(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	m := w.manager(testConfig())

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)

	rr, err := m.RollbackRun(w.ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Restored)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))

	_, err = m.RollbackRun(w.ctx, "missing-run")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRollback_WithoutBackup(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)

	cfg := testConfig()
	cfg.CreateBackup = false
	m := w.manager(cfg)

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.BackupEntries)

	_, err = m.Rollback(w.ctx, report)
	assert.ErrorIs(t, err, ErrNoBackup)
	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
}

func TestMigrateWorld_DiscardBackupOnSuccess(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)

	cfg := testConfig()
	cfg.DiscardBackupOnSuccess = true
	m := w.manager(cfg)

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	assert.True(t, report.BackupDiscarded)

	manifest, err := LoadManifest(w.ctx, w.store, report.RunID)
	require.NoError(t, err)
	assert.Zero(t, manifest.Len())

	_, err = m.Rollback(w.ctx, report)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestMigrateWorld_UnsupportedPalettePartialSuccess(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.saveUnsupported(keyB)
	w.save(keyC, chunk.GrassBlockID, storage.WriteLegacy)

	m := w.manager(testConfig())
	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 3, report.ChunksScanned)
	assert.Equal(t, 2, report.ChunksConverted)
	assert.Equal(t, 1, report.ChunksFailed)
	require.Len(t, report.FailedKeys, 1)
	assert.Equal(t, keyB.String(), report.FailedKeys[0].Key)
	assert.NotEmpty(t, report.FailedKeys[0].Reason)

	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
	assert.False(t, w.has(keyB, chunk.FormatEnhanced))
	assert.True(t, w.has(keyC, chunk.FormatEnhanced))
	assert.True(t, w.has(keyB, chunk.FormatLegacy))
}

func TestMigrateWorld_FailOnChunkErrorAborts(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.saveUnsupported(keyB)
	w.save(keyC, chunk.GrassBlockID, storage.WriteLegacy)

	cfg := testConfig()
	cfg.FailOnChunkError = true
	m := w.manager(cfg)

	report, err := m.MigrateWorld(w.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkFailed)
	assert.ErrorIs(t, err, chunk.ErrUnsupportedBiomePalette)
	require.NotNil(t, report)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, report.ChunksConverted)
	assert.Equal(t, 1, report.ChunksFailed)
	assert.NotEmpty(t, report.FailureReason)

	// Завершённый пакет остаётся, дальше прогон не пошёл
	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
	assert.False(t, w.has(keyB, chunk.FormatEnhanced))
	assert.False(t, w.has(keyC, chunk.FormatEnhanced))

	stored, err := LatestReport(w.ctx, w.store)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, stored.Outcome)

	// Оператор откатывает неудавшийся прогон
	rr, err := m.Rollback(w.ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Restored)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))
}

func TestMigrateWorld_LockConflict(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)

	m := w.manager(testConfig(), WithLoadedCounter(fakeLoaded{n: 3}))
	report, err := m.MigrateWorld(w.ctx)
	assert.ErrorIs(t, err, storage.ErrLockConflict)
	assert.Nil(t, report)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))

	lock := storage.NewWorldLock()
	require.NoError(t, lock.TryLock("other"))
	m = w.manager(testConfig(), WithWorldLock(lock))
	_, err = m.MigrateWorld(w.ctx)
	assert.ErrorIs(t, err, storage.ErrLockConflict)

	lock.Unlock()
	report, err = m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)

	// Замок отпущен после прогона
	require.NoError(t, lock.TryRLock())
	lock.RUnlock()
}

func tamperHook(w *testWorld, target chunk.Key) BatchHook {
	return func(batch int, r *Report) {
		rec, err := storage.EncodeRecord(testChunk(target, chunk.WaterBlockID), chunk.FormatEnhanced)
		require.NoError(w.t, err)
		w.put(storage.RecordKey(target, chunk.FormatEnhanced), rec.Marshal())
	}
}

func TestMigrateWorld_ValidationDivergence(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)

	m := w.manager(testConfig(), WithBatchHook(tamperHook(w, keyA)))
	report, err := m.MigrateWorld(w.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	require.NotNil(t, report.Validation)
	assert.Equal(t, 1, report.Validation.Divergent)
	assert.Equal(t, 1, report.Validation.Consistent)
	assert.Len(t, report.Validation.Issues, 1)

	// Все пакеты записаны, копии сохранены для отката
	assert.Equal(t, 2, report.ChunksConverted)
	manifest, err := LoadManifest(w.ctx, w.store, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Len())
}

func TestMigrateWorld_AutoRollback(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	legacyA := w.raw(keyA, chunk.FormatLegacy)

	cfg := testConfig()
	cfg.AutoRollback = true
	var observed []Outcome
	m := w.manager(cfg,
		WithBatchHook(tamperHook(w, keyA)),
		WithRunObserver(func(r *Report) { observed = append(observed, r.Outcome) }),
	)

	report, err := m.MigrateWorld(w.ctx)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, OutcomeRolledBack, report.Outcome)
	assert.Equal(t, []Outcome{OutcomeRolledBack}, observed)
	assert.False(t, w.has(keyA, chunk.FormatEnhanced))
	assert.Equal(t, legacyA, w.raw(keyA, chunk.FormatLegacy))
}

func TestMigrateWorld_CancelAtBatchBoundary(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)
	w.save(keyC, chunk.SandBlockID, storage.WriteLegacy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := w.manager(testConfig(), WithBatchHook(func(batch int, r *Report) {
		if batch == 0 {
			cancel()
		}
	}))

	report, err := m.MigrateWorld(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, 1, report.Batches)

	assert.True(t, w.has(keyA, chunk.FormatEnhanced))
	assert.False(t, w.has(keyB, chunk.FormatEnhanced))
	assert.False(t, w.has(keyC, chunk.FormatEnhanced))

	stored, err := LoadReport(w.ctx, w.store, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, stored.Outcome)
	assert.Equal(t, 1, stored.Batches)
}

func TestMigrateWorld_EmptyWorld(t *testing.T) {
	w := newTestWorld(t)
	m := w.manager(testConfig())

	report, err := m.MigrateWorld(w.ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Zero(t, report.ChunksScanned)
	assert.Nil(t, report.Validation)
}

func TestRepair_DryRunAndApply(t *testing.T) {
	w := newTestWorld(t)
	// keyA: legacy расходится с enhanced
	w.save(keyA, chunk.StoneBlockID, storage.WriteBoth)
	w.save(keyA, chunk.DirtBlockID, storage.WriteLegacy)
	// keyB: повреждена enhanced-запись
	w.save(keyB, chunk.GrassBlockID, storage.WriteBoth)
	w.corrupt(keyB, chunk.FormatEnhanced)
	// keyC: повреждены обе
	w.save(keyC, chunk.SandBlockID, storage.WriteBoth)
	w.corrupt(keyC, chunk.FormatLegacy)
	w.corrupt(keyC, chunk.FormatEnhanced)

	m := w.manager(testConfig())

	dry, err := m.Repair(w.ctx, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.Scanned)
	require.Len(t, dry.Actions, 2)
	assert.Equal(t, keyA.String(), dry.Actions[0].Key)
	assert.Equal(t, chunk.FormatEnhanced, dry.Actions[0].From)
	assert.Equal(t, chunk.FormatLegacy, dry.Actions[0].To)
	assert.Equal(t, keyB.String(), dry.Actions[1].Key)
	assert.Equal(t, chunk.FormatLegacy, dry.Actions[1].From)
	require.Len(t, dry.Unrepairable, 1)
	assert.Equal(t, keyC.String(), dry.Unrepairable[0].Key)
	assert.Zero(t, dry.Repaired)

	rep, err := w.layer.ValidateConsistency(w.ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, storage.ConsistencyDivergent, rep.Status)

	applied, err := m.Repair(w.ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, applied.Repaired)
	for _, key := range []chunk.Key{keyA, keyB} {
		rep, err := w.layer.ValidateConsistency(w.ctx, key)
		require.NoError(t, err)
		assert.True(t, rep.OK(), key.String())
	}

	// Enhanced авторитетен: keyA снова камень
	c, _, err := w.layer.Load(w.ctx, keyA, chunk.FormatLegacy)
	require.NoError(t, err)
	assert.Equal(t, chunk.StoneBlockID, c.Block(0, 0, 0))
}

func TestValidateWorld(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteBoth)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)
	w.save(keyC, chunk.SandBlockID, storage.WriteLegacy)
	w.corrupt(keyC, chunk.FormatLegacy)

	m := w.manager(testConfig())
	v, err := m.ValidateWorld(w.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Consistent)
	assert.Equal(t, 1, v.SingleFormat)
	assert.Equal(t, 1, v.Errors)
	assert.Equal(t, 3, v.Sampled)
	assert.False(t, v.Passed())

	_, err = m.ValidateWorld(w.ctx, 0)
	assert.Error(t, err)
}

func TestRecommend(t *testing.T) {
	w := newTestWorld(t)
	w.save(keyA, chunk.StoneBlockID, storage.WriteLegacy)
	w.save(keyB, chunk.GrassBlockID, storage.WriteLegacy)
	w.save(keyC, chunk.SandBlockID, storage.WriteBoth)

	m := w.manager(testConfig())
	rec, err := m.Recommend(w.ctx)
	require.NoError(t, err)
	assert.True(t, rec.NeedsMigration)
	assert.Equal(t, 2, rec.PendingChunks)
	assert.Equal(t, 3, rec.TotalChunks)
	assert.Equal(t, "hybrid", rec.WorldFormat)
	assert.Equal(t, 50, rec.RecommendedBatchSize)
	assert.Positive(t, rec.EstimatedDiskBytes)
}

func TestOutcomeTransitions(t *testing.T) {
	r := newReport("run", true)
	require.NoError(t, r.transition(OutcomeValidating))
	assert.ErrorIs(t, r.transition(OutcomeRunning), ErrInvalidTransition)
	require.NoError(t, r.transition(OutcomeCompleted))
	assert.False(t, r.FinishedAt.IsZero())
	assert.ErrorIs(t, r.transition(OutcomeFailed), ErrInvalidTransition)
	require.NoError(t, r.transition(OutcomeRolledBack))
	assert.True(t, r.Outcome.Terminal())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ValidationSampleRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CreateBackup = false
	cfg.AutoRollback = true
	assert.Error(t, cfg.Validate())
}

func TestSampleKeys(t *testing.T) {
	keys := []chunk.Key{keyA, keyB, keyC}
	assert.Len(t, sampleKeys(keys, 0.01), 1)
	assert.Equal(t, keys, sampleKeys(keys, 1))
	sample := sampleKeys(keys, 0.5)
	assert.Len(t, sample, 2)
	assert.True(t, sample[0].Less(sample[1]))
	assert.Nil(t, sampleKeys(nil, 1))
}

func TestChunkError_Unwraps(t *testing.T) {
	err := error(&chunkError{key: keyA, err: chunk.ErrTruncated})
	assert.True(t, errors.Is(err, chunk.ErrTruncated))
	assert.Contains(t, err.Error(), keyA.String())
}
