package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrCancelled        = errors.New("migration: cancelled")
	ErrChunkFailed      = errors.New("migration: chunk conversion failed")
	ErrValidationFailed = errors.New("migration: validation found inconsistent chunks")
)

// LoadedCounter сообщает число чанков, загруженных стримингом.
// Миграция отказывается стартовать, пока оно больше нуля.
type LoadedCounter interface {
	LoadedCount() int
}

// BatchHook вызывается после фиксации каждого пакета с копией отчёта
type BatchHook func(batch int, report *Report)

// RunObserver получает копию отчёта, когда прогон пришёл в конечное состояние
type RunObserver func(report *Report)

// Option настройка менеджера миграции
type Option func(*Manager)

// WithWorldLock задаёт общий с стримингом замок мира
func WithWorldLock(lock *storage.WorldLock) Option {
	return func(m *Manager) { m.lock = lock }
}

// WithLoadedCounter подключает проверку загруженных чанков
func WithLoadedCounter(lc LoadedCounter) Option {
	return func(m *Manager) { m.loaded = lc }
}

// WithBatchHook подписывает на завершение пакетов
func WithBatchHook(hook BatchHook) Option {
	return func(m *Manager) { m.hook = hook }
}

// WithRunObserver подписывает на завершение прогонов и откатов
func WithRunObserver(obs RunObserver) Option {
	return func(m *Manager) { m.observer = obs }
}

// WithRegisterer включает Prometheus-метрики миграции
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.reg = reg }
}

// Manager переводит мир из legacy-формата в enhanced пакетами,
// с резервной копией, проверкой и откатом
type Manager struct {
	layer    *storage.Layer
	cfg      Config
	lock     *storage.WorldLock
	loaded   LoadedCounter
	hook     BatchHook
	observer RunObserver
	reg      prometheus.Registerer
	metrics  *metrics
	logger   *logging.Logger

	progressMu sync.Mutex
	progress   Progress
}

// NewManager создаёт менеджер миграции
func NewManager(layer *storage.Layer, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration config: %w", err)
	}

	m := &Manager{
		layer:  layer,
		cfg:    cfg,
		lock:   storage.NewWorldLock(),
		logger: logging.GetMigrationLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.reg != nil {
		m.metrics = newMetrics(m.reg)
	}
	return m, nil
}

// Config возвращает настройки менеджера
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) checkLoaded() error {
	if m.loaded == nil {
		return nil
	}
	if n := m.loaded.LoadedCount(); n > 0 {
		return fmt.Errorf("%w: %d chunks loaded by streaming", storage.ErrLockConflict, n)
	}
	return nil
}

// acquire берёт исключительный замок мира. Повторная проверка после захвата
// закрывает окно, в котором стриминг успел загрузить чанк.
func (m *Manager) acquire(owner string) error {
	if err := m.checkLoaded(); err != nil {
		return err
	}
	if err := m.lock.TryLock(owner); err != nil {
		return err
	}
	if err := m.checkLoaded(); err != nil {
		m.lock.Unlock()
		return err
	}
	return nil
}

// MigrateWorld конвертирует все legacy-чанки в enhanced. Legacy-записи
// сохраняются. Возвращает отчёт и в случае провала ошибку
// (ErrCancelled, ErrChunkFailed, ErrValidationFailed или ошибку хранилища).
func (m *Manager) MigrateWorld(ctx context.Context) (*Report, error) {
	if err := m.acquire("migration"); err != nil {
		return nil, err
	}
	defer m.lock.Unlock()

	report := newReport(uuid.NewString(), m.cfg.CreateBackup)
	m.updateProgress(func(p *Progress) {
		*p = Progress{Phase: PhaseIdle, RunID: report.RunID}
	})
	m.logger.Info("🚚 Запуск миграции %s (batch_size=%d, backup=%v)", report.RunID, m.cfg.BatchSize, m.cfg.CreateBackup)

	keys, err := m.layer.Keys(ctx, chunk.FormatLegacy)
	if err != nil {
		return m.fail(ctx, report, fmt.Errorf("enumerate legacy chunks: %w", err))
	}
	report.ChunksScanned = len(keys)
	totalBatches := (len(keys) + m.cfg.BatchSize - 1) / m.cfg.BatchSize
	m.updateProgress(func(p *Progress) {
		p.TotalChunks = len(keys)
		p.TotalBatches = totalBatches
	})

	if err := m.persist(ctx, report, nil); err != nil {
		return m.fail(ctx, report, err)
	}

	converted := make([]chunk.Key, 0, len(keys))
	for batch := 0; batch < totalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return m.fail(ctx, report, fmt.Errorf("%w after %d batches: %v", ErrCancelled, report.Batches, err))
		}
		if batch > 0 && m.cfg.BatchDelay > 0 {
			select {
			case <-time.After(m.cfg.BatchDelay):
			case <-ctx.Done():
				return m.fail(ctx, report, fmt.Errorf("%w after %d batches: %v", ErrCancelled, report.Batches, ctx.Err()))
			}
		}

		lo := batch * m.cfg.BatchSize
		hi := min(lo+m.cfg.BatchSize, len(keys))
		done, err := m.migrateBatch(ctx, report, batch, keys[lo:hi])
		if err != nil {
			return m.fail(ctx, report, err)
		}
		converted = append(converted, done...)

		if m.hook != nil {
			m.hook(batch, report.clone())
		}
	}

	if m.cfg.ValidateAfterMigration && len(converted) > 0 {
		if err := report.transition(OutcomeValidating); err != nil {
			return m.fail(ctx, report, err)
		}
		m.setPhase(PhaseValidating)
		if err := m.persist(ctx, report, nil); err != nil {
			return m.fail(ctx, report, err)
		}

		summary, err := m.validateKeys(ctx, sampleKeys(converted, m.cfg.ValidationSampleRate))
		report.Validation = summary
		if err != nil {
			return m.fail(ctx, report, fmt.Errorf("validation: %w", err))
		}
		if !summary.Passed() {
			return m.fail(ctx, report, fmt.Errorf("%w: %d divergent, %d missing, %d errors of %d sampled",
				ErrValidationFailed, summary.Divergent, summary.Missing, summary.Errors, summary.Sampled))
		}
		m.logger.Info("✅ Проверка прогона %s пройдена: %d чанков согласованы", report.RunID, summary.Consistent)
	}

	return m.complete(ctx, report)
}

// chunkError ошибка конкретного чанка; в отличие от ошибок хранилища
// не обязательно прерывает прогон
type chunkError struct {
	key chunk.Key
	err error
}

func (e *chunkError) Error() string { return fmt.Sprintf("chunk %s: %v", e.key, e.err) }
func (e *chunkError) Unwrap() error { return e.err }

// convert читает legacy-запись и возвращает готовую enhanced-запись
func (m *Manager) convert(ctx context.Context, key chunk.Key) ([]byte, error) {
	raw, err := m.layer.ReadRaw(ctx, key, chunk.FormatLegacy)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &chunkError{key: key, err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	rec, err := storage.UnmarshalRecord(raw)
	if err != nil {
		return nil, &chunkError{key: key, err: err}
	}
	if rec.Format != chunk.FormatLegacy {
		return nil, &chunkError{key: key, err: fmt.Errorf("%w: legacy slot holds %s record", storage.ErrCorruptRecord, rec.Format)}
	}
	c, err := rec.Decode(key)
	if err != nil {
		return nil, &chunkError{key: key, err: err}
	}
	out, err := storage.EncodeRecord(c, chunk.FormatEnhanced)
	if err != nil {
		return nil, &chunkError{key: key, err: err}
	}
	return out.Marshal(), nil
}

// migrateBatch снимает копии, конвертирует и фиксирует пакет одной
// атомарной записью вместе с обновлённым отчётом
func (m *Manager) migrateBatch(ctx context.Context, report *Report, batch int, keys []chunk.Key) ([]chunk.Key, error) {
	start := time.Now()
	next := report.clone()
	var muts []storage.Mutation

	if m.cfg.CreateBackup {
		m.updateProgress(func(p *Progress) {
			p.Phase = PhaseBackingUp
			p.CurrentBatch = batch + 1
		})
		for _, key := range keys {
			mut, fresh, err := snapshot(ctx, m.layer, next.RunID, key)
			if err != nil {
				return nil, err
			}
			if fresh {
				muts = append(muts, mut)
				next.BackupEntries++
			}
		}
	}

	m.updateProgress(func(p *Progress) {
		p.Phase = PhaseConverting
		p.CurrentBatch = batch + 1
	})

	converted := make([]chunk.Key, 0, len(keys))
	for _, key := range keys {
		data, err := m.convert(ctx, key)
		if err != nil {
			var ce *chunkError
			if !errors.As(err, &ce) {
				return nil, err
			}
			if m.cfg.FailOnChunkError {
				// Пакет не фиксируется, в отчёт попадает только причина
				report.recordFailure(key.String(), ce.err.Error())
				return nil, fmt.Errorf("%w: %w", ErrChunkFailed, err)
			}
			m.logger.Warn("⚠️ Чанк %s пропущен: %v", key, ce.err)
			next.recordFailure(key.String(), ce.err.Error())
			continue
		}
		muts = append(muts, storage.Put(storage.RecordKey(key, chunk.FormatEnhanced), data))
		converted = append(converted, key)
	}

	next.ChunksConverted += len(converted)
	next.Batches++
	reportMuts, err := next.mutations()
	if err != nil {
		return nil, err
	}
	muts = append(muts, reportMuts...)

	if err := m.layer.Apply(ctx, keys, muts); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w in batch %d: %v", ErrCancelled, batch+1, ctx.Err())
		}
		return nil, fmt.Errorf("commit batch %d: %w", batch+1, err)
	}
	*report = *next

	failed := len(keys) - len(converted)
	m.updateProgress(func(p *Progress) {
		p.Processed += len(keys)
		p.Converted += len(converted)
		p.Failed += failed
	})
	if m.metrics != nil {
		m.metrics.observeBatch(time.Since(start), len(converted), failed)
	}
	m.logger.Debug("Пакет %d: %d сконвертировано, %d с ошибкой за %v", batch+1, len(converted), failed, time.Since(start))
	return converted, nil
}

// persist сохраняет отчёт и указатель на последний прогон
func (m *Manager) persist(ctx context.Context, report *Report, extra []storage.Mutation) error {
	muts, err := report.mutations()
	if err != nil {
		return err
	}
	muts = append(muts, extra...)
	if err := m.layer.Store().Apply(ctx, muts); err != nil {
		return fmt.Errorf("save migration report: %w", err)
	}
	return nil
}

func (m *Manager) complete(ctx context.Context, report *Report) (*Report, error) {
	next := report.clone()
	var extra []storage.Mutation
	if m.cfg.DiscardBackupOnSuccess && next.BackupEnabled {
		manifest, err := LoadManifest(ctx, m.layer.Store(), next.RunID)
		if err != nil {
			m.logger.Warn("Не удалось прочитать манифест %s, копия сохранена: %v", next.RunID, err)
		} else {
			extra = manifest.discardMutations()
			next.BackupDiscarded = true
		}
	}

	if err := next.transition(OutcomeCompleted); err != nil {
		return m.fail(ctx, report, err)
	}
	if err := m.persist(ctx, next, extra); err != nil {
		return m.fail(ctx, report, err)
	}
	*report = *next

	m.setPhase(PhaseCompleted)
	m.finishRun(ctx, report)
	if m.metrics != nil {
		m.metrics.observeRun(report)
	}
	m.logger.Info("🎉 Миграция %s завершена: %d из %d чанков, %d с ошибкой, %d пакетов за %v",
		report.RunID, report.ChunksConverted, report.ChunksScanned, report.ChunksFailed, report.Batches, report.Duration())
	return report.clone(), nil
}

// fail закрывает прогон как failed. Завершённые пакеты остаются в хранилище.
func (m *Manager) fail(ctx context.Context, report *Report, cause error) (*Report, error) {
	ctx = context.WithoutCancel(ctx)

	report.FailureReason = cause.Error()
	if err := report.transition(OutcomeFailed); err != nil {
		return report.clone(), multierror.Append(cause, err)
	}
	m.setPhase(PhaseFailed)
	if err := m.persist(ctx, report, nil); err != nil {
		m.logger.Error("Не удалось сохранить отчёт прогона %s: %v", report.RunID, err)
	}
	m.logger.Error("❌ Миграция %s провалена: %v", report.RunID, cause)
	if m.metrics != nil {
		m.metrics.observeRun(report)
	}

	if m.cfg.AutoRollback && report.BackupEnabled {
		m.logger.Warn("↩️ Автоматический откат прогона %s", report.RunID)
		if _, err := m.rollbackLocked(ctx, report); err != nil {
			cause = multierror.Append(cause, fmt.Errorf("auto rollback: %w", err))
		}
	}

	// Успешный автооткат уже закрыл прогон
	if report.Outcome == OutcomeFailed {
		m.finishRun(ctx, report)
	}
	return report.clone(), cause
}

// finishRun отмечает прогон в метаданных мира и оповещает наблюдателя
func (m *Manager) finishRun(ctx context.Context, report *Report) {
	if err := m.updateMetadata(ctx, report); err != nil {
		m.logger.Warn("Не удалось обновить метаданные мира: %v", err)
	}
	if m.observer != nil {
		m.observer(report.clone())
	}
}

func (m *Manager) updateMetadata(ctx context.Context, report *Report) error {
	meta, err := m.layer.RefreshMetadata(ctx)
	if err != nil {
		return err
	}
	meta.LastMigrationRun = report.RunID
	meta.LastMigrationOutcome = string(report.Outcome)
	mut, err := meta.Mutation()
	if err != nil {
		return err
	}
	return m.layer.Store().Apply(ctx, []storage.Mutation{mut})
}
