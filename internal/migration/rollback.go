package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/hashicorp/go-multierror"
)

var ErrRollbackFailed = errors.New("migration: rollback incomplete")

// RollbackReport итог отката прогона
type RollbackReport struct {
	RunID    string   `json:"run_id"`
	Entries  int      `json:"entries"`
	Restored int      `json:"restored"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Outcome  Outcome  `json:"outcome"`
}

func restoreMutation(key chunk.Key, format chunk.Format, snapshot []byte) storage.Mutation {
	recordKey := storage.RecordKey(key, format)
	if snapshot == nil {
		return storage.Del(recordKey)
	}
	return storage.Put(recordKey, snapshot)
}

// Rollback восстанавливает записи всех чанков из манифеста прогона:
// legacy побайтно, enhanced из снимка либо удаляется, если его не было.
// Откат уже откаченного прогона ничего не пишет. Если в хранилище есть более
// свежий отчёт прогона, используется он, а переданный отчёт обновляется
// итоговым состоянием. Указатель на последний прогон не меняется.
func (m *Manager) Rollback(ctx context.Context, report *Report) (*RollbackReport, error) {
	if report == nil {
		return nil, errors.New("migration: rollback requires a report")
	}
	if err := m.acquire("rollback"); err != nil {
		return nil, err
	}
	defer m.lock.Unlock()

	stored, err := LoadReport(ctx, m.layer.Store(), report.RunID)
	switch {
	case err == nil:
		*report = *stored
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	return m.rollbackLocked(ctx, report)
}

// RollbackRun откатывает прогон по идентификатору
func (m *Manager) RollbackRun(ctx context.Context, runID string) (*RollbackReport, error) {
	report, err := LoadReport(ctx, m.layer.Store(), runID)
	if err != nil {
		return nil, err
	}
	return m.Rollback(ctx, report)
}

func (m *Manager) rollbackLocked(ctx context.Context, report *Report) (*RollbackReport, error) {
	// Снимки манифеста старше записей, сделанных после первого отката
	if report.Outcome == OutcomeRolledBack {
		m.logger.Info("Прогон %s уже откачен, пропускаем", report.RunID)
		return &RollbackReport{RunID: report.RunID, Outcome: report.Outcome}, nil
	}
	if !report.BackupEnabled {
		return nil, fmt.Errorf("%w %s: backup was disabled", ErrNoBackup, report.RunID)
	}
	if report.BackupDiscarded {
		return nil, fmt.Errorf("%w %s: backup discarded after success", ErrNoBackup, report.RunID)
	}

	// Незавершённый прогон (процесс остановлен посреди работы) закрывается как failed
	if !report.Outcome.Terminal() {
		report.FailureReason = "interrupted"
		if err := report.transition(OutcomeFailed); err != nil {
			return nil, err
		}
	}

	manifest, err := LoadManifest(ctx, m.layer.Store(), report.RunID)
	if err != nil {
		return nil, err
	}
	if manifest.Len() == 0 && report.BackupEntries > 0 {
		return nil, fmt.Errorf("%w %s: manifest is empty, expected %d entries", ErrNoBackup, report.RunID, report.BackupEntries)
	}

	m.setPhase(PhaseRollingBack)
	m.logger.Info("↩️ Откат прогона %s: %d чанков", report.RunID, manifest.Len())

	rr := &RollbackReport{RunID: report.RunID, Entries: manifest.Len()}
	var result *multierror.Error
	for _, key := range manifest.Keys() {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		entry := manifest.Entries[key]
		muts := []storage.Mutation{
			restoreMutation(key, chunk.FormatLegacy, entry.Legacy),
			restoreMutation(key, chunk.FormatEnhanced, entry.Enhanced),
		}
		if err := m.layer.Apply(ctx, []chunk.Key{key}, muts); err != nil {
			rr.Failed++
			rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %v", key, err))
			result = multierror.Append(result, fmt.Errorf("restore %s: %w", key, err))
			continue
		}
		rr.Restored++
	}

	if err := result.ErrorOrNil(); err != nil {
		m.setPhase(PhaseFailed)
		if perr := m.saveReport(context.WithoutCancel(ctx), report); perr != nil {
			m.logger.Error("Не удалось сохранить отчёт прогона %s: %v", report.RunID, perr)
		}
		rr.Outcome = report.Outcome
		m.logger.Error("❌ Откат прогона %s неполный: %d из %d", report.RunID, rr.Restored, rr.Entries)
		return rr, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	if err := report.transition(OutcomeRolledBack); err != nil {
		return rr, err
	}
	if err := m.saveReport(ctx, report); err != nil {
		return rr, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	m.setPhase(PhaseRolledBack)
	m.finishRun(ctx, report)
	rr.Outcome = report.Outcome
	m.logger.Info("✅ Прогон %s откачен: %d чанков восстановлено", report.RunID, rr.Restored)
	return rr, nil
}

// saveReport сохраняет только отчёт: откат старого прогона не должен
// перенаправлять migration/latest
func (m *Manager) saveReport(ctx context.Context, report *Report) error {
	mut, err := report.reportMutation()
	if err != nil {
		return err
	}
	if err := m.layer.Store().Apply(ctx, []storage.Mutation{mut}); err != nil {
		return fmt.Errorf("save migration report: %w", err)
	}
	return nil
}
