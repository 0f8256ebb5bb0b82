package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/worldstore/internal/storage"
)

// Outcome итог прогона миграции. Двигается только вперёд:
// running -> validating -> completed, running/validating -> failed -> rolled_back,
// completed -> rolled_back по запросу оператора.
type Outcome string

const (
	OutcomeRunning    Outcome = "running"
	OutcomeValidating Outcome = "validating"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

var ErrInvalidTransition = errors.New("migration: invalid outcome transition")

var transitions = map[Outcome][]Outcome{
	OutcomeRunning:    {OutcomeValidating, OutcomeCompleted, OutcomeFailed},
	OutcomeValidating: {OutcomeCompleted, OutcomeFailed},
	OutcomeCompleted:  {OutcomeRolledBack},
	OutcomeFailed:     {OutcomeRolledBack},
}

// Terminal сообщает, что прогон завершён
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeFailed || o == OutcomeRolledBack
}

func (o Outcome) canMoveTo(next Outcome) bool {
	for _, allowed := range transitions[o] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ChunkFailure чанк, который не удалось сконвертировать
type ChunkFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ValidationSummary итог выборочной сверки форматов
type ValidationSummary struct {
	Sampled    int      `json:"sampled"`
	Consistent int      `json:"consistent"`
	Divergent  int      `json:"divergent"`
	Missing    int      `json:"missing"`
	Errors     int      `json:"errors"`
	Issues     []string `json:"issues,omitempty"`
}

// Passed сообщает, что все проверенные чанки согласованы
func (v *ValidationSummary) Passed() bool {
	return v.Divergent == 0 && v.Missing == 0 && v.Errors == 0
}

// Report отчёт о прогоне миграции. Сохраняется после каждого пакета.
type Report struct {
	RunID           string             `json:"run_id"`
	Outcome         Outcome            `json:"outcome"`
	ChunksScanned   int                `json:"chunks_scanned"`
	ChunksConverted int                `json:"chunks_converted"`
	ChunksFailed    int                `json:"chunks_failed"`
	FailedKeys      []ChunkFailure     `json:"failed_keys,omitempty"`
	Batches         int                `json:"batches"`
	BackupEnabled   bool               `json:"backup_enabled"`
	BackupEntries   int                `json:"backup_entries"`
	BackupDiscarded bool               `json:"backup_discarded,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at,omitempty"`
	Validation      *ValidationSummary `json:"validation,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
}

func newReport(runID string, backup bool) *Report {
	return &Report{
		RunID:         runID,
		Outcome:       OutcomeRunning,
		BackupEnabled: backup,
		StartedAt:     time.Now().UTC(),
	}
}

// transition переводит отчёт в следующее состояние
func (r *Report) transition(next Outcome) error {
	if !r.Outcome.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Outcome, next)
	}
	r.Outcome = next
	if next.Terminal() && r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

func (r *Report) recordFailure(key, reason string) {
	r.ChunksFailed++
	r.FailedKeys = append(r.FailedKeys, ChunkFailure{Key: key, Reason: reason})
}

// Duration длительность прогона (до текущего момента, если он не завершён)
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) clone() *Report {
	cp := *r
	cp.FailedKeys = append([]ChunkFailure(nil), r.FailedKeys...)
	if r.Validation != nil {
		v := *r.Validation
		v.Issues = append([]string(nil), r.Validation.Issues...)
		cp.Validation = &v
	}
	return &cp
}

func (r *Report) reportMutation() (storage.Mutation, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return storage.Mutation{}, fmt.Errorf("ошибка сериализации отчёта миграции: %w", err)
	}
	return storage.Put(storage.ReportKey(r.RunID), data), nil
}

// mutations сериализует отчёт и указатель на последний прогон
func (r *Report) mutations() ([]storage.Mutation, error) {
	mut, err := r.reportMutation()
	if err != nil {
		return nil, err
	}
	return []storage.Mutation{
		mut,
		storage.Put(storage.LatestRunKey, []byte(r.RunID)),
	}, nil
}

// LoadReport читает отчёт прогона из хранилища
func LoadReport(ctx context.Context, store storage.KVStore, runID string) (*Report, error) {
	data, err := store.Get(ctx, storage.ReportKey(runID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: migration run %s", storage.ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: migration report %s: %v", storage.ErrCorruptRecord, runID, err)
	}
	return &r, nil
}

// LatestReport читает отчёт последнего прогона
func LatestReport(ctx context.Context, store storage.KVStore) (*Report, error) {
	id, err := store.Get(ctx, storage.LatestRunKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no migration runs recorded", storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return LoadReport(ctx, store, string(id))
}
