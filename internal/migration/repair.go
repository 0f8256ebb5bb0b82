package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
	"golang.org/x/sync/errgroup"
)

// RepairAction перезапись одной записи чанка из достоверной
type RepairAction struct {
	Key    string       `json:"key"`
	From   chunk.Format `json:"-"`
	To     chunk.Format `json:"-"`
	Reason string       `json:"reason"`
}

// String для вывода в CLI
func (a RepairAction) String() string {
	return fmt.Sprintf("%s: %s -> %s (%s)", a.Key, a.From, a.To, a.Reason)
}

// RepairIssue чанк, который нельзя починить автоматически
type RepairIssue struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RepairReport итог починки мира
type RepairReport struct {
	DryRun       bool           `json:"dry_run"`
	Scanned      int            `json:"scanned"`
	Actions      []RepairAction `json:"actions,omitempty"`
	Repaired     int            `json:"repaired"`
	Unrepairable []RepairIssue  `json:"unrepairable,omitempty"`
}

type repairPlan struct {
	actions []RepairAction
	issues  []RepairIssue
}

// Repair находит расходящиеся и наполовину повреждённые чанки и
// перезаписывает неверную запись из достоверной (enhanced важнее legacy).
// В режиме dryRun только строит план.
func (m *Manager) Repair(ctx context.Context, dryRun bool) (*RepairReport, error) {
	if err := m.acquire("repair"); err != nil {
		return nil, err
	}
	defer m.lock.Unlock()

	inv, err := m.layer.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := m.planRepair(ctx, inv)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{
		DryRun:       dryRun,
		Scanned:      len(inv),
		Actions:      plan.actions,
		Unrepairable: plan.issues,
	}
	if dryRun {
		return report, nil
	}

	for _, action := range plan.actions {
		key, _ := chunk.ParseKey(action.Key)
		if err := m.applyRepair(ctx, key, action); err != nil {
			if !errors.Is(err, chunk.ErrLossyConversion) && !errors.Is(err, storage.ErrCorruptRecord) {
				return report, fmt.Errorf("repair %s: %w", key, err)
			}
			report.Unrepairable = append(report.Unrepairable, RepairIssue{Key: action.Key, Reason: err.Error()})
			continue
		}
		report.Repaired++
	}
	sortIssues(report.Unrepairable)

	m.logger.Info("🔧 Починка мира: %d чанков проверено, %d исправлено, %d не исправимы",
		report.Scanned, report.Repaired, len(report.Unrepairable))
	return report, nil
}

func (m *Manager) applyRepair(ctx context.Context, key chunk.Key, action RepairAction) error {
	c, source, err := m.layer.Load(ctx, key, action.From)
	if err != nil {
		return err
	}
	if source != action.From {
		return fmt.Errorf("%w: %s record changed during repair", storage.ErrCorruptRecord, action.From)
	}
	return m.layer.Save(ctx, key, c, storage.ModeOf(action.To))
}

// planRepair параллельно проверяет чанки и строит план перезаписи
func (m *Manager) planRepair(ctx context.Context, inv []storage.InventoryEntry) (*repairPlan, error) {
	plan := &repairPlan{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ValidationWorkers)
	for _, e := range inv {
		e := e
		g.Go(func() error {
			action, issue, err := m.inspect(gctx, e)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if action != nil {
				plan.actions = append(plan.actions, *action)
			}
			if issue != nil {
				plan.issues = append(plan.issues, *issue)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(plan.actions, func(i, j int) bool { return plan.actions[i].Key < plan.actions[j].Key })
	sortIssues(plan.issues)
	return plan, nil
}

func sortIssues(issues []RepairIssue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].Key < issues[j].Key })
}

// inspect решает судьбу одного чанка
func (m *Manager) inspect(ctx context.Context, e storage.InventoryEntry) (*RepairAction, *RepairIssue, error) {
	if !e.Legacy || !e.Enhanced {
		format := chunk.FormatLegacy
		if e.Enhanced {
			format = chunk.FormatEnhanced
		}
		if _, _, err := m.layer.Load(ctx, e.Key, format); err != nil {
			if errors.Is(err, storage.ErrCorruptRecord) {
				return nil, &RepairIssue{Key: e.Key.String(), Reason: "only record is unreadable: " + err.Error()}, nil
			}
			return nil, nil, err
		}
		return nil, nil, nil
	}

	rep, err := m.layer.ValidateConsistency(ctx, e.Key)
	if err != nil {
		return nil, nil, err
	}
	if rep.OK() {
		return nil, nil, nil
	}

	legacyErr := m.readable(ctx, e.Key, chunk.FormatLegacy)
	enhancedErr := m.readable(ctx, e.Key, chunk.FormatEnhanced)
	switch {
	case legacyErr != nil && enhancedErr != nil:
		return nil, &RepairIssue{Key: e.Key.String(), Reason: "both records unreadable"}, nil
	case enhancedErr != nil:
		return &RepairAction{Key: e.Key.String(), From: chunk.FormatLegacy, To: chunk.FormatEnhanced, Reason: "enhanced record unreadable"}, nil, nil
	case legacyErr != nil:
		return &RepairAction{Key: e.Key.String(), From: chunk.FormatEnhanced, To: chunk.FormatLegacy, Reason: "legacy record unreadable"}, nil, nil
	default:
		return &RepairAction{
			Key:    e.Key.String(),
			From:   chunk.FormatEnhanced,
			To:     chunk.FormatLegacy,
			Reason: "content diverges: " + strings.Join(rep.Details, "; "),
		}, nil, nil
	}
}

// readable проверяет, что запись формата читается и декодируется
func (m *Manager) readable(ctx context.Context, key chunk.Key, format chunk.Format) error {
	rec, err := m.layer.ReadRecord(ctx, key, format)
	if err != nil {
		return err
	}
	_, err = rec.Decode(key)
	return err
}
