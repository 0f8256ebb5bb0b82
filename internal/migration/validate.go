package migration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
	"golang.org/x/sync/errgroup"
)

// sampleKeys выбирает долю rate ключей, но не меньше одного
func sampleKeys(keys []chunk.Key, rate float64) []chunk.Key {
	if len(keys) == 0 {
		return nil
	}
	n := int(math.Ceil(rate * float64(len(keys))))
	n = max(1, min(n, len(keys)))
	if n == len(keys) {
		return keys
	}

	shuffled := append([]chunk.Key(nil), keys...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	sample := shuffled[:n]
	chunk.SortKeys(sample)
	return sample
}

// validateKeys сверяет форматы каждого ключа параллельно.
// Ошибка возвращается только при отмене контекста.
func (m *Manager) validateKeys(ctx context.Context, keys []chunk.Key) (*ValidationSummary, error) {
	summary := &ValidationSummary{Sampled: len(keys)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ValidationWorkers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			rep, err := m.layer.ValidateConsistency(gctx, key)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Errors++
				summary.Issues = append(summary.Issues, fmt.Sprintf("%s: %v", key, err))
			case rep.Status == storage.ConsistencyDivergent:
				summary.Divergent++
				summary.Issues = append(summary.Issues, fmt.Sprintf("%s: %s", key, strings.Join(rep.Details, "; ")))
			case rep.Status == storage.MissingFormat:
				summary.Missing++
				summary.Issues = append(summary.Issues, fmt.Sprintf("%s: %s record missing", key, rep.Missing))
			default:
				summary.Consistent++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	sort.Strings(summary.Issues)
	return summary, nil
}

// WorldValidation итог проверки всего мира
type WorldValidation struct {
	ValidationSummary
	SingleFormat int `json:"single_format"` // Чанки с одной читаемой записью
}

// ValidateWorld проверяет мир: чанки с обоими форматами сверяются по
// содержимому, чанки с одной записью проверяются на читаемость.
// sampleRate ограничивает долю проверяемых пар (1 - все).
func (m *Manager) ValidateWorld(ctx context.Context, sampleRate float64) (*WorldValidation, error) {
	if sampleRate <= 0 || sampleRate > 1 {
		return nil, fmt.Errorf("sample rate must be in (0, 1], got %v", sampleRate)
	}

	inv, err := m.layer.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []chunk.Key
	var singles []storage.InventoryEntry
	for _, e := range inv {
		if e.Legacy && e.Enhanced {
			pairs = append(pairs, e.Key)
		} else {
			singles = append(singles, e)
		}
	}

	summary, err := m.validateKeys(ctx, sampleKeys(pairs, sampleRate))
	if err != nil {
		return nil, err
	}
	result := &WorldValidation{ValidationSummary: *summary}

	for _, e := range singles {
		format := chunk.FormatLegacy
		if e.Enhanced {
			format = chunk.FormatEnhanced
		}
		_, _, err := m.layer.Load(ctx, e.Key, format)
		switch {
		case err == nil:
			result.SingleFormat++
		case errors.Is(err, storage.ErrCorruptRecord):
			result.Errors++
			result.Issues = append(result.Issues, fmt.Sprintf("%s: %v", e.Key, err))
		default:
			return nil, err
		}
	}
	result.Sampled += len(singles)

	m.logger.Info("Проверка мира: %d пар согласованы, %d расходятся, %d нечитаемы, %d с одним форматом",
		result.Consistent, result.Divergent, result.Errors, result.SingleFormat)
	return result, nil
}
