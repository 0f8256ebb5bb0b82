package streaming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
)

// errBusy слот нельзя выгрузить прямо сейчас (появился интерес или новые изменения)
var errBusy = errors.New("streaming: slot busy")

func (m *Manager) signalPressure() {
	select {
	case m.evictSignal <- struct{}{}:
	default:
	}
}

func (m *Manager) evictionLoop() {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.cfg.EvictionInterval > 0 {
		ticker := time.NewTicker(m.cfg.EvictionInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.shutdownChan:
			return
		case <-m.evictSignal:
		case <-tick:
		}
		if _, err := m.OptimizeMemory(m.ctx); err != nil {
			m.logger.Error("memory optimization: %v", err)
		}
	}
}

// usage возвращает потребление памяти: оценку рабочего набора
// или замер процесса, если он больше
func (m *Manager) usage() int64 {
	m.mu.Lock()
	used := m.memBytes
	m.mu.Unlock()

	if m.sampler != nil {
		if rss, err := m.sampler.Sample(); err == nil && int64(rss) > used {
			used = int64(rss)
		}
	}
	return used
}

func (m *Manager) budget() int64 {
	return int64(m.cfg.MemoryOptimizationThreshold * float64(m.cfg.MaxMemoryBytes))
}

// Pressure доля бюджета памяти, занятая рабочим набором
func (m *Manager) Pressure() float64 {
	return float64(m.usage()) / float64(m.cfg.MaxMemoryBytes)
}

// OptimizeMemory вытесняет давно не использованные чанки без интереса,
// пока потребление выше порога. Возвращает число выгруженных чанков.
// Чанки, которые не удалось сохранить, остаются в памяти.
func (m *Manager) OptimizeMemory(ctx context.Context) (int, error) {
	excess := m.usage() - m.budget()
	if excess <= 0 {
		return 0, nil
	}

	var (
		evicted int
		result  *multierror.Error
	)
	for _, s := range m.evictionCandidates() {
		if excess <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		size := s.size
		err := m.teardown(ctx, s)
		switch {
		case err == nil:
			evicted++
			excess -= size
			m.counters.evictions.Add(1)
		case errors.Is(err, errBusy):
		default:
			result = multierror.Append(result, fmt.Errorf("evict %s: %w", s.key, err))
		}
	}

	if evicted > 0 {
		m.logger.Debug("memory optimization evicted %d chunks", evicted)
	}
	return evicted, result.ErrorOrNil()
}

// evictionCandidates возвращает готовые слоты без интереса, от давно использованных к недавним
func (m *Manager) evictionCandidates() []*slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*slot, 0)
	for _, s := range m.slots {
		if s.state == stateReady && s.interest == 0 && s.announced {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].lastAccess.Equal(out[j].lastAccess) {
			return out[i].key.Less(out[j].key)
		}
		return out[i].lastAccess.Before(out[j].lastAccess)
	})
	return out
}

// teardown сохраняет изменённый чанк и удаляет слот:
// flush -> перепроверка интереса -> OnChunkUnloading -> удаление.
func (m *Manager) teardown(ctx context.Context, s *slot) error {
	if err := m.flush(ctx, s); err != nil {
		return err
	}

	m.mu.Lock()
	if m.slots[s.key] != s || s.state != stateReady || s.interest > 0 || !s.announced {
		m.mu.Unlock()
		return errBusy
	}
	if s.chunk.IsDirty() {
		// Изменён после сохранения, попробуем на следующем проходе
		m.mu.Unlock()
		return errBusy
	}
	s.state = stateUnloading
	m.mu.Unlock()

	m.unloadAnnounced(s)
	return nil
}

// unloadAnnounced завершает выгрузку слота в состоянии unloading:
// OnChunkUnloading, затем удаление из рабочего набора
func (m *Manager) unloadAnnounced(s *slot) {
	m.notifier.OnChunkUnloading(s.key)

	m.mu.Lock()
	delete(m.slots, s.key)
	s.state = stateEvicted
	m.memBytes -= s.size
	if s.preload {
		m.preloadCount--
	}
	m.mu.Unlock()
	close(s.gone)

	m.logger.Debug("chunk %s unloaded", s.key)
}

// flush сохраняет изменённый чанк с экспоненциальными повторами
func (m *Manager) flush(ctx context.Context, s *slot) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	c := s.chunk
	if c == nil || !c.IsDirty() {
		return nil
	}
	version := c.Version()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.SaveRetryInterval
	policy.MaxInterval = m.cfg.SaveRetryMaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := m.save(ctx, s.key, c)
		if errors.Is(err, chunk.ErrLossyConversion) {
			return backoff.Permanent(err)
		}
		if err != nil {
			m.logger.Warn("save %s attempt %d failed: %v", s.key, attempt, err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, m.cfg.SaveRetries), ctx))
	if err != nil {
		m.counters.saveFailures.Add(1)
		m.logger.Error("chunk %s stays resident: save failed after %d attempts: %v", s.key, attempt, err)
		return fmt.Errorf("save %s: %w", s.key, err)
	}

	m.counters.saves.Add(1)
	c.ClearDirty(version)
	return nil
}

func (m *Manager) save(ctx context.Context, key chunk.Key, c *chunk.Chunk) error {
	if m.lock != nil {
		if err := m.lock.TryRLock(); err != nil {
			return err
		}
		defer m.lock.RUnlock()
	}
	return m.store.Save(ctx, key, c, m.cfg.SaveModes)
}

// Flush сохраняет все изменённые готовые чанки, не выгружая их
func (m *Manager) Flush(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range m.readySlots() {
		if err := m.flush(ctx, s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
