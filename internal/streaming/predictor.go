package streaming

import (
	"errors"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/vec"
)

// predictNext предсказывает следующие чанки по направлению движения:
// distance чанков по прямой и, при диагональном движении, конус из двух соседних
func predictNext(pos chunk.Key, velocity vec.Vec2, distance int) []chunk.Key {
	dir := velocity.Sign()
	if dir.IsZero() || distance <= 0 {
		return nil
	}

	predictions := make([]chunk.Key, 0, distance+2)
	for i := 1; i <= distance; i++ {
		predictions = append(predictions, pos.Offset(dir.Scale(i)))
	}

	if dir.X != 0 && dir.Y != 0 {
		predictions = append(predictions,
			pos.Offset(vec.Vec2{X: dir.X * 2, Y: dir.Y}),
			pos.Offset(vec.Vec2{X: dir.X, Y: dir.Y * 2}),
		)
	}
	return predictions
}

// Predict ставит фоновые загрузки чанков по ходу движения точек интереса.
// Предзагрузка всегда обслуживается после запросов игроков, а число слотов,
// удерживаемых только предсказанием, не превышает PreloadCacheSize.
// Когда кэш предзагрузки полон, новое предсказание вытесняет самый давний
// готовый предзагруженный чанк, которого нет среди текущих предсказаний.
// Возвращает число поставленных загрузок.
func (m *Manager) Predict(points []InterestPoint) int {
	if !m.cfg.EnablePredictivePreload {
		return 0
	}

	var keys []chunk.Key
	wanted := make(map[chunk.Key]bool)
	for _, p := range points {
		for _, key := range predictNext(p.Position, p.Velocity, m.cfg.PreloadDistance) {
			if !wanted[key] {
				wanted[key] = true
				keys = append(keys, key)
			}
		}
	}

	queued := 0
	stuck := make(map[chunk.Key]bool) // Слоты, которые не удалось выгрузить в этом проходе
	for _, key := range keys {
		for {
			m.mu.Lock()
			if m.stopped {
				m.mu.Unlock()
				return queued
			}
			if _, exists := m.slots[key]; exists {
				m.mu.Unlock()
				break
			}
			if m.preloadCount < m.cfg.PreloadCacheSize {
				m.slots[key] = newSlot(key, true)
				m.preloadCount++
				m.enqueueLocked(key, true)
				m.mu.Unlock()
				m.counters.predictiveLoads.Add(1)
				queued++
				break
			}
			victim := m.stalePreloadLocked(wanted, stuck)
			m.mu.Unlock()

			if victim == nil {
				m.logger.Debug("preload cache full (%d slots), %d predictions queued", m.cfg.PreloadCacheSize, queued)
				return queued
			}
			if err := m.teardown(m.ctx, victim); err != nil {
				stuck[victim.key] = true
				if !errors.Is(err, errBusy) {
					m.logger.Warn("preload rotation of %s: %v", victim.key, err)
				}
				continue
			}
			m.counters.evictions.Add(1)
		}
	}
	return queued
}

// stalePreloadLocked выбирает давно не использованный готовый слот,
// удерживаемый только предсказанием. Вызывается под m.mu.
func (m *Manager) stalePreloadLocked(wanted, skip map[chunk.Key]bool) *slot {
	var victim *slot
	for key, s := range m.slots {
		if !s.preload || s.state != stateReady || !s.announced || s.interest > 0 || wanted[key] || skip[key] {
			continue
		}
		if victim == nil || s.lastAccess.Before(victim.lastAccess) ||
			(s.lastAccess.Equal(victim.lastAccess) && key.Less(victim.key)) {
			victim = s
		}
	}
	return victim
}
