package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
)

// slotState состояние слота рабочего набора
type slotState int

const (
	stateRequested slotState = iota // В очереди на загрузку
	stateLoading                    // Загрузчик читает хранилище
	stateReady                      // Чанк в памяти
	stateUnloading                  // Идёт выгрузка, новые запросы ждут gone
	stateEvicted                    // Слот удалён из рабочего набора
)

func (s slotState) String() string {
	switch s {
	case stateRequested:
		return "requested"
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	case stateUnloading:
		return "unloading"
	case stateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// slot единственная запись рабочего набора для ключа.
// Поля, кроме chunk/err, защищены Manager.mu.
// chunk и err записываются до закрытия done и дальше не меняются.
type slot struct {
	key        chunk.Key
	state      slotState
	interest   int  // Число активных запросов
	preload    bool // Удерживается только предсказанием
	announced  bool // OnChunkReady доставлен, слот можно вытеснять
	lastAccess time.Time
	size       int64

	chunk *chunk.Chunk
	err   error

	done chan struct{} // Закрыт по завершении загрузки
	gone chan struct{} // Закрыт после удаления из рабочего набора

	flushMu sync.Mutex // Сериализует сохранения этого чанка
}

func newSlot(key chunk.Key, preload bool) *slot {
	return &slot{
		key:        key,
		state:      stateRequested,
		preload:    preload,
		lastAccess: time.Now(),
		done:       make(chan struct{}),
		gone:       make(chan struct{}),
	}
}

// Handle результат Request: ожидание загрузки конкретного слота
type Handle struct {
	m    *Manager
	s    *slot
	once sync.Once
}

// Key возвращает ключ чанка
func (h *Handle) Key() chunk.Key {
	return h.s.key
}

// Wait ждёт завершения загрузки и возвращает чанк или ошибку загрузки
func (h *Handle) Wait(ctx context.Context) (*chunk.Chunk, error) {
	select {
	case <-h.s.done:
		return h.s.chunk, h.s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release снимает интерес этого запроса. Повторные вызовы ничего не делают.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.releaseSlot(h.s)
	})
}
