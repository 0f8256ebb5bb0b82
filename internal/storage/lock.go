package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/cespare/xxhash/v2"
)

var (
	// ErrLockConflict мир уже занят: идёт миграция или стриминг держит чанки
	ErrLockConflict = errors.New("storage: world lock conflict")
	// ErrWorldLocked мир заблокирован миграцией, операции стриминга отклоняются
	ErrWorldLocked = errors.New("storage: world locked by migration")
)

// WorldLock эксклюзивная блокировка мира для миграции.
// Стриминг берёт разделяемую сторону вокруг каждой операции с хранилищем.
// Обе стороны не ждут: конфликт сразу возвращается вызывающему.
type WorldLock struct {
	mu sync.RWMutex

	holderMu sync.Mutex
	holder   string
}

// NewWorldLock создаёт свободную блокировку
func NewWorldLock() *WorldLock {
	return &WorldLock{}
}

// TryLock захватывает мир эксклюзивно
func (l *WorldLock) TryLock(owner string) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("%w: held by %s", ErrLockConflict, l.Holder())
	}
	l.holderMu.Lock()
	l.holder = owner
	l.holderMu.Unlock()
	return nil
}

// Unlock освобождает эксклюзивную блокировку
func (l *WorldLock) Unlock() {
	l.holderMu.Lock()
	l.holder = ""
	l.holderMu.Unlock()
	l.mu.Unlock()
}

// TryRLock берёт разделяемую сторону; ErrWorldLocked во время миграции
func (l *WorldLock) TryRLock() error {
	if !l.mu.TryRLock() {
		return ErrWorldLocked
	}
	return nil
}

func (l *WorldLock) RUnlock() {
	l.mu.RUnlock()
}

// Holder возвращает владельца эксклюзивной блокировки или "streaming"
func (l *WorldLock) Holder() string {
	l.holderMu.Lock()
	defer l.holderMu.Unlock()
	if l.holder == "" {
		return "streaming"
	}
	return l.holder
}

const keyLockStripes = 256

// keyLocks полосатые RW-мьютексы по ключу чанка: чтения разделяемые, записи эксклюзивные
type keyLocks struct {
	stripes [keyLockStripes]sync.RWMutex
}

func stripeOf(key chunk.Key) int {
	return int(xxhash.Sum64String(key.String()) % keyLockStripes)
}

func (kl *keyLocks) forKey(key chunk.Key) *sync.RWMutex {
	return &kl.stripes[stripeOf(key)]
}

// lockKeys захватывает полосы набора ключей на запись в порядке возрастания индекса
func (kl *keyLocks) lockKeys(keys []chunk.Key) (unlock func()) {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := stripeOf(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		kl.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			kl.stripes[idx[j]].Unlock()
		}
	}
}
