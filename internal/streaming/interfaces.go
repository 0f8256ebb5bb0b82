package streaming

import (
	"context"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/annel0/worldstore/internal/vec"
)

// ChunkStore источник чанков. Реализуется *storage.Layer.
type ChunkStore interface {
	Load(ctx context.Context, key chunk.Key, preferred chunk.Format) (*chunk.Chunk, chunk.Format, error)
	Save(ctx context.Context, key chunk.Key, c *chunk.Chunk, modes storage.WriteMode) error
}

// Generator создаёт чанк, которого нет в хранилище
type Generator interface {
	Generate(ctx context.Context, key chunk.Key) (*chunk.Chunk, error)
}

// EntityNotifier получает события жизненного цикла чанков.
// Вызовы синхронные и выполняются без блокировок менеджера.
type EntityNotifier interface {
	OnChunkReady(key chunk.Key, c *chunk.Chunk)
	OnChunkUnloading(key chunk.Key)
}

// MemorySampler возвращает фактическое потребление памяти процессом в байтах
type MemorySampler interface {
	Sample() (uint64, error)
}

// InterestPoint точка интереса (игрок) с вектором движения в чанках за тик
type InterestPoint struct {
	ID       string
	Position chunk.Key
	Velocity vec.Vec2
}

type noopNotifier struct{}

func (noopNotifier) OnChunkReady(chunk.Key, *chunk.Chunk) {}
func (noopNotifier) OnChunkUnloading(chunk.Key)           {}
