package notify

import (
	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
)

// Notifier то же, что streaming.EntityNotifier; объявлен здесь,
// чтобы пакет не зависел от стриминга
type Notifier interface {
	OnChunkReady(key chunk.Key, c *chunk.Chunk)
	OnChunkUnloading(key chunk.Key)
}

// LogNotifier пишет события чанков в лог
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier создаёт нотификатор, пишущий в компонент "entities"
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.GetComponentLogger("entities")}
}

func (l *LogNotifier) OnChunkReady(key chunk.Key, c *chunk.Chunk) {
	l.logger.Debug("📦 Чанк %s готов", key)
}

func (l *LogNotifier) OnChunkUnloading(key chunk.Key) {
	l.logger.Debug("🗑️ Чанк %s выгружается", key)
}

// Fanout рассылает события нескольким получателям в порядке регистрации
type Fanout []Notifier

func (f Fanout) OnChunkReady(key chunk.Key, c *chunk.Chunk) {
	for _, n := range f {
		n.OnChunkReady(key, c)
	}
}

func (f Fanout) OnChunkUnloading(key chunk.Key) {
	for _, n := range f {
		n.OnChunkUnloading(key)
	}
}
