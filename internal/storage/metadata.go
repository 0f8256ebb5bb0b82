package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorldFormat состояние мира по форматам хранения
type WorldFormat string

const (
	WorldEmpty    WorldFormat = "empty"
	WorldLegacy   WorldFormat = "legacy"   // Только legacy-записи
	WorldEnhanced WorldFormat = "enhanced" // Только enhanced-записи
	WorldHybrid   WorldFormat = "hybrid"   // Есть оба формата
)

// WorldMetadata сведения о мире, хранятся под ключом world/metadata
type WorldMetadata struct {
	WorldID       string      `json:"world_id"`
	Format        WorldFormat `json:"format"`
	LegacyCount   int         `json:"legacy_chunks"`
	EnhancedCount int         `json:"enhanced_chunks"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	LastMigrationRun     string `json:"last_migration_run,omitempty"`
	LastMigrationOutcome string `json:"last_migration_outcome,omitempty"`
}

// Mutation сериализует метаданные в мутацию для атомарного пакета
func (m *WorldMetadata) Mutation() (Mutation, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Mutation{}, fmt.Errorf("ошибка сериализации метаданных мира: %w", err)
	}
	return Put(MetadataKey, data), nil
}

// DetectFormat определяет формат мира по имеющимся записям
func (l *Layer) DetectFormat(ctx context.Context) (WorldFormat, int, int, error) {
	inv, err := l.Inventory(ctx)
	if err != nil {
		return "", 0, 0, err
	}

	var legacy, enhanced int
	for _, e := range inv {
		if e.Legacy {
			legacy++
		}
		if e.Enhanced {
			enhanced++
		}
	}

	switch {
	case legacy == 0 && enhanced == 0:
		return WorldEmpty, 0, 0, nil
	case enhanced == 0:
		return WorldLegacy, legacy, enhanced, nil
	case legacy == 0:
		return WorldEnhanced, legacy, enhanced, nil
	default:
		return WorldHybrid, legacy, enhanced, nil
	}
}

// LoadMetadata читает метаданные мира; ErrNotFound, если их ещё нет
func (l *Layer) LoadMetadata(ctx context.Context) (*WorldMetadata, error) {
	data, err := l.store.Get(ctx, MetadataKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var meta WorldMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: world metadata: %v", ErrCorruptRecord, err)
	}
	return &meta, nil
}

// RefreshMetadata пересчитывает формат мира и сохраняет метаданные,
// создавая их с новым идентификатором мира при первом вызове
func (l *Layer) RefreshMetadata(ctx context.Context) (*WorldMetadata, error) {
	meta, err := l.LoadMetadata(ctx)
	if errors.Is(err, ErrNotFound) {
		meta = &WorldMetadata{
			WorldID:   uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		}
	} else if err != nil {
		return nil, err
	}

	format, legacy, enhanced, err := l.DetectFormat(ctx)
	if err != nil {
		return nil, err
	}
	meta.Format = format
	meta.LegacyCount = legacy
	meta.EnhancedCount = enhanced
	meta.UpdatedAt = time.Now().UTC()

	mut, err := meta.Mutation()
	if err != nil {
		return nil, err
	}
	if err := l.store.Apply(ctx, []Mutation{mut}); err != nil {
		return nil, fmt.Errorf("save world metadata: %w", err)
	}
	return meta, nil
}
