package migration

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
)

// Recommendations оценка предстоящей миграции
type Recommendations struct {
	NeedsMigration       bool          `json:"needs_migration"`
	WorldFormat          string        `json:"world_format"`
	PendingChunks        int           `json:"pending_chunks"` // legacy без enhanced-копии
	TotalChunks          int           `json:"total_chunks"`
	RecommendedBatchSize int           `json:"recommended_batch_size"`
	RecommendBackup      bool          `json:"recommend_backup"`
	EstimatedDiskBytes   int64         `json:"estimated_disk_bytes"`
	EstimatedDuration    time.Duration `json:"estimated_duration"`
}

// Примерная скорость конвертации для оценки времени
const estimatedChunksPerSecond = 500

// Recommend оценивает объём миграции: сколько чанков ждёт конвертации,
// какой размер пакета взять и сколько места займут копии и новые записи
func (m *Manager) Recommend(ctx context.Context) (*Recommendations, error) {
	inv, err := m.layer.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	format, _, _, err := m.layer.DetectFormat(ctx)
	if err != nil {
		return nil, err
	}

	rec := &Recommendations{
		WorldFormat: string(format),
		TotalChunks: len(inv),
	}

	var legacyBytes int64
	for _, e := range inv {
		if !e.Legacy || e.Enhanced {
			continue
		}
		raw, err := m.layer.ReadRaw(ctx, e.Key, chunk.FormatLegacy)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		legacyBytes += int64(len(raw))
		rec.PendingChunks++
	}

	rec.NeedsMigration = rec.PendingChunks > 0
	rec.RecommendedBatchSize = 50
	if rec.PendingChunks > 10000 {
		rec.RecommendedBatchSize = 100
	}
	rec.RecommendBackup = rec.PendingChunks > 0
	// Копия legacy плюс новая enhanced-запись не больше исходной
	rec.EstimatedDiskBytes = legacyBytes * 2
	rec.EstimatedDuration = time.Duration(rec.PendingChunks) * time.Second / estimatedChunksPerSecond
	return rec, nil
}
