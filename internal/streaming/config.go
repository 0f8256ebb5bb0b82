package streaming

import (
	"fmt"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
)

// Config настройки менеджера стриминга
type Config struct {
	MaxConcurrentLoads          int           // Размер пула загрузчиков
	PreloadCacheSize            int           // Максимум слотов, удерживаемых только предсказанием
	EnablePredictivePreload     bool          // Включить предзагрузку по вектору движения
	PreloadDistance             int           // На сколько чанков вперёд предсказывать
	MemoryOptimizationThreshold float64       // Доля MaxMemoryBytes, после которой начинается вытеснение
	MaxMemoryBytes              int64         // Бюджет памяти рабочего набора
	PreferredFormat             chunk.Format  // Формат, читаемый первым
	SaveModes                   storage.WriteMode
	SaveRetries                 uint64        // Повторы сохранения при вытеснении
	SaveRetryInterval           time.Duration // Начальный интервал backoff
	SaveRetryMaxInterval        time.Duration
	EvictionInterval            time.Duration // Период фоновой проверки давления памяти (0 - только по событиям)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxConcurrentLoads:          8,
		PreloadCacheSize:            256,
		EnablePredictivePreload:     true,
		PreloadDistance:             2,
		MemoryOptimizationThreshold: 0.8,
		MaxMemoryBytes:              1 << 30,
		PreferredFormat:             chunk.FormatEnhanced,
		SaveModes:                   storage.WriteEnhanced,
		SaveRetries:                 3,
		SaveRetryInterval:           50 * time.Millisecond,
		SaveRetryMaxInterval:        time.Second,
		EvictionInterval:            time.Second,
	}
}

// Validate проверяет корректность настроек
func (c Config) Validate() error {
	if c.MaxConcurrentLoads <= 0 {
		return fmt.Errorf("max_concurrent_loads must be positive, got %d", c.MaxConcurrentLoads)
	}
	if c.PreloadCacheSize < 0 {
		return fmt.Errorf("preload_cache_size must not be negative, got %d", c.PreloadCacheSize)
	}
	if c.MemoryOptimizationThreshold <= 0 || c.MemoryOptimizationThreshold > 1 {
		return fmt.Errorf("memory_optimization_threshold must be in (0, 1], got %v", c.MemoryOptimizationThreshold)
	}
	if c.MaxMemoryBytes <= 0 {
		return fmt.Errorf("max_memory_bytes must be positive, got %d", c.MaxMemoryBytes)
	}
	if len(c.SaveModes.Formats()) == 0 {
		return storage.ErrNoWriteModes
	}
	return nil
}
