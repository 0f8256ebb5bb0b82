package migration

import (
	"fmt"
	"time"
)

// Config настройки прогона миграции
type Config struct {
	CreateBackup           bool          // Снимок исходных записей перед перезаписью
	BatchSize              int           // Чанков в одном атомарном пакете
	BatchDelay             time.Duration // Пауза между пакетами
	ValidateAfterMigration bool
	ValidationSampleRate   float64 // Доля сконвертированных чанков для сверки (0, 1]
	ValidationWorkers      int
	FailOnChunkError       bool // Прерывать прогон на первой ошибке чанка
	AutoRollback           bool // Откатывать неудавшийся прогон автоматически
	DiscardBackupOnSuccess bool // Удалять манифест после успешной проверки
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		CreateBackup:           true,
		BatchSize:              50,
		BatchDelay:             10 * time.Millisecond,
		ValidateAfterMigration: true,
		ValidationSampleRate:   0.1,
		ValidationWorkers:      4,
		FailOnChunkError:       false,
		AutoRollback:           false,
		DiscardBackupOnSuccess: false,
	}
}

// Validate проверяет настройки
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch_delay must not be negative")
	}
	if c.ValidateAfterMigration && (c.ValidationSampleRate <= 0 || c.ValidationSampleRate > 1) {
		return fmt.Errorf("validation_sample_rate must be in (0, 1], got %v", c.ValidationSampleRate)
	}
	if c.ValidationWorkers <= 0 {
		return fmt.Errorf("validation_workers must be positive, got %d", c.ValidationWorkers)
	}
	if c.AutoRollback && !c.CreateBackup {
		return fmt.Errorf("auto_rollback requires create_backup")
	}
	return nil
}
