package main

import (
	"errors"

	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/urfave/cli/v2"
)

// Коды завершения worldctl
const (
	ExitOK               = 0
	ExitUsage            = 2 // Ошибка аргументов или конфигурации
	ExitLockConflict     = 3
	ExitMigrationFailed  = 4
	ExitValidationFailed = 5 // Расхождение форматов или неисправимые чанки
	ExitRollbackFailed   = 6
	ExitStorage          = 7
)

// classify выбирает код завершения по ошибке; fallback для нераспознанных
func classify(err error, fallback int) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, storage.ErrLockConflict), errors.Is(err, storage.ErrWorldLocked):
		return ExitLockConflict
	case errors.Is(err, migration.ErrRollbackFailed), errors.Is(err, migration.ErrNoBackup):
		return ExitRollbackFailed
	case errors.Is(err, migration.ErrValidationFailed):
		return ExitValidationFailed
	case errors.Is(err, migration.ErrChunkFailed), errors.Is(err, migration.ErrCancelled):
		return ExitMigrationFailed
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrKeyNotFound),
		errors.Is(err, storage.ErrStoreClosed),
		errors.Is(err, storage.ErrCorruptRecord):
		return ExitStorage
	default:
		return fallback
	}
}

// exitErr оборачивает ошибку в cli.ExitCoder с классифицированным кодом
func exitErr(err error, fallback int) error {
	if err == nil {
		return nil
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return err
	}
	return cli.Exit(err.Error(), classify(err, fallback))
}

// exitCodeOf код завершения для ошибки app.Run
func exitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	// Ошибки разбора флагов и неизвестные команды
	return ExitUsage
}
