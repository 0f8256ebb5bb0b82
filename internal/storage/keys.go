package storage

import (
	"fmt"
	"strings"

	"github.com/annel0/worldstore/internal/chunk"
)

// Раскладка ключей в хранилище:
//
//	{dimension}/{x}/{z}/legacy
//	{dimension}/{x}/{z}/enhanced
//	migration/{run}/report
//	migration/{run}/backup/{dimension}/{x}/{z}
//	migration/latest
//	world/metadata
const (
	MigrationPrefix = "migration/"
	LatestRunKey    = MigrationPrefix + "latest"
	MetadataKey     = "world/metadata"
)

// RecordKey возвращает ключ записи чанка в заданном формате
func RecordKey(key chunk.Key, format chunk.Format) string {
	return key.String() + "/" + format.String()
}

// ParseRecordKey разбирает ключ записи чанка. ok=false для служебных ключей.
func ParseRecordKey(s string) (chunk.Key, chunk.Format, bool) {
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return chunk.Key{}, 0, false
	}

	var format chunk.Format
	switch s[i+1:] {
	case "legacy":
		format = chunk.FormatLegacy
	case "enhanced":
		format = chunk.FormatEnhanced
	default:
		return chunk.Key{}, 0, false
	}

	key, err := chunk.ParseKey(s[:i])
	if err != nil {
		return chunk.Key{}, 0, false
	}
	return key, format, true
}

// RunPrefix префикс всех ключей прогона миграции
func RunPrefix(runID string) string {
	return MigrationPrefix + runID + "/"
}

// ReportKey ключ отчёта прогона
func ReportKey(runID string) string {
	return RunPrefix(runID) + "report"
}

// BackupPrefix префикс записей манифеста резервной копии
func BackupPrefix(runID string) string {
	return RunPrefix(runID) + "backup/"
}

// BackupKey ключ записи манифеста для чанка
func BackupKey(runID string, key chunk.Key) string {
	return BackupPrefix(runID) + key.String()
}

// ParseBackupKey извлекает ключ чанка из ключа манифеста
func ParseBackupKey(runID, s string) (chunk.Key, error) {
	rest, ok := strings.CutPrefix(s, BackupPrefix(runID))
	if !ok {
		return chunk.Key{}, fmt.Errorf("key %q is not a backup entry of run %s", s, runID)
	}
	return chunk.ParseKey(rest)
}
