package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/storage"
)

var ErrNoBackup = errors.New("migration: no backup manifest for run")

// BackupEntry снимок записей чанка до перезаписи. Отсутствующая запись
// хранится как nil и при откате удаляется.
type BackupEntry struct {
	Key      string `json:"key"`
	Legacy   []byte `json:"legacy,omitempty"`
	Enhanced []byte `json:"enhanced,omitempty"`
}

// HasLegacy сообщает, была ли legacy-запись на момент снимка
func (e *BackupEntry) HasLegacy() bool { return e.Legacy != nil }

// HasEnhanced сообщает, была ли enhanced-запись на момент снимка
func (e *BackupEntry) HasEnhanced() bool { return e.Enhanced != nil }

// BackupManifest снимки всех перезаписанных чанков прогона
type BackupManifest struct {
	RunID   string
	Entries map[chunk.Key]*BackupEntry
}

// Keys возвращает ключи манифеста в порядке (dimension, x, z)
func (m *BackupManifest) Keys() []chunk.Key {
	keys := make([]chunk.Key, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	chunk.SortKeys(keys)
	return keys
}

// Len число записей манифеста
func (m *BackupManifest) Len() int {
	return len(m.Entries)
}

// snapshot готовит запись манифеста для чанка. Возвращает ok=false, если
// запись уже существует: снимок пишется один раз за прогон.
func snapshot(ctx context.Context, layer *storage.Layer, runID string, key chunk.Key) (storage.Mutation, bool, error) {
	backupKey := storage.BackupKey(runID, key)
	if _, err := layer.Store().Get(ctx, backupKey); err == nil {
		return storage.Mutation{}, false, nil
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return storage.Mutation{}, false, fmt.Errorf("check backup %s: %w", key, err)
	}

	entry := BackupEntry{Key: key.String()}
	for _, format := range []chunk.Format{chunk.FormatLegacy, chunk.FormatEnhanced} {
		raw, err := layer.ReadRaw(ctx, key, format)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return storage.Mutation{}, false, fmt.Errorf("snapshot %s %s: %w", key, format, err)
		}
		if format == chunk.FormatLegacy {
			entry.Legacy = raw
		} else {
			entry.Enhanced = raw
		}
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return storage.Mutation{}, false, fmt.Errorf("ошибка сериализации снимка %s: %w", key, err)
	}
	return storage.Put(backupKey, data), true, nil
}

// LoadManifest читает манифест резервной копии прогона
func LoadManifest(ctx context.Context, store storage.KVStore, runID string) (*BackupManifest, error) {
	var backupKeys []string
	err := store.Scan(ctx, storage.BackupPrefix(runID), func(k string) error {
		backupKeys = append(backupKeys, k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan backup manifest: %w", err)
	}

	manifest := &BackupManifest{RunID: runID, Entries: make(map[chunk.Key]*BackupEntry, len(backupKeys))}
	for _, bk := range backupKeys {
		key, err := storage.ParseBackupKey(runID, bk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
		}
		data, err := store.Get(ctx, bk)
		if err != nil {
			return nil, fmt.Errorf("read backup %s: %w", key, err)
		}
		var entry BackupEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("%w: backup entry %s: %v", storage.ErrCorruptRecord, key, err)
		}
		manifest.Entries[key] = &entry
	}
	return manifest, nil
}

// discardMutations удаляет все записи манифеста
func (m *BackupManifest) discardMutations() []storage.Mutation {
	muts := make([]storage.Mutation, 0, len(m.Entries))
	for _, key := range m.Keys() {
		muts = append(muts, storage.Del(storage.BackupKey(m.RunID, key)))
	}
	return muts
}
