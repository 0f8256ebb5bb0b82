package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotFound чанк отсутствует в обоих форматах
	ErrNotFound = errors.New("storage: chunk not found")
	// ErrNoWriteModes Save вызван без форматов записи
	ErrNoWriteModes = errors.New("storage: empty write mode set")
)

// WriteMode набор форматов, в которые пишет Save
type WriteMode uint8

const (
	WriteLegacy   WriteMode = 1 << 0
	WriteEnhanced WriteMode = 1 << 1
	WriteBoth               = WriteLegacy | WriteEnhanced
)

// ModeOf возвращает режим записи одного формата
func ModeOf(f chunk.Format) WriteMode {
	if f == chunk.FormatLegacy {
		return WriteLegacy
	}
	return WriteEnhanced
}

// Formats перечисляет форматы режима (enhanced первым)
func (m WriteMode) Formats() []chunk.Format {
	var out []chunk.Format
	if m&WriteEnhanced != 0 {
		out = append(out, chunk.FormatEnhanced)
	}
	if m&WriteLegacy != 0 {
		out = append(out, chunk.FormatLegacy)
	}
	return out
}

func (m WriteMode) String() string {
	names := make([]string, 0, 2)
	for _, f := range m.Formats() {
		names = append(names, f.String())
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// ParseWriteMode разбирает "legacy", "enhanced" или "both"
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy":
		return WriteLegacy, nil
	case "enhanced", "":
		return WriteEnhanced, nil
	case "both", "dual", "enhanced+legacy", "legacy+enhanced":
		return WriteBoth, nil
	}
	return 0, fmt.Errorf("unknown write mode %q", s)
}

// Layer слой совместимости: читает и пишет один чанк в legacy и/или enhanced формате.
// Чанки в памяти не кэшируются: хранилище - единственный источник истины.
type Layer struct {
	store  KVStore
	locks  keyLocks
	logger *logging.Logger
	tracer trace.Tracer
}

// NewLayer создаёт слой совместимости поверх хранилища
func NewLayer(store KVStore) *Layer {
	return &Layer{
		store:  store,
		logger: logging.GetStorageLogger(),
		tracer: otel.Tracer("worldstore/storage"),
	}
}

// Store возвращает нижележащее хранилище
func (l *Layer) Store() KVStore {
	return l.store
}

func (l *Layer) readRaw(ctx context.Context, key chunk.Key, format chunk.Format) ([]byte, error) {
	data, err := l.store.Get(ctx, RecordKey(key, format))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l *Layer) loadFormat(ctx context.Context, key chunk.Key, format chunk.Format) (*chunk.Chunk, error) {
	raw, err := l.readRaw(ctx, key, format)
	if err != nil {
		return nil, err
	}
	rec, err := UnmarshalRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.Format != format {
		return nil, fmt.Errorf("%w: %s record tagged %s", ErrCorruptRecord, format, rec.Format)
	}
	c, err := rec.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return c, nil
}

func recoverable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorruptRecord)
}

// Load загружает чанк, начиная с предпочтительного формата.
// Отсутствующая или повреждённая запись заменяется другим форматом.
// Если обе записи целы, источником истины считается enhanced.
func (l *Layer) Load(ctx context.Context, key chunk.Key, preferred chunk.Format) (*chunk.Chunk, chunk.Format, error) {
	ctx, span := l.tracer.Start(ctx, "storage.Load", trace.WithAttributes(
		attribute.String("chunk.key", key.String()),
		attribute.String("chunk.preferred", preferred.String()),
	))
	defer span.End()

	mu := l.locks.forKey(key)
	mu.RLock()
	defer mu.RUnlock()

	first, firstErr := l.loadFormat(ctx, key, preferred)
	if firstErr == nil && preferred == chunk.FormatEnhanced {
		span.SetAttributes(attribute.String("chunk.source", preferred.String()))
		return first, preferred, nil
	}
	if firstErr != nil && !recoverable(firstErr) {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return nil, 0, firstErr
	}

	other := preferred.Other()
	second, secondErr := l.loadFormat(ctx, key, other)
	if secondErr != nil && !recoverable(secondErr) {
		span.RecordError(secondErr)
		span.SetStatus(codes.Error, secondErr.Error())
		return nil, 0, secondErr
	}

	switch {
	case firstErr == nil && secondErr == nil:
		// preferred = legacy, но enhanced тоже цел
		l.logger.Debug("chunk %s: enhanced record supersedes preferred legacy", key)
		span.SetAttributes(attribute.String("chunk.source", other.String()))
		return second, other, nil
	case firstErr == nil:
		span.SetAttributes(attribute.String("chunk.source", preferred.String()))
		return first, preferred, nil
	case secondErr == nil:
		l.logger.Debug("chunk %s: %s record unavailable (%v), loaded from %s", key, preferred, firstErr, other)
		span.SetAttributes(attribute.String("chunk.source", other.String()))
		return second, other, nil
	}

	if errors.Is(firstErr, ErrNotFound) && errors.Is(secondErr, ErrNotFound) {
		return nil, 0, ErrNotFound
	}

	err := firstErr
	if errors.Is(firstErr, ErrNotFound) {
		err = secondErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, 0, fmt.Errorf("chunk %s: %w", key, err)
}

// Save кодирует чанк во все запрошенные форматы и пишет записи одним атомарным пакетом.
// Ошибка кодирования любого формата (например, ErrLossyConversion) отменяет запись целиком.
func (l *Layer) Save(ctx context.Context, key chunk.Key, c *chunk.Chunk, modes WriteMode) error {
	formats := modes.Formats()
	if len(formats) == 0 {
		return ErrNoWriteModes
	}
	if c.Key != key {
		return fmt.Errorf("chunk %s saved under key %s", c.Key, key)
	}

	ctx, span := l.tracer.Start(ctx, "storage.Save", trace.WithAttributes(
		attribute.String("chunk.key", key.String()),
		attribute.String("chunk.modes", modes.String()),
	))
	defer span.End()

	muts := make([]Mutation, 0, len(formats))
	for _, f := range formats {
		rec, err := EncodeRecord(c, f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("encode %s for %s: %w", f, key, err)
		}
		muts = append(muts, Put(RecordKey(key, f), rec.Marshal()))
	}

	mu := l.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.Apply(ctx, muts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// ReadRaw возвращает хранимые байты записи без разбора (для резервных копий)
func (l *Layer) ReadRaw(ctx context.Context, key chunk.Key, format chunk.Format) ([]byte, error) {
	mu := l.locks.forKey(key)
	mu.RLock()
	defer mu.RUnlock()
	return l.readRaw(ctx, key, format)
}

// ReadRecord читает и проверяет запись одного формата
func (l *Layer) ReadRecord(ctx context.Context, key chunk.Key, format chunk.Format) (*Record, error) {
	raw, err := l.ReadRaw(ctx, key, format)
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(raw)
}

// HasRecord сообщает, есть ли запись формата (без проверки целостности)
func (l *Layer) HasRecord(ctx context.Context, key chunk.Key, format chunk.Format) (bool, error) {
	_, err := l.ReadRaw(ctx, key, format)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Keys возвращает отсортированные ключи чанков, у которых есть запись формата
func (l *Layer) Keys(ctx context.Context, format chunk.Format) ([]chunk.Key, error) {
	inv, err := l.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]chunk.Key, 0, len(inv))
	for _, e := range inv {
		if e.Has(format) {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

// InventoryEntry форматы, в которых хранится чанк
type InventoryEntry struct {
	Key      chunk.Key
	Legacy   bool
	Enhanced bool
}

// Has сообщает, есть ли у чанка запись формата
func (e InventoryEntry) Has(f chunk.Format) bool {
	if f == chunk.FormatLegacy {
		return e.Legacy
	}
	return e.Enhanced
}

// Inventory перечисляет все чанки мира в порядке (dimension, x, z)
func (l *Layer) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	byKey := make(map[chunk.Key]*InventoryEntry)
	err := l.store.Scan(ctx, "", func(s string) error {
		key, format, ok := ParseRecordKey(s)
		if !ok {
			return nil
		}
		e, exists := byKey[key]
		if !exists {
			e = &InventoryEntry{Key: key}
			byKey[key] = e
		}
		if format == chunk.FormatLegacy {
			e.Legacy = true
		} else {
			e.Enhanced = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan chunk records: %w", err)
	}

	keys := make([]chunk.Key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	chunk.SortKeys(keys)

	out := make([]InventoryEntry, len(keys))
	for i, k := range keys {
		out[i] = *byKey[k]
	}
	return out, nil
}

// Apply атомарно применяет мутации, удерживая запись на всех затронутых чанках
func (l *Layer) Apply(ctx context.Context, keys []chunk.Key, muts []Mutation) error {
	unlock := l.locks.lockKeys(keys)
	defer unlock()
	return l.store.Apply(ctx, muts)
}
