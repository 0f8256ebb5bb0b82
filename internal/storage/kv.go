package storage

import (
	"context"
	"errors"
)

// Ошибки бэкендов
var (
	ErrKeyNotFound = errors.New("storage: key not found")
	ErrStoreClosed = errors.New("storage: store closed")
)

// Mutation одна операция атомарного пакета: запись значения или удаление ключа
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put создаёт мутацию записи
func Put(key string, value []byte) Mutation {
	return Mutation{Key: key, Value: value}
}

// Del создаёт мутацию удаления
func Del(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}

// KVStore определяет интерфейс ключ-значение хранилища, на котором строится слой совместимости.
//
// Использование:
//
//	store, _ := NewBadgerStore(dir)
//	err := store.Apply(ctx, []Mutation{Put("k", v), Del("old")})
//	data, err := store.Get(ctx, "k")
type KVStore interface {
	// Get возвращает копию значения или ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Apply применяет все мутации атомарно: после сбоя видны либо все, либо ни одной.
	Apply(ctx context.Context, muts []Mutation) error

	// Scan вызывает fn для каждого ключа с префиксом в лексикографическом порядке.
	Scan(ctx context.Context, prefix string, fn func(key string) error) error

	// Close закрывает хранилище.
	Close() error
}
