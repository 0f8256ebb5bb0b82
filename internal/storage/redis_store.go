package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr           string        // Адрес Redis сервера
	Password       string        // Пароль (пустой если не требуется)
	DB             int           // Номер базы данных
	KeyPrefix      string        // Префикс для ключей мира
	MaxConnections int           // Размер пула
	PoolTimeout    time.Duration // Ожидание свободного соединения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:           "localhost:6379",
		KeyPrefix:      "world:",
		MaxConnections: 10,
		PoolTimeout:    30 * time.Second,
	}
}

// RedisStore хранит записи мира в Redis. Пакеты мутаций выполняются в MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis store initialized: %s (prefix %q)", config.Addr, config.KeyPrefix)
	return NewRedisStoreWithClient(client, config.KeyPrefix), nil
}

// NewRedisStoreWithClient оборачивает уже созданный клиент
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

func (r *RedisStore) Apply(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, mut := range muts {
			if mut.Delete {
				pipe.Del(ctx, r.prefix+mut.Key)
			} else {
				pipe.Set(ctx, r.prefix+mut.Key, mut.Value, 0)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch error: %w", err)
	}
	return nil
}

func (r *RedisStore) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefix+prefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan error: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// SCAN может вернуть ключ повторно и не гарантирует порядок
	sort.Strings(keys)
	var last string
	for i, k := range keys {
		if i > 0 && k == last {
			continue
		}
		last = k
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
