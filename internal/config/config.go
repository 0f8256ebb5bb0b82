package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/generator"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/migration"
	"github.com/annel0/worldstore/internal/notify"
	"github.com/annel0/worldstore/internal/observability"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/annel0/worldstore/internal/streaming"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера мира и worldctl
type Config struct {
	Storage   StorageConfig        `yaml:"storage"`
	Streaming StreamingConfig      `yaml:"streaming"`
	Migration MigrationConfig      `yaml:"migration"`
	Generator GeneratorConfig      `yaml:"generator"`
	Server    ServerConfig         `yaml:"server"`
	Notify    NotifyConfig         `yaml:"notify"`
	Logging   LoggingConfig        `yaml:"logging"`
	Telemetry observability.Config `yaml:"telemetry"`
}

// Бэкенды хранилища
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	DataDir string      `yaml:"data_dir"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	KeyPrefix      string        `yaml:"key_prefix"`
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

type StreamingConfig struct {
	MaxConcurrentLoads          int           `yaml:"max_concurrent_loads"`
	PreloadCacheSize            int           `yaml:"preload_cache_size"`
	EnablePredictivePreload     bool          `yaml:"enable_predictive_preload"`
	PreloadDistance             int           `yaml:"preload_distance"`
	MemoryOptimizationThreshold float64       `yaml:"memory_optimization_threshold"`
	MaxMemoryBytes              int64         `yaml:"max_memory_bytes"`
	PreferredFormat             string        `yaml:"preferred_format"`
	SaveModes                   string        `yaml:"save_modes"`
	SaveRetries                 uint64        `yaml:"save_retries"`
	EvictionInterval            time.Duration `yaml:"eviction_interval"`
	SampleProcessMemory         bool          `yaml:"sample_process_memory"`
}

type MigrationConfig struct {
	CreateBackup           bool          `yaml:"create_backup"`
	BatchSize              int           `yaml:"batch_size"`
	BatchDelay             time.Duration `yaml:"batch_delay"`
	ValidateAfterMigration bool          `yaml:"validate_after_migration"`
	ValidationSampleRate   float64       `yaml:"validation_sample_rate"`
	FailOnChunkError       bool          `yaml:"fail_on_chunk_error"`
	AutoRollback           bool          `yaml:"auto_rollback"`
	DiscardBackupOnSuccess bool          `yaml:"discard_backup_on_success"`
}

type GeneratorConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Seed       int64   `yaml:"seed"`
	NoiseScale float64 `yaml:"noise_scale"`
	BiomeScale float64 `yaml:"biome_scale"`
	SeaLevel   int     `yaml:"sea_level"`
	MaxHeight  int     `yaml:"max_height"`
}

type ServerConfig struct {
	AdminPort int    `yaml:"admin_port"`
	NodeID    string `yaml:"node_id"`
}

type NotifyConfig struct {
	NATS     notify.NATSConfig      `yaml:"nats"`
	Log      bool                   `yaml:"log"`
	Webhooks []notify.WebhookConfig `yaml:"webhooks"` // Итоги миграций
}

type LoggingConfig struct {
	Level      string            `yaml:"level"`
	Dir        string            `yaml:"dir"`
	JSON       bool              `yaml:"json"`
	Components map[string]string `yaml:"components"` // Уровни отдельных компонентов: storage: debug
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	sc := streaming.DefaultConfig()
	mc := migration.DefaultConfig()
	gc := generator.DefaultConfig(0)
	rc := storage.DefaultRedisConfig()

	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			DataDir: "data",
			Redis: RedisConfig{
				Addr:           rc.Addr,
				KeyPrefix:      rc.KeyPrefix,
				MaxConnections: rc.MaxConnections,
				PoolTimeout:    rc.PoolTimeout,
			},
		},
		Streaming: StreamingConfig{
			MaxConcurrentLoads:          sc.MaxConcurrentLoads,
			PreloadCacheSize:            sc.PreloadCacheSize,
			EnablePredictivePreload:     sc.EnablePredictivePreload,
			PreloadDistance:             sc.PreloadDistance,
			MemoryOptimizationThreshold: sc.MemoryOptimizationThreshold,
			MaxMemoryBytes:              sc.MaxMemoryBytes,
			PreferredFormat:             sc.PreferredFormat.String(),
			SaveModes:                   sc.SaveModes.String(),
			SaveRetries:                 sc.SaveRetries,
			EvictionInterval:            sc.EvictionInterval,
			SampleProcessMemory:         true,
		},
		Migration: MigrationConfig{
			CreateBackup:           mc.CreateBackup,
			BatchSize:              mc.BatchSize,
			BatchDelay:             mc.BatchDelay,
			ValidateAfterMigration: mc.ValidateAfterMigration,
			ValidationSampleRate:   mc.ValidationSampleRate,
			FailOnChunkError:       mc.FailOnChunkError,
			AutoRollback:           mc.AutoRollback,
			DiscardBackupOnSuccess: mc.DiscardBackupOnSuccess,
		},
		Generator: GeneratorConfig{
			Enabled:    true,
			Seed:       gc.Seed,
			NoiseScale: gc.NoiseScale,
			BiomeScale: gc.BiomeScale,
			SeaLevel:   gc.SeaLevel,
			MaxHeight:  gc.MaxHeight,
		},
		Logging:   LoggingConfig{Level: "INFO"},
		Telemetry: observability.DefaultConfig(),
	}
}

// LoadDotEnv подгружает переменные WORLD_* из .env-файла (по умолчанию ./.env).
// Уже заданные переменные окружения не перезаписываются, отсутствие файла не ошибка.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load читает YAML-файл поверх значений по умолчанию.
// Если path == "", берётся ENV WORLD_CONFIG; без файла возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WORLD_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию целиком
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for badger backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	sc, err := c.StreamingOptions()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	if err := c.MigrationOptions().Validate(); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for component, level := range c.Logging.Components {
		if _, err := logging.ParseLevel(level); err != nil {
			return fmt.Errorf("logging.components.%s: %w", component, err)
		}
	}
	return nil
}

// StreamingOptions переводит секцию streaming в настройки менеджера
func (c *Config) StreamingOptions() (streaming.Config, error) {
	sc := streaming.DefaultConfig()
	sc.MaxConcurrentLoads = c.Streaming.MaxConcurrentLoads
	sc.PreloadCacheSize = c.Streaming.PreloadCacheSize
	sc.EnablePredictivePreload = c.Streaming.EnablePredictivePreload
	sc.PreloadDistance = c.Streaming.PreloadDistance
	sc.MemoryOptimizationThreshold = c.Streaming.MemoryOptimizationThreshold
	sc.MaxMemoryBytes = c.Streaming.MaxMemoryBytes
	sc.SaveRetries = c.Streaming.SaveRetries
	sc.EvictionInterval = c.Streaming.EvictionInterval

	format, err := chunk.ParseFormat(c.Streaming.PreferredFormat)
	if err != nil {
		return sc, fmt.Errorf("streaming.preferred_format: %w", err)
	}
	sc.PreferredFormat = format

	modes, err := storage.ParseWriteMode(c.Streaming.SaveModes)
	if err != nil {
		return sc, fmt.Errorf("streaming.save_modes: %w", err)
	}
	sc.SaveModes = modes
	return sc, nil
}

// MigrationOptions переводит секцию migration в настройки менеджера
func (c *Config) MigrationOptions() migration.Config {
	mc := migration.DefaultConfig()
	mc.CreateBackup = c.Migration.CreateBackup
	mc.BatchSize = c.Migration.BatchSize
	mc.BatchDelay = c.Migration.BatchDelay
	mc.ValidateAfterMigration = c.Migration.ValidateAfterMigration
	mc.ValidationSampleRate = c.Migration.ValidationSampleRate
	mc.FailOnChunkError = c.Migration.FailOnChunkError
	mc.AutoRollback = c.Migration.AutoRollback
	mc.DiscardBackupOnSuccess = c.Migration.DiscardBackupOnSuccess
	return mc
}

// GeneratorOptions настройки генератора рельефа
func (c *Config) GeneratorOptions() generator.Config {
	return generator.Config{
		Seed:       c.Generator.Seed,
		NoiseScale: c.Generator.NoiseScale,
		BiomeScale: c.Generator.BiomeScale,
		SeaLevel:   c.Generator.SeaLevel,
		MaxHeight:  c.Generator.MaxHeight,
	}
}

// LoggingOptions настройки логгера
func (c *Config) LoggingOptions() logging.Options {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.INFO
	}
	opts := logging.Options{Level: level, Dir: c.Logging.Dir, JSON: c.Logging.JSON}
	for component, name := range c.Logging.Components {
		if lvl, err := logging.ParseLevel(name); err == nil {
			if opts.Components == nil {
				opts.Components = make(map[string]logging.LogLevel)
			}
			opts.Components[component] = lvl
		}
	}
	return opts
}

// OpenStore открывает хранилище выбранного бэкенда
func (c *Config) OpenStore() (storage.KVStore, error) {
	switch c.Storage.Backend {
	case BackendBadger:
		store, err := storage.NewBadgerStore(c.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendRedis:
		r := c.Storage.Redis
		store, err := storage.NewRedisStore(&storage.RedisConfig{
			Addr:           r.Addr,
			Password:       r.Password,
			DB:             r.DB,
			KeyPrefix:      r.KeyPrefix,
			MaxConnections: r.MaxConnections,
			PoolTimeout:    r.PoolTimeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// GetAdminPort возвращает порт админ-API с поддержкой fallback значений
func (s *ServerConfig) GetAdminPort() int {
	return getPortWithEnvFallback(s.AdminPort, "WORLD_ADMIN_PORT", 8089)
}

// GetNodeID возвращает идентификатор узла: config -> WORLD_NODE_ID -> hostname
func (s *ServerConfig) GetNodeID() string {
	if s.NodeID != "" {
		return s.NodeID
	}
	if id := os.Getenv("WORLD_NODE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "worldstore"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}
