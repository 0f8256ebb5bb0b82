package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("WORLD_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 8, cfg.Streaming.MaxConcurrentLoads)
	assert.Equal(t, 256, cfg.Streaming.PreloadCacheSize)
	assert.Equal(t, 50, cfg.Migration.BatchSize)
	assert.True(t, cfg.Migration.CreateBackup)
}

func TestLoad_OverridesFromYAML(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
streaming:
  max_concurrent_loads: 2
  preferred_format: legacy
  save_modes: both
  eviction_interval: 250ms
migration:
  batch_size: 10
  batch_delay: 5ms
  fail_on_chunk_error: true
logging:
  level: debug
  components:
    storage: warn
notify:
  nats:
    url: nats://localhost:4222
    subject: test.chunks
  webhooks:
    - name: ops
      url: http://localhost:9000/hooks
      events: ["migration.failed"]
      timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	// Незаданные поля сохраняют значения по умолчанию
	assert.Equal(t, 256, cfg.Streaming.PreloadCacheSize)

	sc, err := cfg.StreamingOptions()
	require.NoError(t, err)
	assert.Equal(t, 2, sc.MaxConcurrentLoads)
	assert.Equal(t, chunk.FormatLegacy, sc.PreferredFormat)
	assert.Equal(t, storage.WriteBoth, sc.SaveModes)
	assert.Equal(t, 250*time.Millisecond, sc.EvictionInterval)

	mc := cfg.MigrationOptions()
	assert.Equal(t, 10, mc.BatchSize)
	assert.Equal(t, 5*time.Millisecond, mc.BatchDelay)
	assert.True(t, mc.FailOnChunkError)

	assert.Equal(t, logging.DEBUG, cfg.LoggingOptions().Level)
	assert.Equal(t, map[string]logging.LogLevel{"storage": logging.WARN}, cfg.LoggingOptions().Components)
	assert.Equal(t, "test.chunks", cfg.Notify.NATS.Subject)
	require.Len(t, cfg.Notify.Webhooks, 1)
	assert.Equal(t, 2*time.Second, cfg.Notify.Webhooks[0].Timeout)

	store, err := cfg.OpenStore()
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestLoad_FromEnv(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")
	t.Setenv("WORLD_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend":   "storage:\n  backend: floppy\n",
		"threshold": "streaming:\n  memory_optimization_threshold: 1.5\n",
		"format":    "streaming:\n  preferred_format: json\n",
		"batch":     "migration:\n  batch_size: 0\n",
		"level":     "logging:\n  level: loud\n",
		"component": "logging:\n  components:\n    storage: loud\n",
		"yaml":      "storage: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServerConfig_AdminPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("WORLD_ADMIN_PORT", "")
	assert.Equal(t, 8089, s.GetAdminPort())

	t.Setenv("WORLD_ADMIN_PORT", "9100")
	assert.Equal(t, 9100, s.GetAdminPort())

	s.AdminPort = 7000
	assert.Equal(t, 7000, s.GetAdminPort())
}

func TestServerConfig_NodeID(t *testing.T) {
	s := ServerConfig{NodeID: "node-a"}
	assert.Equal(t, "node-a", s.GetNodeID())

	t.Setenv("WORLD_NODE_ID", "node-b")
	assert.Equal(t, "node-b", (&ServerConfig{}).GetNodeID())
}

func TestDefault_WriteModeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Streaming.SaveModes = storage.WriteBoth.String()
	sc, err := cfg.StreamingOptions()
	require.NoError(t, err)
	assert.Equal(t, storage.WriteBoth, sc.SaveModes)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WORLDSTORE_DOTENV_PROBE=from-file\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("WORLDSTORE_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("WORLDSTORE_DOTENV_PROBE"))
}
