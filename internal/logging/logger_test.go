package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger_ComponentField(t *testing.T) {
	l, err := NewLogger("storage")
	require.NoError(t, err)

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.Info("chunk %s loaded", "overworld/1/2")
	l.Debug("скрыто на уровне INFO")

	out := buf.String()
	assert.Contains(t, out, "component=storage")
	assert.Contains(t, out, "chunk overworld/1/2 loaded")
	assert.NotContains(t, out, "скрыто")
}

func TestLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLoggerWithOptions("migration", Options{Level: DEBUG, Dir: dir})
	require.NoError(t, err)

	l.Debug("batch %d committed", 3)
	require.NoError(t, l.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "migration_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch 3 committed")
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	assert.Contains(t, HexDump([]byte{0xde, 0xad}), "de ad")
}

func TestLoggerManager_ComponentOverrides(t *testing.T) {
	require.NoError(t, InitDefaultLoggerWithOptions("test", Options{
		Level:      INFO,
		Components: map[string]LogLevel{"storage": ERROR, "migration": DEBUG},
	}))
	t.Cleanup(func() { _ = InitDefaultLogger("server") })

	var buf bytes.Buffer
	Default().SetOutput(&buf)
	GetLoggerManager().Reset()

	GetStorageLogger().Warn("storage warning")
	GetMigrationLogger().Debug("migration debug")
	GetStreamingLogger().Debug("streaming debug")
	GetStreamingLogger().Info("streaming info")

	out := buf.String()
	assert.NotContains(t, out, "storage warning")
	assert.Contains(t, out, "migration debug")
	assert.NotContains(t, out, "streaming debug")
	assert.Contains(t, out, "streaming info")
}
