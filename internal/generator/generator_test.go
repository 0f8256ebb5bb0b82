package generator

import (
	"context"
	"testing"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerlinGenerator_Deterministic(t *testing.T) {
	ctx := context.Background()
	key := chunk.NewKey(chunk.Overworld, 3, -7)

	g1, err := NewPerlinGenerator(DefaultConfig(1234))
	require.NoError(t, err)
	g2, err := NewPerlinGenerator(DefaultConfig(1234))
	require.NoError(t, err)

	a, err := g1.Generate(ctx, key)
	require.NoError(t, err)
	b, err := g2.Generate(ctx, key)
	require.NoError(t, err)

	assert.Empty(t, a.Diff(b))
	assert.Equal(t, key, a.Key)
}

func TestPerlinGenerator_ColumnLayout(t *testing.T) {
	cfg := DefaultConfig(42)
	g, err := NewPerlinGenerator(cfg)
	require.NoError(t, err)

	c, err := g.Generate(context.Background(), chunk.NewKey(chunk.Overworld, 0, 0))
	require.NoError(t, err)

	for x := 0; x < chunk.SectionSize; x++ {
		for z := 0; z < chunk.SectionSize; z++ {
			h := int(c.Height(x, z))
			assert.GreaterOrEqual(t, h, cfg.SeaLevel)
			assert.Less(t, h, cfg.MaxHeight)
			assert.Less(t, int(c.Biome(x, z)), chunk.LegacyBiomeLimit)

			// Над картой высот только воздух, дно мира занято
			assert.Equal(t, chunk.AirBlockID, c.Block(x, h+1, z))
			assert.NotEqual(t, chunk.AirBlockID, c.Block(x, 0, z))
		}
	}

	// Сгенерированный чанк кодируется в legacy без потерь
	data, err := chunk.EncodeLegacy(c)
	require.NoError(t, err)
	back, err := chunk.DecodeLegacy(c.Key, data)
	require.NoError(t, err)
	assert.Empty(t, c.Diff(back))
}

func TestPerlinGenerator_DimensionsDiffer(t *testing.T) {
	ctx := context.Background()
	g, err := NewPerlinGenerator(DefaultConfig(7))
	require.NoError(t, err)

	over, err := g.Generate(ctx, chunk.NewKey(chunk.Overworld, 5, 5))
	require.NoError(t, err)
	nether, err := g.Generate(ctx, chunk.NewKey(chunk.Nether, 5, 5))
	require.NoError(t, err)

	over.Key = nether.Key
	assert.NotEmpty(t, over.Diff(nether))
}

func TestPerlinGenerator_Cancelled(t *testing.T) {
	g, err := NewPerlinGenerator(DefaultConfig(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, chunk.NewKey(chunk.Overworld, 0, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPerlinGenerator_Validation(t *testing.T) {
	cfg := DefaultConfig(1)
	cfg.SeaLevel = cfg.MaxHeight
	_, err := NewPerlinGenerator(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig(1)
	cfg.NoiseScale = 0
	_, err = NewPerlinGenerator(cfg)
	assert.Error(t, err)
}
