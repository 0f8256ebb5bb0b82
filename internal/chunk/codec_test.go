package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleChunk строит чанк с двумя секциями и палитрой из двух биомов
func sampleChunk(key Key) *Chunk {
	c := New(key)
	for x := 0; x < SectionSize; x++ {
		for z := 0; z < SectionSize; z++ {
			c.SetBlock(x, 0, z, StoneBlockID)
			c.SetBlock(x, 1, z, DirtBlockID)
			c.SetHeight(x, z, 2)
			if x < 8 {
				c.SetBiome(x, z, 1)
			} else {
				c.SetBiome(x, z, 4)
			}
		}
	}
	c.SetBlock(3, -5, 7, WaterBlockID)
	c.Modified = 1700000000000
	return c
}

func TestEnhanced_RoundTrip(t *testing.T) {
	c := sampleChunk(NewKey(Nether, -3, 12))

	data := EncodeEnhanced(c)
	out, err := DecodeEnhanced(data)
	require.NoError(t, err)

	assert.True(t, c.Equal(out), "diff: %v", c.Diff(out))
	assert.Equal(t, c.Key, out.Key)
	assert.Equal(t, WaterBlockID, out.Block(3, -5, 7))
	assert.False(t, out.IsDirty())
}

func TestEnhanced_Deterministic(t *testing.T) {
	c := sampleChunk(NewKey(Overworld, 1, 2))
	assert.Equal(t, EncodeEnhanced(c), EncodeEnhanced(c.Clone()))
}

func TestEnhanced_Truncated(t *testing.T) {
	data := EncodeEnhanced(sampleChunk(NewKey(Overworld, 0, 0)))

	_, err := DecodeEnhanced(data[:len(data)-10])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeEnhanced(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLegacy_RoundTrip(t *testing.T) {
	c := sampleChunk(NewKey(Overworld, 5, -9))

	data, err := EncodeLegacy(c)
	require.NoError(t, err)
	assert.Equal(t, byte(LegacyVersion), data[0])

	out, err := DecodeLegacy(c.Key, data)
	require.NoError(t, err)
	assert.Empty(t, c.Diff(out))
}

func TestLegacy_SingleBiome(t *testing.T) {
	c := New(NewKey(End, 0, 0))
	c.SetBlock(0, 0, 0, SandBlockID)

	lc, err := LegacyFromChunk(c)
	require.NoError(t, err)
	assert.Equal(t, BiomeSingle, lc.Biomes.Encoding)
	assert.Equal(t, uint32(0), lc.Biomes.Single)

	data, err := lc.MarshalBinary()
	require.NoError(t, err)
	out, err := DecodeLegacy(c.Key, data)
	require.NoError(t, err)
	assert.Empty(t, c.Diff(out))
}

func TestLegacy_ToEnhancedPreservesContent(t *testing.T) {
	c := sampleChunk(NewKey(Overworld, 7, 7))
	legacy, err := EncodeLegacy(c)
	require.NoError(t, err)

	fromLegacy, err := DecodeLegacy(c.Key, legacy)
	require.NoError(t, err)
	fromEnhanced, err := DecodeEnhanced(EncodeEnhanced(fromLegacy))
	require.NoError(t, err)

	assert.Empty(t, fromEnhanced.Diff(c))
}

func TestLegacy_Truncated(t *testing.T) {
	data, err := EncodeLegacy(sampleChunk(NewKey(Overworld, 0, 0)))
	require.NoError(t, err)

	_, err = DecodeLegacy(Key{}, data[:100])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeLegacy(Key{}, data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeLegacy(Key{}, append(data, 0))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLegacy_UnsupportedBiomePalette(t *testing.T) {
	palette := make([]uint32, 300)
	for i := range palette {
		palette[i] = uint32(i % 200)
	}
	lc := &LegacyChunk{Biomes: LegacyBiomes{Encoding: BiomePaletted, Palette: palette}}
	data, err := lc.MarshalBinary()
	require.NoError(t, err)

	_, err = DecodeLegacy(Key{}, data)
	assert.ErrorIs(t, err, ErrUnsupportedBiomePalette)

	lc = &LegacyChunk{Biomes: LegacyBiomes{Encoding: BiomeSingle, Single: 1000}}
	data, err = lc.MarshalBinary()
	require.NoError(t, err)
	_, err = DecodeLegacy(Key{}, data)
	assert.ErrorIs(t, err, ErrUnsupportedBiomePalette)
}

func TestLegacy_LossyConversion(t *testing.T) {
	c := New(NewKey(Overworld, 0, 0))
	c.SetBiome(4, 4, LegacyBiomeLimit+3)

	_, err := EncodeLegacy(c)
	assert.ErrorIs(t, err, ErrLossyConversion)

	// В enhanced-формате тот же биом допустим
	out, err := DecodeEnhanced(EncodeEnhanced(c))
	require.NoError(t, err)
	assert.Equal(t, BiomeID(LegacyBiomeLimit+3), out.Biome(4, 4))
}

func TestLegacy_BadPaletteIndex(t *testing.T) {
	lc := &LegacyChunk{Biomes: LegacyBiomes{Encoding: BiomePaletted, Palette: []uint32{1, 2}}}
	lc.Biomes.Indices[10] = 5
	data, err := lc.MarshalBinary()
	require.NoError(t, err)

	_, err = DecodeLegacy(Key{}, data)
	assert.ErrorIs(t, err, ErrMalformed)
}
