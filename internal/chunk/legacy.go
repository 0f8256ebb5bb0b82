package chunk

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// LegacyVersion версия байтового формата legacy-чанка
const LegacyVersion = 40

const (
	legacySectionBytes = 1 + BlocksPerSection*2
	legacyHeightBytes  = ColumnCount * 2
	legacyIndexBytes   = ColumnCount * 2
)

// LegacyChunk содержимое legacy-записи до преобразования биомов.
// Раскладка (little-endian):
//
//	u8 version | u8 sectionCount | sectionCount x (i8 y, 4096 x u16 blocks)
//	256 x u16 heights | u8 biomeTag
//	tag 0: u32 biome
//	tag 1: u16 paletteLen, paletteLen x u32, 256 x u16 indices
type LegacyChunk struct {
	Sections  []*Section
	HeightMap [ColumnCount]uint16
	Biomes    LegacyBiomes
}

// MarshalBinary сериализует legacy-чанк без проверки биомов
func (lc *LegacyChunk) MarshalBinary() ([]byte, error) {
	if len(lc.Sections) > 255 {
		return nil, fmt.Errorf("%w: %d sections", ErrMalformed, len(lc.Sections))
	}
	if lc.Biomes.Encoding == BiomePaletted && len(lc.Biomes.Palette) > 0xFFFF {
		return nil, fmt.Errorf("%w: palette has %d entries", ErrMalformed, len(lc.Biomes.Palette))
	}

	size := 2 + len(lc.Sections)*legacySectionBytes + legacyHeightBytes + 1
	if lc.Biomes.Encoding == BiomePaletted {
		size += 2 + len(lc.Biomes.Palette)*4 + legacyIndexBytes
	} else {
		size += 4
	}

	buf := make([]byte, 0, size)
	buf = append(buf, LegacyVersion, byte(len(lc.Sections)))
	for _, s := range lc.Sections {
		buf = append(buf, byte(s.Y))
		for _, b := range s.Blocks {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(b))
		}
	}
	for _, h := range lc.HeightMap {
		buf = binary.LittleEndian.AppendUint16(buf, h)
	}

	buf = append(buf, byte(lc.Biomes.Encoding))
	switch lc.Biomes.Encoding {
	case BiomeSingle:
		buf = binary.LittleEndian.AppendUint32(buf, lc.Biomes.Single)
	case BiomePaletted:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(lc.Biomes.Palette)))
		for _, id := range lc.Biomes.Palette {
			buf = binary.LittleEndian.AppendUint32(buf, id)
		}
		for _, idx := range lc.Biomes.Indices {
			buf = binary.LittleEndian.AppendUint16(buf, idx)
		}
	default:
		return nil, fmt.Errorf("%w: unknown biome encoding %d", ErrMalformed, lc.Biomes.Encoding)
	}
	return buf, nil
}

// ParseLegacy разбирает байты legacy-записи без преобразования биомов
func ParseLegacy(data []byte) (*LegacyChunk, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[0] != LegacyVersion {
		return nil, fmt.Errorf("%w: unsupported legacy version %d", ErrMalformed, data[0])
	}

	count := int(data[1])
	fixed := 2 + count*legacySectionBytes + legacyHeightBytes + 1
	if len(data) < fixed {
		return nil, fmt.Errorf("%w: %d bytes for %d sections, need at least %d", ErrTruncated, len(data), count, fixed)
	}

	lc := &LegacyChunk{Sections: make([]*Section, 0, count)}
	off := 2
	for i := 0; i < count; i++ {
		s := &Section{Y: int8(data[off])}
		off++
		for j := range s.Blocks {
			s.Blocks[j] = BlockID(binary.LittleEndian.Uint16(data[off:]))
			off += 2
		}
		lc.Sections = append(lc.Sections, s)
	}
	sort.SliceStable(lc.Sections, func(i, j int) bool { return lc.Sections[i].Y < lc.Sections[j].Y })
	for i := 1; i < len(lc.Sections); i++ {
		if lc.Sections[i].Y == lc.Sections[i-1].Y {
			return nil, fmt.Errorf("%w: duplicate section y=%d", ErrMalformed, lc.Sections[i].Y)
		}
	}

	for i := range lc.HeightMap {
		lc.HeightMap[i] = binary.LittleEndian.Uint16(data[off:])
		off += 2
	}

	lc.Biomes.Encoding = BiomeEncoding(data[off])
	off++
	rest := data[off:]

	switch lc.Biomes.Encoding {
	case BiomeSingle:
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: single biome needs 4 bytes, have %d", ErrTruncated, len(rest))
		}
		lc.Biomes.Single = binary.LittleEndian.Uint32(rest)
		rest = rest[4:]

	case BiomePaletted:
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: missing palette length", ErrTruncated)
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		need := n*4 + legacyIndexBytes
		if len(rest) < need {
			return nil, fmt.Errorf("%w: palette of %d entries needs %d bytes, have %d", ErrTruncated, n, need, len(rest))
		}
		lc.Biomes.Palette = make([]uint32, n)
		for i := range lc.Biomes.Palette {
			lc.Biomes.Palette[i] = binary.LittleEndian.Uint32(rest)
			rest = rest[4:]
		}
		for i := range lc.Biomes.Indices {
			lc.Biomes.Indices[i] = binary.LittleEndian.Uint16(rest)
			rest = rest[2:]
		}

	default:
		return nil, fmt.Errorf("%w: unknown biome encoding %d", ErrMalformed, lc.Biomes.Encoding)
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	return lc, nil
}

// DecodeLegacy декодирует legacy-запись в enhanced-представление.
// Ключ берётся из адреса записи: legacy-формат его не хранит.
func DecodeLegacy(key Key, data []byte) (*Chunk, error) {
	lc, err := ParseLegacy(data)
	if err != nil {
		return nil, err
	}
	return lc.ToChunk(key)
}

// ToChunk преобразует legacy-содержимое в чанк
func (lc *LegacyChunk) ToChunk(key Key) (*Chunk, error) {
	biomes, err := lc.Biomes.Flatten()
	if err != nil {
		return nil, err
	}

	c := New(key)
	c.Biomes = biomes
	c.HeightMap = lc.HeightMap
	c.Sections = make([]*Section, len(lc.Sections))
	for i, s := range lc.Sections {
		cp := *s
		c.Sections[i] = &cp
	}
	return c, nil
}

// LegacyFromChunk строит legacy-содержимое из чанка
func LegacyFromChunk(c *Chunk) (*LegacyChunk, error) {
	c.RLock()
	defer c.RUnlock()

	biomes, err := LegacyBiomesFromFlat(c.Biomes)
	if err != nil {
		return nil, err
	}
	lc := &LegacyChunk{
		Sections:  make([]*Section, len(c.Sections)),
		HeightMap: c.HeightMap,
		Biomes:    biomes,
	}
	for i, s := range c.Sections {
		cp := *s
		lc.Sections[i] = &cp
	}
	return lc, nil
}

// EncodeLegacy кодирует чанк в legacy-формат.
// Биомы без legacy-аналога дают ErrLossyConversion.
func EncodeLegacy(c *Chunk) ([]byte, error) {
	lc, err := LegacyFromChunk(c)
	if err != nil {
		return nil, err
	}
	return lc.MarshalBinary()
}
