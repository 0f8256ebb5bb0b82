package chunk

import "fmt"

// BiomeEncoding способ хранения биомов в legacy-формате
type BiomeEncoding uint8

const (
	BiomeSingle   BiomeEncoding = 0 // Один биом на весь чанк
	BiomePaletted BiomeEncoding = 1 // Палитра + индекс на каждую колонку
)

// LegacyBiomes биомы legacy-чанка. ID в палитре 32-битные, поэтому
// legacy-запись может содержать значения, которых нет в enhanced-формате.
type LegacyBiomes struct {
	Encoding BiomeEncoding
	Single   uint32
	Palette  []uint32
	Indices  [ColumnCount]uint16
}

// Flatten переводит legacy-биомы в плоский массив enhanced-формата.
// Палитра длиннее 256 записей или ID вне диапазона 0..255 дают ErrUnsupportedBiomePalette.
func (b *LegacyBiomes) Flatten() ([ColumnCount]BiomeID, error) {
	var out [ColumnCount]BiomeID

	switch b.Encoding {
	case BiomeSingle:
		if b.Single >= EnhancedBiomeLimit {
			return out, fmt.Errorf("%w: biome id %d", ErrUnsupportedBiomePalette, b.Single)
		}
		for i := range out {
			out[i] = BiomeID(b.Single)
		}
		return out, nil

	case BiomePaletted:
		if len(b.Palette) == 0 {
			return out, fmt.Errorf("%w: empty biome palette", ErrMalformed)
		}
		if len(b.Palette) > EnhancedBiomeLimit {
			return out, fmt.Errorf("%w: palette has %d entries", ErrUnsupportedBiomePalette, len(b.Palette))
		}
		for _, id := range b.Palette {
			if id >= EnhancedBiomeLimit {
				return out, fmt.Errorf("%w: biome id %d", ErrUnsupportedBiomePalette, id)
			}
		}
		for i, idx := range b.Indices {
			if int(idx) >= len(b.Palette) {
				return out, fmt.Errorf("%w: biome index %d out of palette (%d entries)", ErrMalformed, idx, len(b.Palette))
			}
			out[i] = BiomeID(b.Palette[idx])
		}
		return out, nil
	}

	return out, fmt.Errorf("%w: unknown biome encoding %d", ErrMalformed, b.Encoding)
}

// LegacyBiomesFromFlat строит legacy-представление. Одинаковые биомы кодируются
// одним значением, иначе палитрой в порядке первого появления.
// ID >= LegacyBiomeLimit не существуют в legacy-реестре: ErrLossyConversion.
func LegacyBiomesFromFlat(flat [ColumnCount]BiomeID) (LegacyBiomes, error) {
	var out LegacyBiomes

	for i, id := range flat {
		if id >= LegacyBiomeLimit {
			return out, fmt.Errorf("%w: biome id %d at column %d", ErrLossyConversion, id, i)
		}
	}

	palette := make([]uint32, 0, 4)
	lookup := make(map[BiomeID]uint16, 4)
	for i, id := range flat {
		idx, ok := lookup[id]
		if !ok {
			idx = uint16(len(palette))
			lookup[id] = idx
			palette = append(palette, uint32(id))
		}
		out.Indices[i] = idx
	}

	if len(palette) == 1 {
		return LegacyBiomes{Encoding: BiomeSingle, Single: palette[0]}, nil
	}
	out.Encoding = BiomePaletted
	out.Palette = palette
	return out, nil
}
