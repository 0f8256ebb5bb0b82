package chunk

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// EnhancedVersion версия схемы enhanced-записи
const EnhancedVersion = 1

// Поля enhanced-записи. Порядок записи фиксирован, поэтому кодирование детерминировано.
const (
	fieldVersion   protowire.Number = 1
	fieldDimension protowire.Number = 2
	fieldX         protowire.Number = 3
	fieldZ         protowire.Number = 4
	fieldModified  protowire.Number = 5
	fieldBiomes    protowire.Number = 6
	fieldHeights   protowire.Number = 7
	fieldSection   protowire.Number = 8

	sectionFieldY      protowire.Number = 1
	sectionFieldBlocks protowire.Number = 2
)

// EncodeEnhanced кодирует чанк в enhanced-формат
func EncodeEnhanced(c *Chunk) []byte {
	c.RLock()
	defer c.RUnlock()

	buf := make([]byte, 0, 64+ColumnCount*3+len(c.Sections)*BlocksPerSection)

	buf = protowire.AppendTag(buf, fieldVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, EnhancedVersion)
	buf = protowire.AppendTag(buf, fieldDimension, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(c.Key.Dim)))
	buf = protowire.AppendTag(buf, fieldX, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(c.Key.X)))
	buf = protowire.AppendTag(buf, fieldZ, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(c.Key.Z)))
	buf = protowire.AppendTag(buf, fieldModified, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(c.Modified))

	biomes := make([]byte, ColumnCount)
	for i, b := range c.Biomes {
		biomes[i] = byte(b)
	}
	buf = protowire.AppendTag(buf, fieldBiomes, protowire.BytesType)
	buf = protowire.AppendBytes(buf, biomes)

	heights := make([]byte, 0, ColumnCount*2)
	for _, h := range c.HeightMap {
		heights = protowire.AppendVarint(heights, uint64(h))
	}
	buf = protowire.AppendTag(buf, fieldHeights, protowire.BytesType)
	buf = protowire.AppendBytes(buf, heights)

	var section, blocks []byte
	for _, s := range c.Sections {
		blocks = blocks[:0]
		for _, b := range s.Blocks {
			blocks = protowire.AppendVarint(blocks, uint64(b))
		}
		section = section[:0]
		section = protowire.AppendTag(section, sectionFieldY, protowire.VarintType)
		section = protowire.AppendVarint(section, protowire.EncodeZigZag(int64(s.Y)))
		section = protowire.AppendTag(section, sectionFieldBlocks, protowire.BytesType)
		section = protowire.AppendBytes(section, blocks)

		buf = protowire.AppendTag(buf, fieldSection, protowire.BytesType)
		buf = protowire.AppendBytes(buf, section)
	}
	return buf
}

func parseErr(n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func int32Field(v uint64, name string) (int32, error) {
	n := protowire.DecodeZigZag(v)
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrMalformed, name, n)
	}
	return int32(n), nil
}

// DecodeEnhanced декодирует enhanced-запись. Неизвестные поля пропускаются.
func DecodeEnhanced(data []byte) (*Chunk, error) {
	c := &Chunk{}
	var (
		haveVersion, haveBiomes, haveHeights bool
		err                                  error
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, parseErr(n)
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldModified:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]

			switch num {
			case fieldVersion:
				if v != EnhancedVersion {
					return nil, fmt.Errorf("%w: unsupported enhanced version %d", ErrMalformed, v)
				}
				haveVersion = true
			case fieldDimension:
				var d int32
				if d, err = int32Field(v, "dimension"); err != nil {
					return nil, err
				}
				c.Key.Dim = Dimension(d)
			case fieldX:
				if c.Key.X, err = int32Field(v, "x"); err != nil {
					return nil, err
				}
			case fieldZ:
				if c.Key.Z, err = int32Field(v, "z"); err != nil {
					return nil, err
				}
			case fieldModified:
				c.Modified = protowire.DecodeZigZag(v)
			default:
				return nil, fmt.Errorf("%w: unexpected field %d", ErrMalformed, num)
			}

		case typ == protowire.BytesType && num == fieldBiomes:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
			if len(v) != ColumnCount {
				return nil, fmt.Errorf("%w: %d biome entries", ErrMalformed, len(v))
			}
			for i, b := range v {
				c.Biomes[i] = BiomeID(b)
			}
			haveBiomes = true

		case typ == protowire.BytesType && num == fieldHeights:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
			if err := decodePacked16(v, c.HeightMap[:]); err != nil {
				return nil, fmt.Errorf("heights: %w", err)
			}
			haveHeights = true

		case typ == protowire.BytesType && num == fieldSection:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
			s, err := decodeSection(v)
			if err != nil {
				return nil, err
			}
			if len(c.Sections) > 0 && c.Sections[len(c.Sections)-1].Y >= s.Y {
				return nil, fmt.Errorf("%w: section y=%d out of order", ErrMalformed, s.Y)
			}
			c.Sections = append(c.Sections, s)

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
		}
	}

	if !haveVersion || !haveBiomes || !haveHeights {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformed)
	}
	return c, nil
}

func decodeSection(data []byte) (*Section, error) {
	s := &Section{}
	var haveY, haveBlocks bool

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, parseErr(n)
		}
		data = data[n:]

		switch {
		case num == sectionFieldY && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
			y := protowire.DecodeZigZag(v)
			if y < math.MinInt8 || y > math.MaxInt8 {
				return nil, fmt.Errorf("%w: section y %d out of range", ErrMalformed, y)
			}
			s.Y = int8(y)
			haveY = true

		case num == sectionFieldBlocks && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
			blocks := make([]uint16, BlocksPerSection)
			if err := decodePacked16(v, blocks); err != nil {
				return nil, fmt.Errorf("section blocks: %w", err)
			}
			for i, b := range blocks {
				s.Blocks[i] = BlockID(b)
			}
			haveBlocks = true

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, parseErr(n)
			}
			data = data[n:]
		}
	}

	if !haveY || !haveBlocks {
		return nil, fmt.Errorf("%w: incomplete section", ErrMalformed)
	}
	return s, nil
}

// decodePacked16 читает ровно len(dst) упакованных varint-значений
func decodePacked16(data []byte, dst []uint16) error {
	i := 0
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return parseErr(n)
		}
		data = data[n:]
		if i >= len(dst) {
			return fmt.Errorf("%w: more than %d packed values", ErrMalformed, len(dst))
		}
		if v > math.MaxUint16 {
			return fmt.Errorf("%w: packed value %d out of range", ErrMalformed, v)
		}
		dst[i] = uint16(v)
		i++
	}
	if i != len(dst) {
		return fmt.Errorf("%w: %d packed values, want %d", ErrMalformed, i, len(dst))
	}
	return nil
}
