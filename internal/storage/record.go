package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptRecord запись повреждена: заголовок, контрольная сумма или содержимое
var ErrCorruptRecord = errors.New("storage: corrupt record")

// Заголовок записи: magic(2) | version(1) | format(1) | flags(1) | checksum(8)
const (
	recordHeaderSize = 13

	// FlagZstd - payload сжат zstd
	FlagZstd uint8 = 1 << 0
)

var recordMagic = [2]byte{'W', 'R'}

var (
	codecOnce  sync.Once
	compressor *zstd.Encoder
	decompress *zstd.Decoder
	codecErr   error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		compressor, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decompress, codecErr = zstd.NewReader(nil)
	})
	return compressor, decompress, codecErr
}

// Record сырая запись чанка в одном формате
type Record struct {
	Format   chunk.Format
	Version  uint8  // Версия кодека, которым записан payload
	Flags    uint8
	Checksum uint64 // xxhash64 от хранимого payload
	Payload  []byte // Хранимые байты (возможно, сжатые)
}

// NewRecord упаковывает закодированный чанк. Enhanced-записи сжимаются zstd.
func NewRecord(format chunk.Format, data []byte) (*Record, error) {
	r := &Record{Format: format, Payload: data}

	switch format {
	case chunk.FormatLegacy:
		r.Version = chunk.LegacyVersion
	case chunk.FormatEnhanced:
		r.Version = chunk.EnhancedVersion
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		r.Payload = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
		r.Flags |= FlagZstd
	default:
		return nil, fmt.Errorf("unknown record format %d", format)
	}

	r.Checksum = xxhash.Sum64(r.Payload)
	return r, nil
}

// Marshal сериализует запись с заголовком
func (r *Record) Marshal() []byte {
	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(r.Payload))
	buf[0], buf[1] = recordMagic[0], recordMagic[1]
	buf[2] = r.Version
	buf[3] = byte(r.Format)
	buf[4] = r.Flags
	binary.LittleEndian.PutUint64(buf[5:], r.Checksum)
	return append(buf, r.Payload...)
}

// UnmarshalRecord разбирает запись и проверяет контрольную сумму
func UnmarshalRecord(data []byte) (*Record, error) {
	if len(data) < recordHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(data))
	}
	if data[0] != recordMagic[0] || data[1] != recordMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptRecord)
	}

	r := &Record{
		Version:  data[2],
		Format:   chunk.Format(data[3]),
		Flags:    data[4],
		Checksum: binary.LittleEndian.Uint64(data[5:]),
		Payload:  append([]byte(nil), data[recordHeaderSize:]...),
	}
	if r.Format != chunk.FormatLegacy && r.Format != chunk.FormatEnhanced {
		return nil, fmt.Errorf("%w: unknown format tag %d", ErrCorruptRecord, data[3])
	}
	if sum := xxhash.Sum64(r.Payload); sum != r.Checksum {
		return nil, fmt.Errorf("%w: checksum %016x != %016x", ErrCorruptRecord, sum, r.Checksum)
	}
	return r, nil
}

// Data возвращает закодированный чанк (распакованный при необходимости)
func (r *Record) Data() ([]byte, error) {
	if r.Flags&FlagZstd == 0 {
		return r.Payload, nil
	}
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := dec.DecodeAll(r.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptRecord, err)
	}
	return out, nil
}

// Decode декодирует запись в чанк. Ошибки кодека возвращаются как есть
// (ErrTruncated, ErrMalformed, ErrUnsupportedBiomePalette).
func (r *Record) Decode(key chunk.Key) (*chunk.Chunk, error) {
	data, err := r.Data()
	if err != nil {
		return nil, err
	}

	switch r.Format {
	case chunk.FormatLegacy:
		return chunk.DecodeLegacy(key, data)
	case chunk.FormatEnhanced:
		c, err := chunk.DecodeEnhanced(data)
		if err != nil {
			return nil, err
		}
		if c.Key != key {
			return nil, fmt.Errorf("%w: record for %s stored under %s", chunk.ErrMalformed, c.Key, key)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown format %d", ErrCorruptRecord, r.Format)
}

// EncodeRecord кодирует чанк в заданный формат и упаковывает в запись
func EncodeRecord(c *chunk.Chunk, format chunk.Format) (*Record, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case chunk.FormatLegacy:
		data, err = chunk.EncodeLegacy(c)
	case chunk.FormatEnhanced:
		data = chunk.EncodeEnhanced(c)
	default:
		err = fmt.Errorf("unknown format %d", format)
	}
	if err != nil {
		return nil, err
	}
	return NewRecord(format, data)
}
