package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/annel0/worldstore/internal/vec"
)

// Размеры чанка
const (
	SectionSize      = 16                                     // Сторона секции в блоках
	BlocksPerSection = SectionSize * SectionSize * SectionSize // 4096 блоков в секции
	ColumnCount      = SectionSize * SectionSize              // 256 колонок по горизонтали

	// LegacyBiomeLimit - первый ID биома, который не существует в legacy-реестре
	LegacyBiomeLimit = 128
	// EnhancedBiomeLimit - размер пространства ID биомов enhanced-формата
	EnhancedBiomeLimit = 256
)

// Ошибки кодека
var (
	ErrTruncated               = errors.New("chunk: truncated payload")
	ErrMalformed               = errors.New("chunk: malformed payload")
	ErrUnsupportedBiomePalette = errors.New("chunk: legacy biome palette exceeds enhanced id space")
	ErrLossyConversion         = errors.New("chunk: biome ids not representable in legacy format")
)

// BlockID идентификатор блока
type BlockID uint16

// Базовые блоки, используемые генератором
const (
	AirBlockID   BlockID = iota // 0
	StoneBlockID                // 1
	GrassBlockID                // 2
	WaterBlockID                // 3
	SandBlockID                 // 4
	DirtBlockID                 // 5
)

// BiomeID идентификатор биома в enhanced-формате
type BiomeID uint8

// Dimension идентификатор измерения
type Dimension int32

const (
	Overworld Dimension = iota
	Nether
	End
)

// Dimensions возвращает известные измерения в порядке сортировки
func Dimensions() []Dimension {
	return []Dimension{Overworld, Nether, End}
}

func (d Dimension) String() string {
	switch d {
	case Overworld:
		return "overworld"
	case Nether:
		return "nether"
	case End:
		return "the_end"
	default:
		return "dim" + strconv.Itoa(int(d))
	}
}

// ParseDimension разбирает имя измерения
func ParseDimension(s string) (Dimension, error) {
	switch s {
	case "overworld":
		return Overworld, nil
	case "nether":
		return Nether, nil
	case "the_end":
		return End, nil
	}
	if rest, ok := strings.CutPrefix(s, "dim"); ok {
		n, err := strconv.ParseInt(rest, 10, 32)
		if err == nil {
			return Dimension(n), nil
		}
	}
	return 0, fmt.Errorf("unknown dimension %q", s)
}

// Key однозначно идентифицирует чанк в обоих форматах
type Key struct {
	Dim Dimension
	X   int32
	Z   int32
}

// NewKey создаёт ключ чанка
func NewKey(dim Dimension, x, z int32) Key {
	return Key{Dim: dim, X: x, Z: z}
}

// String возвращает ключ в виде "overworld/1/-2"
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Dim, k.X, k.Z)
}

// ParseKey разбирает строку, полученную из Key.String
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid chunk key %q", s)
	}
	dim, err := ParseDimension(parts[0])
	if err != nil {
		return Key{}, err
	}
	x, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("invalid chunk x in %q: %w", s, err)
	}
	z, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("invalid chunk z in %q: %w", s, err)
	}
	return Key{Dim: dim, X: int32(x), Z: int32(z)}, nil
}

// Compare задаёт полный порядок (dimension, x, z)
func (k Key) Compare(o Key) int {
	switch {
	case k.Dim != o.Dim:
		if k.Dim < o.Dim {
			return -1
		}
		return 1
	case k.X != o.X:
		if k.X < o.X {
			return -1
		}
		return 1
	case k.Z != o.Z:
		if k.Z < o.Z {
			return -1
		}
		return 1
	}
	return 0
}

// Less сообщает, предшествует ли k ключу o
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// Pos возвращает координаты чанка как вектор (X, Z)
func (k Key) Pos() vec.Vec2 {
	return vec.Vec2{X: int(k.X), Y: int(k.Z)}
}

// Offset возвращает ключ, смещённый на вектор в том же измерении
func (k Key) Offset(d vec.Vec2) Key {
	return Key{Dim: k.Dim, X: k.X + int32(d.X), Z: k.Z + int32(d.Y)}
}

// SortKeys сортирует ключи по (dimension, x, z)
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Format формат хранения чанка
type Format uint8

const (
	FormatLegacy Format = iota + 1
	FormatEnhanced
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatEnhanced:
		return "enhanced"
	default:
		return "unknown"
	}
}

// Other возвращает второй формат
func (f Format) Other() Format {
	if f == FormatLegacy {
		return FormatEnhanced
	}
	return FormatLegacy
}

// ParseFormat разбирает имя формата из конфигурации
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy":
		return FormatLegacy, nil
	case "enhanced", "":
		return FormatEnhanced, nil
	default:
		return 0, fmt.Errorf("unknown chunk format %q", s)
	}
}

// Section вертикальная секция 16x16x16 блоков, индексы в порядке XZY
type Section struct {
	Y      int8
	Blocks [BlocksPerSection]BlockID
}

func blockIndex(x, y, z int) int {
	return (x << 8) | (z << 4) | y
}

func columnIndex(x, z int) int {
	return (x << 4) | z
}

// Chunk декодированный чанк в enhanced-представлении
type Chunk struct {
	Key       Key
	Sections  []*Section // Отсортированы по Y, без дубликатов
	Biomes    [ColumnCount]BiomeID
	HeightMap [ColumnCount]uint16
	Modified  int64 // Время последнего изменения, unix ms

	mu      sync.RWMutex
	dirty   bool
	version uint64
}

// New создаёт пустой чанк
func New(key Key) *Chunk {
	return &Chunk{Key: key}
}

// RLock/RUnlock дают кодеку и хранилищу согласованный снимок чанка
func (c *Chunk) RLock()   { c.mu.RLock() }
func (c *Chunk) RUnlock() { c.mu.RUnlock() }

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (c *Chunk) sectionLocked(y int8) *Section {
	i := sort.Search(len(c.Sections), func(i int) bool { return c.Sections[i].Y >= y })
	if i < len(c.Sections) && c.Sections[i].Y == y {
		return c.Sections[i]
	}
	return nil
}

func (c *Chunk) ensureSectionLocked(y int8) *Section {
	i := sort.Search(len(c.Sections), func(i int) bool { return c.Sections[i].Y >= y })
	if i < len(c.Sections) && c.Sections[i].Y == y {
		return c.Sections[i]
	}
	s := &Section{Y: y}
	c.Sections = append(c.Sections, nil)
	copy(c.Sections[i+1:], c.Sections[i:])
	c.Sections[i] = s
	return s
}

// Block возвращает блок по локальным x, z (0..15) и абсолютной высоте y
func (c *Chunk) Block(x, y, z int) BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.sectionLocked(int8(floorDiv(y, SectionSize)))
	if s == nil {
		return AirBlockID
	}
	return s.Blocks[blockIndex(x, y-floorDiv(y, SectionSize)*SectionSize, z)]
}

// SetBlock устанавливает блок и помечает чанк изменённым
func (c *Chunk) SetBlock(x, y, z int, id BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sy := floorDiv(y, SectionSize)
	s := c.ensureSectionLocked(int8(sy))
	s.Blocks[blockIndex(x, y-sy*SectionSize, z)] = id
	c.touchLocked()
}

// Biome возвращает биом колонки
func (c *Chunk) Biome(x, z int) BiomeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Biomes[columnIndex(x, z)]
}

// SetBiome устанавливает биом колонки
func (c *Chunk) SetBiome(x, z int, id BiomeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Biomes[columnIndex(x, z)] = id
	c.touchLocked()
}

// Height возвращает высоту колонки
func (c *Chunk) Height(x, z int) uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HeightMap[columnIndex(x, z)]
}

// SetHeight устанавливает высоту колонки
func (c *Chunk) SetHeight(x, z int, h uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HeightMap[columnIndex(x, z)] = h
	c.touchLocked()
}

func (c *Chunk) touchLocked() {
	c.Modified = time.Now().UnixMilli()
	c.dirty = true
	c.version++
}

// MarkDirty помечает чанк изменённым (после прямой правки полей)
func (c *Chunk) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
}

// IsDirty сообщает, есть ли несохранённые изменения
func (c *Chunk) IsDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// Version возвращает счётчик изменений
func (c *Chunk) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// ClearDirty снимает флаг, только если с момента снимка version не было новых изменений
func (c *Chunk) ClearDirty(version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		return false
	}
	c.dirty = false
	return true
}

// Clone возвращает глубокую копию без флага dirty
func (c *Chunk) Clone() *Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Chunk{
		Key:       c.Key,
		Biomes:    c.Biomes,
		HeightMap: c.HeightMap,
		Modified:  c.Modified,
		Sections:  make([]*Section, len(c.Sections)),
	}
	for i, s := range c.Sections {
		cp := *s
		out.Sections[i] = &cp
	}
	return out
}

// Equal - структурное равенство (ключ, содержимое и время изменения), флаг dirty не учитывается
func (c *Chunk) Equal(o *Chunk) bool {
	if c == nil || o == nil {
		return c == o
	}
	c.mu.RLock()
	modified := c.Modified
	c.mu.RUnlock()
	o.mu.RLock()
	otherModified := o.Modified
	o.mu.RUnlock()

	return modified == otherModified && len(c.Diff(o)) == 0
}

// Diff перечисляет расхождения содержимого (ключ, секции, биомы, карта высот).
// Время изменения не сравнивается: legacy-формат его не хранит.
func (c *Chunk) Diff(o *Chunk) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c != o {
		o.mu.RLock()
		defer o.mu.RUnlock()
	}

	var diffs []string
	if c.Key != o.Key {
		diffs = append(diffs, fmt.Sprintf("key %s != %s", c.Key, o.Key))
	}

	for i := 0; i < ColumnCount; i++ {
		if c.Biomes[i] != o.Biomes[i] {
			diffs = append(diffs, fmt.Sprintf("biome mismatch at column %d: %d != %d", i, c.Biomes[i], o.Biomes[i]))
			break
		}
	}
	for i := 0; i < ColumnCount; i++ {
		if c.HeightMap[i] != o.HeightMap[i] {
			diffs = append(diffs, fmt.Sprintf("height mismatch at column %d: %d != %d", i, c.HeightMap[i], o.HeightMap[i]))
			break
		}
	}

	if len(c.Sections) != len(o.Sections) {
		diffs = append(diffs, fmt.Sprintf("section count %d != %d", len(c.Sections), len(o.Sections)))
		return diffs
	}
	for i, s := range c.Sections {
		other := o.Sections[i]
		if s.Y != other.Y {
			diffs = append(diffs, fmt.Sprintf("section %d has y %d != %d", i, s.Y, other.Y))
			continue
		}
		if s.Blocks != other.Blocks {
			diffs = append(diffs, fmt.Sprintf("section y=%d block data mismatch", s.Y))
		}
	}
	return diffs
}

// EstimatedSize оценивает занимаемую чанком память в байтах
func (c *Chunk) EstimatedSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	const base = 256 + ColumnCount + ColumnCount*2
	return base + int64(len(c.Sections))*(BlocksPerSection*2+16)
}
