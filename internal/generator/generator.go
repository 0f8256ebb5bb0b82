package generator

import (
	"context"
	"fmt"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/aquilax/go-perlin"
)

// Биомы генератора. Все id ниже предела legacy-формата,
// поэтому сгенерированный чанк сохраняется в обоих форматах.
const (
	BiomeOcean     chunk.BiomeID = 0
	BiomePlains    chunk.BiomeID = 1
	BiomeDesert    chunk.BiomeID = 2
	BiomeMountains chunk.BiomeID = 3
	BiomeForest    chunk.BiomeID = 4
	BiomeDeepOcean chunk.BiomeID = 24
)

// Пороговые значения нормализованной высоты
const (
	DeepWaterMax    = 0.20 // Ниже - глубинная вода
	ShallowWaterMax = 0.30 // Ниже - мелководье
	MountainStart   = 0.80 // Выше - горы
)

// Config параметры генератора
type Config struct {
	Seed       int64
	NoiseScale float64 // Масштаб шума высоты
	BiomeScale float64 // Масштаб шума биомов
	SeaLevel   int
	MaxHeight  int // Высота самой высокой точки рельефа
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig(seed int64) Config {
	return Config{
		Seed:       seed,
		NoiseScale: 0.05,
		BiomeScale: 0.02,
		SeaLevel:   32,
		MaxHeight:  96,
	}
}

// PerlinGenerator детерминированный генератор рельефа на шуме Перлина.
// Один и тот же сид и ключ всегда дают одинаковое содержимое.
type PerlinGenerator struct {
	cfg    Config
	height *perlin.Perlin
	biome  *perlin.Perlin
}

// NewPerlinGenerator создаёт генератор
func NewPerlinGenerator(cfg Config) (*PerlinGenerator, error) {
	if cfg.MaxHeight <= 0 || cfg.MaxHeight > 255*chunk.SectionSize {
		return nil, fmt.Errorf("max_height out of range: %d", cfg.MaxHeight)
	}
	if cfg.SeaLevel < 0 || cfg.SeaLevel >= cfg.MaxHeight {
		return nil, fmt.Errorf("sea_level must be in [0, max_height), got %d", cfg.SeaLevel)
	}
	if cfg.NoiseScale <= 0 || cfg.BiomeScale <= 0 {
		return nil, fmt.Errorf("noise scales must be positive")
	}

	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &PerlinGenerator{
		cfg:    cfg,
		height: perlin.NewPerlin(alpha, beta, n, cfg.Seed),
		biome:  perlin.NewPerlin(alpha, beta, n, cfg.Seed+42),
	}, nil
}

// noise возвращает значение шума в диапазоне [0, 1]
func noise(p *perlin.Perlin, x, y float64) float64 {
	v := (p.Noise2D(x, y) + 1.0) / 2.0
	return min(max(v, 0), 1)
}

// Generate генерирует чанк по ключу. Измерения различаются смещением сида шума.
func (g *PerlinGenerator) Generate(ctx context.Context, key chunk.Key) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := chunk.New(key)
	offset := float64(key.Dim) * 10000

	globalStartX := int(key.X) << 4
	globalStartZ := int(key.Z) << 4
	for x := 0; x < chunk.SectionSize; x++ {
		for z := 0; z < chunk.SectionSize; z++ {
			gx := float64(globalStartX+x) + offset
			gz := float64(globalStartZ+z) + offset

			height := noise(g.height, gx*g.cfg.NoiseScale, gz*g.cfg.NoiseScale)
			biomeValue := noise(g.biome, gx*g.cfg.BiomeScale, gz*g.cfg.BiomeScale)
			biome := biomeFor(height, biomeValue)

			surface := int(height * float64(g.cfg.MaxHeight-1))
			g.fillColumn(c, x, z, surface, biome)
			c.SetBiome(x, z, biome)
			c.SetHeight(x, z, uint16(max(surface, g.cfg.SeaLevel)))
		}
	}
	return c, nil
}

func (g *PerlinGenerator) fillColumn(c *chunk.Chunk, x, z, surface int, biome chunk.BiomeID) {
	top := topBlockFor(biome)
	for y := 0; y <= surface; y++ {
		switch {
		case y == surface:
			c.SetBlock(x, y, z, top)
		case y >= surface-3 && biome != BiomeMountains:
			c.SetBlock(x, y, z, subsurfaceFor(biome))
		default:
			c.SetBlock(x, y, z, chunk.StoneBlockID)
		}
	}
	for y := surface + 1; y <= g.cfg.SeaLevel; y++ {
		c.SetBlock(x, y, z, chunk.WaterBlockID)
	}
}

// biomeFor определяет биом по высоте и шуму биома
func biomeFor(height, biomeValue float64) chunk.BiomeID {
	switch {
	case height < DeepWaterMax:
		return BiomeDeepOcean
	case height < ShallowWaterMax:
		return BiomeOcean
	case height > MountainStart:
		return BiomeMountains
	case biomeValue < 0.35:
		return BiomeDesert
	case biomeValue > 0.65:
		return BiomeForest
	default:
		return BiomePlains
	}
}

func topBlockFor(biome chunk.BiomeID) chunk.BlockID {
	switch biome {
	case BiomeDesert, BiomeOcean, BiomeDeepOcean:
		return chunk.SandBlockID
	case BiomeMountains:
		return chunk.StoneBlockID
	default:
		return chunk.GrassBlockID
	}
}

func subsurfaceFor(biome chunk.BiomeID) chunk.BlockID {
	if biome == BiomeDesert {
		return chunk.SandBlockID
	}
	return chunk.DirtBlockID
}
