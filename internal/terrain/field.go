// Package terrain provides the density fields sampled by the meshing pipeline.
//
// Positions are in voxel space, Z up. Positive density is solid.
package terrain

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/ojrac/opensimplex-go"

	"voxelstream/internal/config"
)

// Field evaluates density at a voxel-space position. Implementations must be safe for
// concurrent use; kernels call Density from many goroutines.
type Field interface {
	Density(p mgl32.Vec3) float64
}

// shape holds the parameters shared by every noise-backed field.
type shape struct {
	frequency    float64
	octaves      int
	persistence  float64
	lacunarity   float64
	groundHeight float64
	gradient     float64
}

func newShape(cfg config.Terrain) shape {
	s := shape{
		frequency:    cfg.Frequency,
		octaves:      cfg.Octaves,
		persistence:  cfg.Persistence,
		lacunarity:   cfg.Lacunarity,
		groundHeight: cfg.GroundHeight,
		gradient:     cfg.Gradient,
	}
	if s.frequency == 0 {
		s.frequency = 1.0 / 64.0
	}
	if s.octaves <= 0 {
		s.octaves = 1
	}
	if s.gradient == 0 {
		s.gradient = 32
	}
	return s
}

// altitude rises below ground height and falls above it.
func (s shape) altitude(z float64) float64 {
	return (s.groundHeight - z) / s.gradient
}

// Simplex is fBm OpenSimplex noise plus an altitude gradient.
type Simplex struct {
	shape
	layers []opensimplex.Noise
}

// NewSimplex seeds one OpenSimplex generator per octave.
func NewSimplex(cfg config.Terrain, seed int64) *Simplex {
	s := &Simplex{shape: newShape(cfg)}
	s.layers = make([]opensimplex.Noise, s.octaves)
	for i := range s.layers {
		s.layers[i] = opensimplex.New(seed + int64(i*131))
	}
	return s
}

func (s *Simplex) Density(p mgl32.Vec3) float64 {
	x, y, z := float64(p[0])*s.frequency, float64(p[1])*s.frequency, float64(p[2])*s.frequency
	n := octaves(func(x, y, z float64, i int) float64 {
		return s.layers[i].Eval3(x, y, z)
	}, x, y, z, s.octaves, s.persistence, s.lacunarity)
	return n + s.altitude(float64(p[2]))
}

// Value is fBm hashed value noise plus an altitude gradient.
type Value struct {
	shape
	seed int64
}

func NewValue(cfg config.Terrain, seed int64) *Value {
	return &Value{shape: newShape(cfg), seed: seed}
}

func (v *Value) Density(p mgl32.Vec3) float64 {
	x, y, z := float64(p[0])*v.frequency, float64(p[1])*v.frequency, float64(p[2])*v.frequency
	n := octaves(func(x, y, z float64, i int) float64 {
		return valueNoise3D(x, y, z, v.seed+int64(i*131))
	}, x, y, z, v.octaves, v.persistence, v.lacunarity)
	return n + v.altitude(float64(p[2]))
}

// New builds the field named by cfg.Noise. Unknown names fall back to simplex; the
// config layer rejects them before this point.
func New(cfg config.Terrain, seed int64) Field {
	if cfg.Noise == config.NoiseValue {
		return NewValue(cfg, seed)
	}
	return NewSimplex(cfg, seed)
}

// Source hands out the field for a world seed.
type Source interface {
	Field(seed int32) Field
}

// Generator builds noise fields from one terrain config and caches them per seed.
type Generator struct {
	cfg    config.Terrain
	mu     sync.Mutex
	fields map[int32]Field
}

func NewGenerator(cfg config.Terrain) *Generator {
	return &Generator{cfg: cfg, fields: make(map[int32]Field)}
}

func (g *Generator) Field(seed int32) Field {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[seed]
	if !ok {
		f = New(g.cfg, int64(seed))
		g.fields[seed] = f
	}
	return f
}

// Fixed is a Source that returns the same field for every seed.
type Fixed struct{ F Field }

func (s Fixed) Field(int32) Field { return s.F }

// Func adapts a plain function to Field.
type Func func(p mgl32.Vec3) float64

func (f Func) Density(p mgl32.Vec3) float64 { return f(p) }

// Constant is a uniform field, useful for empty or fully solid chunks.
type Constant float64

func (c Constant) Density(mgl32.Vec3) float64 { return float64(c) }
