package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidSize     = errors.New("config: size must be positive")
	ErrInvalidScale    = errors.New("config: scale must be positive")
	ErrInvalidLOD      = errors.New("config: max_lod out of range")
	ErrInvalidTasks    = errors.New("config: max_concurrent_tasks must be positive")
	ErrInvalidDistance = errors.New("config: view distances must not be negative")
	ErrInvalidNoise    = errors.New("config: unknown terrain noise")
)

// MaxLODLimit bounds max_lod. The selector is cubic in the draw distance, which grows
// with (LOD+1)*2.
const MaxLODLimit = 8

// Config holds the chunk world settings.
type Config struct {
	MaxLOD    int    `yaml:"max_lod"`
	WorldSize [3]int `yaml:"world_size"`

	UndergroundHeight  float32 `yaml:"underground_height"`
	AboveUpperDistance int     `yaml:"above_upper_distance"`
	AboveDownDistance  int     `yaml:"above_down_distance"`
	UnderUpperDistance int     `yaml:"under_upper_distance"`
	UnderDownDistance  int     `yaml:"under_down_distance"`

	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	BackoffMs          int `yaml:"backoff_ms"`

	Size          int `yaml:"size"`
	Scale         int `yaml:"scale"`
	UnitsPerVoxel int `yaml:"units_per_voxel"`

	Isolevel float32 `yaml:"isolevel"`
	Seed     int32   `yaml:"seed"`

	CollisionEnabled bool    `yaml:"collision_enabled"`
	CollisionProfile string  `yaml:"collision_profile"`
	BoundsScale      float32 `yaml:"bounds_scale"`

	Terrain    Terrain    `yaml:"terrain"`
	Instancing Instancing `yaml:"instancing"`
}

// Terrain configures the density field.
type Terrain struct {
	Noise        string  `yaml:"noise"` // "simplex" or "value"
	Frequency    float64 `yaml:"frequency"`
	Octaves      int     `yaml:"octaves"`
	Persistence  float64 `yaml:"persistence"`
	Lacunarity   float64 `yaml:"lacunarity"`
	GroundHeight float64 `yaml:"ground_height"` // voxels
	Gradient     float64 `yaml:"gradient"`      // voxels per unit of density
}

// Instancing configures the draw buffer pool.
type Instancing struct {
	MaxInstances int `yaml:"max_instances"`
	StaleFrames  int `yaml:"stale_frames"`
}

const (
	NoiseSimplex = "simplex"
	NoiseValue   = "value"
)

// Default returns the stock chunk world settings.
func Default() Config {
	return Config{
		MaxLOD:             1,
		UndergroundHeight:  0,
		AboveUpperDistance: 16,
		AboveDownDistance:  2,
		UnderUpperDistance: 4,
		UnderDownDistance:  6,
		MaxConcurrentTasks: 8,
		BackoffMs:          10,
		Size:               16,
		Scale:              1,
		UnitsPerVoxel:      100,
		Isolevel:           0,
		Seed:               1337,
		CollisionEnabled:   true,
		CollisionProfile:   "BlockAll",
		BoundsScale:        1,
		Terrain: Terrain{
			Noise:        NoiseSimplex,
			Frequency:    1.0 / 64.0,
			Octaves:      4,
			Persistence:  0.5,
			Lacunarity:   2.0,
			GroundHeight: 0,
			Gradient:     32,
		},
		Instancing: Instancing{
			MaxInstances: 1024,
			StaleFrames:  4,
		},
	}
}

// Load reads a YAML config on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero values that have no meaningful zero setting.
func (c *Config) Normalize() {
	if c.UnitsPerVoxel <= 0 {
		c.UnitsPerVoxel = 100
	}
	if c.BackoffMs <= 0 {
		c.BackoffMs = 10
	}
	if c.BoundsScale <= 0 {
		c.BoundsScale = 1
	}
	c.Terrain.Noise = strings.ToLower(strings.TrimSpace(c.Terrain.Noise))
	if c.Terrain.Noise == "" {
		c.Terrain.Noise = NoiseSimplex
	}
	if c.Terrain.Octaves <= 0 {
		c.Terrain.Octaves = 1
	}
	if c.Terrain.Gradient == 0 {
		c.Terrain.Gradient = 32
	}
	if c.Instancing.MaxInstances <= 0 {
		c.Instancing.MaxInstances = 1024
	}
	if c.Instancing.StaleFrames <= 0 {
		c.Instancing.StaleFrames = 4
	}
}

// Validate reports the first setting that cannot drive a chunk world.
func (c Config) Validate() error {
	switch {
	case c.Size <= 0:
		return ErrInvalidSize
	case c.Scale <= 0:
		return ErrInvalidScale
	case c.MaxLOD < 0 || c.MaxLOD > MaxLODLimit:
		return fmt.Errorf("%w: %d (limit %d)", ErrInvalidLOD, c.MaxLOD, MaxLODLimit)
	case c.MaxConcurrentTasks <= 0:
		return ErrInvalidTasks
	case c.AboveUpperDistance < 0 || c.AboveDownDistance < 0 ||
		c.UnderUpperDistance < 0 || c.UnderDownDistance < 0:
		return ErrInvalidDistance
	}
	if c.Terrain.Noise != NoiseSimplex && c.Terrain.Noise != NoiseValue {
		return fmt.Errorf("%w: %q", ErrInvalidNoise, c.Terrain.Noise)
	}
	return nil
}

// ChunkWorldSize returns the world-space edge length of a chunk at lod.
func (c Config) ChunkWorldSize(lod int) int {
	return c.Size * c.UnitsPerVoxel * (1 << lod) * c.Scale
}
