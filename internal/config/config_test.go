package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MaxConcurrentTasks != 8 || cfg.Size != 16 || cfg.Seed != 1337 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("  ")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AboveUpperDistance != 16 || cfg.UnderDownDistance != 6 {
		t.Fatalf("distances not defaulted: %+v", cfg)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world.yaml")
	src := []byte(`
max_lod: 2
size: 32
scale: 2
units_per_voxel: 0
terrain:
  noise: VALUE
  octaves: 0
`)
	if err := os.WriteFile(path, src, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxLOD != 2 || cfg.Size != 32 || cfg.Scale != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.UnitsPerVoxel != 100 {
		t.Errorf("units_per_voxel = %d, want 100", cfg.UnitsPerVoxel)
	}
	if cfg.Terrain.Noise != NoiseValue || cfg.Terrain.Octaves != 1 {
		t.Errorf("terrain not normalized: %+v", cfg.Terrain)
	}
	// Unset keys keep their defaults.
	if cfg.MaxConcurrentTasks != 8 {
		t.Errorf("max_concurrent_tasks = %d, want 8", cfg.MaxConcurrentTasks)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"size", func(c *Config) { c.Size = 0 }, ErrInvalidSize},
		{"scale", func(c *Config) { c.Scale = -1 }, ErrInvalidScale},
		{"lod", func(c *Config) { c.MaxLOD = MaxLODLimit + 1 }, ErrInvalidLOD},
		{"tasks", func(c *Config) { c.MaxConcurrentTasks = 0 }, ErrInvalidTasks},
		{"distance", func(c *Config) { c.UnderDownDistance = -3 }, ErrInvalidDistance},
		{"noise", func(c *Config) { c.Terrain.Noise = "perlin" }, ErrInvalidNoise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("size: -4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("Load() error = %v, want ErrInvalidSize", err)
	}
}

func TestChunkWorldSize(t *testing.T) {
	cfg := Default()
	if got := cfg.ChunkWorldSize(0); got != 1600 {
		t.Errorf("lod 0 = %d, want 1600", got)
	}
	if got := cfg.ChunkWorldSize(2); got != 6400 {
		t.Errorf("lod 2 = %d, want 6400", got)
	}
}
