package world

import "voxelstream/internal/config"

// ChunkInput is the snapshot one scheduler cycle works from. It is never mutated after
// it is handed to a scheduler.
type ChunkInput struct {
	WorldSize         [3]int // voxel half-extent per axis, 0 is unbounded
	UndergroundHeight float32

	AboveUpperDistance int
	AboveDownDistance  int
	UnderUpperDistance int
	UnderDownDistance  int

	Size          int
	Scale         int
	UnitsPerVoxel int
	LOD           int
	Origin        ChunkKey
	Isolevel      float32
	Seed          int32

	// OldChunks is the resident set the selection is diffed against.
	OldChunks ChunkSet
}

// NewChunkInput builds the snapshot for lod around origin. old is copied.
func NewChunkInput(cfg config.Config, origin ChunkKey, lod int, old ChunkSet) ChunkInput {
	return ChunkInput{
		WorldSize:          cfg.WorldSize,
		UndergroundHeight:  cfg.UndergroundHeight,
		AboveUpperDistance: cfg.AboveUpperDistance,
		AboveDownDistance:  cfg.AboveDownDistance,
		UnderUpperDistance: cfg.UnderUpperDistance,
		UnderDownDistance:  cfg.UnderDownDistance,
		Size:               cfg.Size,
		Scale:              cfg.Scale,
		UnitsPerVoxel:      cfg.UnitsPerVoxel,
		LOD:                lod,
		Origin:             origin,
		Isolevel:           cfg.Isolevel,
		Seed:               cfg.Seed,
		OldChunks:          old.Clone(),
	}
}

// ChunkWorldSize returns the world-space edge length of a chunk at lod.
func (in ChunkInput) ChunkWorldSize(lod int) int {
	return in.Size * in.UnitsPerVoxel * (1 << lod) * in.Scale
}

// threshold picks the view distance for a chunk at height z.
func (in ChunkInput) threshold(chunkZ, chunkSize int) int {
	chunkUnder := float32(chunkZ+chunkSize) < in.UndergroundHeight
	if float32(in.Origin.Z) < in.UndergroundHeight {
		if chunkUnder {
			return in.UnderDownDistance
		}
		return in.UnderUpperDistance
	}
	if chunkUnder {
		return in.AboveDownDistance
	}
	return in.AboveUpperDistance
}
