package world

import "voxelstream/internal/profiling"

// DrawDistance is the shell radius, in chunks, visited at lod.
func DrawDistance(lod int) int { return (lod + 1) * 2 }

// SelectChunks returns the chunk keys that should be resident at lod around in.Origin.
// Offsets are visited in diagonal shells and mirrored into every octant. Offsets whose
// coordinates are all below lod are left to the finer levels.
func SelectChunks(in ChunkInput, lod int) ChunkSet {
	defer profiling.Track("world.SelectChunks")()
	dd := DrawDistance(lod)
	size := in.ChunkWorldSize(lod)
	mul := 1 << lod
	out := make(ChunkSet)
	for n := 0; n <= (dd-1)*3; n++ {
		for x := 0; x <= min(n, dd-1); x++ {
			for y := 0; y <= min(n-x, dd-1); y++ {
				z := n - x - y
				if z > dd-1 {
					continue
				}
				if x < lod && y < lod && z < lod {
					continue
				}
				for _, sx := range [2]int{1, -1} {
					for _, sy := range [2]int{1, -1} {
						for _, sz := range [2]int{1, -1} {
							key := in.Origin.Add(ChunkKey{sx * x * size, sy * y * size, sz * z * size})
							t := in.threshold(key.Z, size)
							if x*mul <= t && y*mul <= t && z*mul <= t {
								out.Add(key)
							}
						}
					}
				}
			}
		}
	}
	return out
}

// Diff splits a new selection against the resident baseline.
func Diff(old, current ChunkSet) (added, deleted ChunkSet) {
	return current.Minus(old), old.Minus(current)
}
