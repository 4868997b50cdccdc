package world

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// ChunkKey is the world-space position of a chunk's minimum corner, in world units.
type ChunkKey struct {
	X, Y, Z int
}

func (k ChunkKey) Add(o ChunkKey) ChunkKey { return ChunkKey{k.X + o.X, k.Y + o.Y, k.Z + o.Z} }

func (k ChunkKey) Vec3() mgl32.Vec3 { return mgl32.Vec3{float32(k.X), float32(k.Y), float32(k.Z)} }

func (k ChunkKey) String() string { return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Z) }

// distSq is the squared distance between two keys, used for near-first ordering.
func (k ChunkKey) distSq(o ChunkKey) int {
	dx, dy, dz := k.X-o.X, k.Y-o.Y, k.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

func compareKeys(a, b ChunkKey) int {
	return cmp.Or(cmp.Compare(a.X, b.X), cmp.Compare(a.Y, b.Y), cmp.Compare(a.Z, b.Z))
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// QuantizeOrigin snaps a world position down to the chunk grid of edge cell.
func QuantizeOrigin(pos mgl32.Vec3, cell int) ChunkKey {
	snap := func(v float32) int {
		return floorDiv(int(math.Floor(float64(v))), cell) * cell
	}
	return ChunkKey{snap(pos[0]), snap(pos[1]), snap(pos[2])}
}

// ChunkSet is a set of chunk keys.
type ChunkSet map[ChunkKey]struct{}

func NewChunkSet(keys ...ChunkKey) ChunkSet {
	s := make(ChunkSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s ChunkSet) Add(k ChunkKey) { s[k] = struct{}{} }

func (s ChunkSet) Has(k ChunkKey) bool {
	_, ok := s[k]
	return ok
}

func (s ChunkSet) Len() int { return len(s) }

func (s ChunkSet) Equal(o ChunkSet) bool { return len(s) == len(o) && len(s.Minus(o)) == 0 }

// Clone returns a copy; cloning a nil set returns an empty one.
func (s ChunkSet) Clone() ChunkSet {
	if s == nil {
		return make(ChunkSet)
	}
	return maps.Clone(s)
}

// Minus returns the keys of s not in o.
func (s ChunkSet) Minus(o ChunkSet) ChunkSet {
	out := make(ChunkSet)
	for k := range s {
		if !o.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Intersect returns the keys in both sets.
func (s ChunkSet) Intersect(o ChunkSet) ChunkSet {
	out := make(ChunkSet)
	for k := range s {
		if o.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

func (s ChunkSet) Union(o ChunkSet) ChunkSet {
	out := s.Clone()
	for k := range o {
		out[k] = struct{}{}
	}
	return out
}

// Keys returns the keys in X, Y, Z order.
func (s ChunkSet) Keys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// NearestFirst returns the keys ordered by distance from origin.
func (s ChunkSet) NearestFirst(origin ChunkKey) []ChunkKey {
	keys := s.Keys()
	slices.SortStableFunc(keys, func(a, b ChunkKey) int {
		return cmp.Compare(a.distSq(origin), b.distSq(origin))
	})
	return keys
}
