package meshing

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
)

// Output is the mesh buffer set of one chunk. The zero value is the empty sentinel.
//
// Device buffers hold float3 positions and normals in chunk-local world units, float4
// colors and uint32 triangle indices. Vertices and Triangles are host copies, filled
// only for runs that asked for them (the collision LOD).
type Output struct {
	Positions *compute.Buffer
	Normals   *compute.Buffer
	Colors    *compute.Buffer
	Indices   *compute.Buffer

	VertexCount int
	IndexCount  int

	Vertices  []mgl32.Vec3
	Triangles [][3]uint32

	dev compute.Device
}

// Empty reports whether the output carries no geometry.
func (o Output) Empty() bool { return o.VertexCount == 0 || o.IndexCount == 0 }

// Release frees the device buffers. Safe on the empty sentinel and safe to repeat.
func (o Output) Release() {
	if o.dev == nil {
		return
	}
	for _, b := range []*compute.Buffer{o.Positions, o.Normals, o.Colors, o.Indices} {
		if b != nil {
			o.dev.ReleaseBuffer(b)
		}
	}
}

// HasHostCopy reports whether Vertices and Triangles were read back.
func (o Output) HasHostCopy() bool { return len(o.Vertices) > 0 }

func hostVertices(words []uint32) []mgl32.Vec3 {
	out := make([]mgl32.Vec3, len(words)/3)
	for i := range out {
		out[i] = mgl32.Vec3{
			math.Float32frombits(words[i*3]),
			math.Float32frombits(words[i*3+1]),
			math.Float32frombits(words[i*3+2]),
		}
	}
	return out
}

func hostTriangles(words []uint32) [][3]uint32 {
	out := make([][3]uint32, len(words)/3)
	for i := range out {
		out[i] = [3]uint32{words[i*3], words[i*3+1], words[i*3+2]}
	}
	return out
}
