package world

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/meshing"
	"voxelstream/internal/physics"
)

// MeshHandle identifies a render mesh created by a MeshFactory.
type MeshHandle uint64

// MeshFactory creates render meshes from pipeline output. Both methods are called on
// the main context only.
type MeshFactory interface {
	CreateMesh(out meshing.Output, transform mgl32.Mat4) (MeshHandle, error)
	DestroyMesh(h MeshHandle)
}

// Chunk is one resident chunk mesh. It owns its pipeline output.
type Chunk struct {
	Key       ChunkKey
	LOD       int
	Mesh      MeshHandle
	Transform mgl32.Mat4

	// Local bounds, scaled around the chunk's minimum corner.
	BoundsMin mgl32.Vec3
	BoundsMax mgl32.Vec3

	VertexCount int
	IndexCount  int

	Body *physics.Body // LOD 0 with collision only

	output meshing.Output
}

// Output returns the meshing output the chunk was built from.
func (c *Chunk) Output() meshing.Output { return c.output }

// WorldBounds returns the chunk's bounds in world space.
func (c *Chunk) WorldBounds() (mgl32.Vec3, mgl32.Vec3) {
	o := c.Key.Vec3()
	return c.BoundsMin.Add(o), c.BoundsMax.Add(o)
}

// Raycast tests a world-space ray against the chunk's applied collision.
func (c *Chunk) Raycast(start, dir mgl32.Vec3, maxDist float32) physics.RaycastResult {
	if c.Body == nil {
		return physics.RaycastResult{}
	}
	r := c.Body.Shape().Raycast(start.Sub(c.Key.Vec3()), dir, physics.MinReachDistance, maxDist)
	if r.Hit {
		r.Position = r.Position.Add(c.Key.Vec3())
	}
	return r
}
