package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/profiling"
)

const (
	MinReachDistance = 0.1
	MaxReachDistance = 5000.0
)

// RaycastResult stores the closest hit of a raycast.
type RaycastResult struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3 // geometric normal of the hit triangle, facing the ray
	Distance float32
	Triangle int
	Hit      bool
}

// Raycast intersects a ray with the shape in its local space. Hits closer than minDist
// or farther than maxDist are ignored; direction must be normalised.
func (s *Shape) Raycast(start, direction mgl32.Vec3, minDist, maxDist float32) RaycastResult {
	defer profiling.Track("physics.Raycast")()
	result := RaycastResult{Distance: maxDist}
	if s == nil || !s.hitsBounds(start, direction, maxDist) {
		return RaycastResult{}
	}
	verts := s.Mesh.Vertices
	for i, tri := range s.Mesh.Triangles {
		a, b, c := verts[tri[0]], verts[tri[1]], verts[tri[2]]
		t, ok := intersectTriangle(start, direction, a, b, c)
		if !ok || t < minDist || t > result.Distance {
			continue
		}
		n := b.Sub(a).Cross(c.Sub(a)).Normalize()
		if n.Dot(direction) > 0 {
			n = n.Mul(-1)
		}
		result = RaycastResult{
			Position: start.Add(direction.Mul(t)),
			Normal:   n,
			Distance: t,
			Triangle: i,
			Hit:      true,
		}
	}
	if !result.Hit {
		return RaycastResult{}
	}
	return result
}

// hitsBounds is a slab test against the shape's bounding box.
func (s *Shape) hitsBounds(start, dir mgl32.Vec3, maxDist float32) bool {
	tmin, tmax := float32(0), maxDist
	for k := range 3 {
		if dir[k] == 0 {
			if start[k] < s.Min[k] || start[k] > s.Max[k] {
				return false
			}
			continue
		}
		inv := 1 / dir[k]
		t0 := (s.Min[k] - start[k]) * inv
		t1 := (s.Max[k] - start[k]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = max(tmin, t0)
		tmax = min(tmax, t1)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// intersectTriangle is the Möller-Trumbore test. Both windings hit.
func intersectTriangle(orig, dir, a, b, c mgl32.Vec3) (float32, bool) {
	const eps = 1e-7
	e1, e2 := b.Sub(a), c.Sub(a)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(float64(det)) < eps {
		return 0, false
	}
	inv := 1 / det
	s := orig.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * inv
	return t, t >= 0
}
