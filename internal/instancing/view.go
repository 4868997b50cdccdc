package instancing

import "github.com/go-gl/mathgl/mgl32"

// NumPlanes is the number of frustum planes culled against. The far plane is left out.
const NumPlanes = 5

// nullPlane keeps every point.
var nullPlane = mgl32.Vec4{0, 0, 0, 1}

// View is a camera the pool culls instances for.
type View struct {
	Label  string
	Origin mgl32.Vec3
	// Planes keep points where dot(plane.xyz, p) + plane.w >= 0.
	Planes      [NumPlanes]mgl32.Vec4
	MaxDistance float32 // measured in proxy-local units, 0 draws at any distance

	// Cull replaces the frustum used for culling, for shadow views.
	Cull *View
}

// NewView extracts the left, right, bottom, top and near planes of a GL clip-space
// view-projection matrix.
func NewView(label string, origin mgl32.Vec3, viewProj mgl32.Mat4) *View {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)
	v := &View{Label: label, Origin: origin}
	v.Planes = [NumPlanes]mgl32.Vec4{
		normalizePlane(r3.Add(r0)),
		normalizePlane(r3.Sub(r0)),
		normalizePlane(r3.Add(r1)),
		normalizePlane(r3.Sub(r1)),
		normalizePlane(r3.Add(r2)),
	}
	return v
}

// UnboundedView returns a view that culls nothing.
func UnboundedView(label string, origin mgl32.Vec3) *View {
	v := &View{Label: label, Origin: origin}
	for i := range v.Planes {
		v.Planes[i] = nullPlane
	}
	return v
}

func (v *View) cullView() *View {
	if v.Cull != nil {
		return v.Cull
	}
	return v
}

// Contains reports whether p is inside every plane.
func (v *View) Contains(p mgl32.Vec3) bool { return insidePlanes(v.Planes, p) }

func insidePlanes(planes [NumPlanes]mgl32.Vec4, p mgl32.Vec3) bool {
	for _, pl := range planes {
		if pl.Vec3().Dot(p)+pl[3] < 0 {
			return false
		}
	}
	return true
}

func normalizePlane(p mgl32.Vec4) mgl32.Vec4 {
	l := p.Vec3().Len()
	if l == 0 {
		return nullPlane
	}
	return p.Mul(1 / l)
}

// localPlanes moves world-space planes into the space of localToWorld. For a world
// point Mx the plane test P·(Mx) equals (MᵀP)·x.
func localPlanes(planes [NumPlanes]mgl32.Vec4, localToWorld mgl32.Mat4) [NumPlanes]mgl32.Vec4 {
	t := localToWorld.Transpose()
	var out [NumPlanes]mgl32.Vec4
	for i, p := range planes {
		out[i] = t.Mul4x1(p)
	}
	return out
}
