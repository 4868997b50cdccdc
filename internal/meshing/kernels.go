package meshing

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
	"voxelstream/internal/terrain"
)

// Counter slots of the count stage.
const (
	countVertices = 0
	countIndices  = 1
)

// params are the per-run scalars shared by every kernel.
type params struct {
	layout cellLayout
	offset mgl32.Vec3 // voxel-space position of cell 0's minimum corner
	stride float32    // voxels per sample step
	unit   float32    // world units per voxel
	iso    float32
	bounds [3]float32 // voxel half-extent of the world per axis; 0 is unbounded
}

// outside reports whether pos lies beyond a bounded world axis.
func (p params) outside(pos mgl32.Vec3) bool {
	for k := range 3 {
		if p.bounds[k] > 0 && float32(math.Abs(float64(pos[k]))) > p.bounds[k] {
			return true
		}
	}
	return false
}

// samplePos maps a density sample index to its voxel-space position. Sample 1 is the
// chunk's minimum corner; sample 0 is the halo.
func (p params) samplePos(sx, sy, sz int) mgl32.Vec3 {
	return p.offset.Add(mgl32.Vec3{
		float32(sx-1) * p.stride,
		float32(sy-1) * p.stride,
		float32(sz-1) * p.stride,
	})
}

func densityKernel(p params, field terrain.Field, density *compute.Buffer) compute.Kernel {
	g := p.layout.samples()
	return compute.Kernel{
		Label: "GenerateDensity",
		Main: func(id [3]int) {
			pos := p.samplePos(id[0], id[1], id[2])
			d := p.iso - 1
			if !p.outside(pos) {
				d = float32(field.Density(pos))
			}
			density.SetFloat32(g.index(id[0], id[1], id[2]), d)
		},
	}
}

// cornerOffset returns the unit offset of corner i.
func cornerOffset(i uint8) (int, int, int) {
	return int(i & 1), int(i >> 1 & 1), int(i >> 2 & 1)
}

// cellCaseAt classifies the eight corners of cell (x,y,z). Corner samples are shifted by
// one to skip the halo.
func cellCaseAt(p params, density *compute.Buffer, x, y, z int) uint8 {
	g := p.layout.samples()
	var c uint8
	for i := range uint8(numCorners) {
		dx, dy, dz := cornerOffset(i)
		if density.Float32(g.index(x+1+dx, y+1+dy, z+1+dz)) > p.iso {
			c |= 1 << i
		}
	}
	return c
}

func countKernel(p params, density, mask, counts *compute.Buffer) compute.Kernel {
	cg := p.layout.cells()
	return compute.Kernel{
		Label: "CountVerticesAndIndices",
		Main: func(id [3]int) {
			x, y, z := id[0], id[1], id[2]
			c := cellCaseAt(p, density, x, y, z)
			mask.SetUint32(cg.index(x, y, z), packCell(c, 0))
			if trivial(c) {
				return
			}
			if n := p.layout.ownedVertices(c, x, y, z); n > 0 {
				counts.AtomicAdd(countVertices, n)
			}
			if n := p.layout.cellIndices(c, x, y, z); n > 0 {
				counts.AtomicAdd(countIndices, n)
			}
		},
	}
}

func allocKernel(p params, mask, total *compute.Buffer) compute.Kernel {
	cg := p.layout.cells()
	return compute.Kernel{
		Label: "AllocateVertices",
		Main: func(id [3]int) {
			x, y, z := id[0], id[1], id[2]
			i := cg.index(x, y, z)
			c := cellCase(mask.Uint32(i))
			if trivial(c) {
				return
			}
			off := total.AtomicAdd(0, p.layout.ownedVertices(c, x, y, z))
			mask.SetUint32(i, packCell(c, off))
		},
	}
}

// emitTargets are the final buffers written by the emit kernel.
type emitTargets struct {
	positions *compute.Buffer // float3 per vertex
	normals   *compute.Buffer // float3 per vertex
	colors    *compute.Buffer // float4 per vertex
	indices   *compute.Buffer // uint32 per index
	emitted   *compute.Buffer // running index count
}

func emitKernel(p params, density, mask *compute.Buffer, out emitTargets) compute.Kernel {
	cg := p.layout.cells()
	sg := p.layout.samples()

	gradient := func(sx, sy, sz int) mgl32.Vec3 {
		d := func(x, y, z int) float32 { return density.Float32(sg.index(x, y, z)) }
		return mgl32.Vec3{
			(d(sx+1, sy, sz) - d(sx-1, sy, sz)) * 0.5,
			(d(sx, sy+1, sz) - d(sx, sy-1, sz)) * 0.5,
			(d(sx, sy, sz+1) - d(sx, sy, sz-1)) * 0.5,
		}
	}

	// vertexRef resolves edge e of cell (x,y,z) to the output vertex owned by the cell
	// at the edge's start corner.
	vertexRef := func(x, y, z int, e uint8) uint32 {
		dx, dy, dz := cornerOffset(edgeCorners[e][0])
		ox, oy, oz := x+dx, y+dy, z+dz
		w := mask.Uint32(cg.index(ox, oy, oz))
		return cellOffset(w) + p.layout.ownedSlot(cellCase(w), ox, oy, oz, int(edgeAxis[e]))
	}

	scale := p.stride * p.unit

	return compute.Kernel{
		Label: "MarchingCubes",
		Main: func(id [3]int) {
			x, y, z := id[0], id[1], id[2]
			w := mask.Uint32(cg.index(x, y, z))
			c := cellCase(w)
			if trivial(c) {
				return
			}

			slot := cellOffset(w)
			for axis := range 3 {
				if !p.layout.ownsAxis(x, y, z, axis) || !ownedAxisCrossed(c, axis) {
					continue
				}
				ax, ay, az := x+1, y+1, z+1
				bx, by, bz := ax, ay, az
				switch axis {
				case 0:
					bx++
				case 1:
					by++
				case 2:
					bz++
				}
				da := density.Float32(sg.index(ax, ay, az))
				db := density.Float32(sg.index(bx, by, bz))
				t := (p.iso - da) / (db - da)

				pos := mgl32.Vec3{float32(x), float32(y), float32(z)}
				pos[axis] += t
				pos = pos.Mul(scale)

				ga, gb := gradient(ax, ay, az), gradient(bx, by, bz)
				n := ga.Add(gb.Sub(ga).Mul(t)).Mul(-1)
				if l := n.Len(); l > 1e-12 && !math.IsNaN(float64(l)) {
					n = n.Mul(1 / l)
				} else {
					n = mgl32.Vec3{0, 0, 1}
				}

				v := int(slot)
				for k := range 3 {
					out.positions.SetFloat32(v*3+k, pos[k])
					out.normals.SetFloat32(v*3+k, n[k])
				}
				for k := range 4 {
					out.colors.SetFloat32(v*4+k, 1)
				}
				slot++
			}

			if !p.layout.emitsTriangles(x, y, z) {
				return
			}
			tris := caseTriangles[c]
			base := int(out.emitted.AtomicAdd(0, uint32(len(tris)*3)))
			for i, tri := range tris {
				for k, e := range tri {
					out.indices.SetUint32(base+i*3+k, vertexRef(x, y, z, e))
				}
			}
		},
	}
}
