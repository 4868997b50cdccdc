package instancing

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
)

// Indirect argument words, in indexed-indirect draw order.
const (
	argIndexCount = iota
	argInstanceCount
	argFirstIndex
	argBaseVertex
	argFirstInstance
	numArgs
)

// Words per instance record: one float3 position.
const recordWords = 3

var lineGroup = [3]int{64, 1, 1}

func readRecord(b *compute.Buffer, i int) mgl32.Vec3 {
	o := i * recordWords
	return mgl32.Vec3{b.Float32(o), b.Float32(o + 1), b.Float32(o + 2)}
}

func writeRecord(b *compute.Buffer, i int, p mgl32.Vec3) {
	o := i * recordWords
	b.SetFloat32(o, p[0])
	b.SetFloat32(o+1, p[1])
	b.SetFloat32(o+2, p[2])
}

// initInstanceKernel resets a draw's indirect args to zero instances of the mesh.
func initInstanceKernel(args *compute.Buffer, numIndices int) compute.Kernel {
	return compute.Kernel{
		Label:     "InitInstanceBuffer",
		GroupSize: [3]int{1, 1, 1},
		Main: func([3]int) {
			args.SetUint32(argIndexCount, uint32(numIndices))
			for i := argInstanceCount; i < numArgs; i++ {
				args.SetUint32(i, 0)
			}
		},
	}
}

// addInstancesKernel writes a proxy's instances into its persistent base buffer.
func addInstancesKernel(base *compute.Buffer, instances []mgl32.Vec3) compute.Kernel {
	return compute.Kernel{
		Label:     "AddInstances",
		GroupSize: lineGroup,
		Main: func(id [3]int) {
			writeRecord(base, id[0], instances[id[0]])
		},
	}
}

// initBuffersKernel gathers the base instances within reach of a main view into the
// candidate list. info[0] counts candidates and must start at zero.
func initBuffersKernel(base, candidates, info *compute.Buffer, origin mgl32.Vec3, maxDist float32) compute.Kernel {
	maxSq := maxDist * maxDist
	return compute.Kernel{
		Label:     "InitBuffers",
		GroupSize: lineGroup,
		Main: func(id [3]int) {
			p := readRecord(base, id[0])
			if d := p.Sub(origin); maxDist > 0 && d.Dot(d) > maxSq {
				return
			}
			writeRecord(candidates, int(info.AtomicAdd(0, 1)), p)
		},
	}
}

// cullKernel appends the candidates inside planes to a draw's instance buffer and
// counts them in its indirect args. Appends past capacity are dropped.
func cullKernel(candidates, info *compute.Buffer, planes [NumPlanes]mgl32.Vec4, out *DrawBuffers, capacity int) compute.Kernel {
	return compute.Kernel{
		Label:     "CullInstances",
		GroupSize: lineGroup,
		Main: func(id [3]int) {
			if id[0] >= int(info.AtomicLoad(0)) {
				return
			}
			p := readRecord(candidates, id[0])
			if !insidePlanes(planes, p) {
				return
			}
			slot := int(out.Args.AtomicAdd(argInstanceCount, 1))
			if slot >= capacity {
				out.Args.AtomicAdd(argInstanceCount, ^uint32(0))
				return
			}
			writeRecord(out.Instances, slot, p)
		},
	}
}
