package instancing

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
)

// SourceMesh is the mesh drawn once per visible instance.
type SourceMesh struct {
	Label     string
	Positions []mgl32.Vec3
	Indices   []uint32
}

// Proxy draws one source mesh at many instance positions. A proxy without a usable
// mesh is inert: it skips all per-frame work for its lifetime.
type Proxy struct {
	label        string
	mesh         *SourceMesh
	localToWorld mgl32.Mat4
	instances    []mgl32.Vec3
	inert        bool

	base *compute.Buffer // persistent, filled once by the pool
	dev  compute.Device
}

// NewProxy builds a proxy for mesh. Instance positions are in the proxy's local space.
func NewProxy(label string, mesh *SourceMesh, localToWorld mgl32.Mat4, instances []mgl32.Vec3) *Proxy {
	p := &Proxy{label: label, mesh: mesh, localToWorld: localToWorld, instances: instances}
	if mesh == nil || len(mesh.Indices) == 0 || len(mesh.Positions) == 0 {
		p.inert = true
	}
	return p
}

func (p *Proxy) Label() string            { return p.label }
func (p *Proxy) Inert() bool              { return p.inert }
func (p *Proxy) LocalToWorld() mgl32.Mat4 { return p.localToWorld }
func (p *Proxy) NumInstances() int        { return len(p.instances) }
func (p *Proxy) Mesh() *SourceMesh        { return p.mesh }

func (p *Proxy) NumIndices() int {
	if p.inert {
		return 0
	}
	return len(p.mesh.Indices)
}

// MeshBatch is one indirect draw of a proxy for a view.
type MeshBatch struct {
	Proxy          *Proxy
	View           *View
	Buffers        *DrawBuffers
	NumIndices     int
	ReverseCulling bool // local-to-world flips handedness
}

// CollectDraws requests draw buffers for every view whose bit is set in visibility.
// The first view is the main view of the family. Nothing is collected while the pool's
// frame has already been submitted.
func (p *Proxy) CollectDraws(pool *Pool, views []*View, visibility uint32) []MeshBatch {
	if p.inert || len(views) == 0 || pool.Submitted() {
		return nil
	}
	main := views[0]
	reverse := p.localToWorld.Det() < 0
	var batches []MeshBatch
	for i, v := range views {
		if i >= 32 || visibility&(1<<i) == 0 {
			continue
		}
		bufs, err := pool.AddWork(p, main, v.cullView())
		if err != nil {
			pool.logger.Printf("instancing: %s view %s: %v", p.label, v.Label, err)
			continue
		}
		batches = append(batches, MeshBatch{
			Proxy:          p,
			View:           v,
			Buffers:        bufs,
			NumIndices:     p.NumIndices(),
			ReverseCulling: reverse,
		})
	}
	return batches
}

// Release frees the proxy's persistent instance buffer.
func (p *Proxy) Release() {
	if p.base != nil {
		p.dev.ReleaseBuffer(p.base)
		p.base = nil
	}
}
