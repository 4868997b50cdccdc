package glmesh

import (
	_ "embed"
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/graphics"
	"voxelstream/internal/instancing"
	"voxelstream/internal/profiling"
)

var (
	//go:embed shaders/instance.vert
	instanceVert string
	//go:embed shaders/instance.frag
	instanceFrag string
)

const offsetAttrib = 3

type proxyMesh struct {
	vao, vbo, ebo uint32
}

// InstanceRenderer draws pool batches with indexed indirect draws. Per-batch instance
// positions and args are streamed into two shared buffers.
type InstanceRenderer struct {
	shader  *graphics.Shader
	meshes  map[*instancing.Proxy]*proxyMesh
	instVBO uint32
	argsBuf uint32
	instCap int
	Color   mgl32.Vec3
}

func NewInstanceRenderer() (*InstanceRenderer, error) {
	shader, err := graphics.NewShader(instanceVert, instanceFrag)
	if err != nil {
		return nil, fmt.Errorf("glmesh: %w", err)
	}
	r := &InstanceRenderer{
		shader: shader,
		meshes: make(map[*instancing.Proxy]*proxyMesh),
		Color:  mgl32.Vec3{0.2, 0.55, 0.2},
	}
	gl.GenBuffers(1, &r.instVBO)
	gl.GenBuffers(1, &r.argsBuf)
	return r, nil
}

func (r *InstanceRenderer) upload(p *instancing.Proxy) *proxyMesh {
	if m, ok := r.meshes[p]; ok {
		return m
	}
	src := p.Mesh()
	m := &proxyMesh{}
	gl.GenVertexArrays(1, &m.vao)
	gl.BindVertexArray(m.vao)

	gl.GenBuffers(1, &m.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(src.Positions)*3*4, gl.Ptr(src.Positions), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, 3*4, gl.PtrOffset(0))

	gl.BindBuffer(gl.ARRAY_BUFFER, r.instVBO)
	gl.EnableVertexAttribArray(offsetAttrib)
	gl.VertexAttribPointer(offsetAttrib, 3, gl.FLOAT, false, 3*4, gl.PtrOffset(0))
	gl.VertexAttribDivisor(offsetAttrib, 1)

	gl.GenBuffers(1, &m.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(src.Indices)*4, gl.Ptr(src.Indices), gl.STATIC_DRAW)

	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	r.meshes[p] = m
	return m
}

// Draw issues one indirect draw per batch with back faces culled. Batches with no
// visible instances are skipped.
func (r *InstanceRenderer) Draw(batches []instancing.MeshBatch, viewProj mgl32.Mat4) int {
	defer profiling.Track("glmesh.DrawInstances")()
	r.shader.Use()
	r.shader.SetMat4("viewProj", viewProj)
	r.shader.SetVec3("color", r.Color)
	gl.Enable(gl.CULL_FACE)
	defer gl.Disable(gl.CULL_FACE)

	drawn := 0
	for _, b := range batches {
		positions := b.Buffers.InstancePositions()
		if len(positions) == 0 {
			continue
		}
		m := r.upload(b.Proxy)
		r.shader.SetMat4("localToWorld", b.Proxy.LocalToWorld())

		gl.BindBuffer(gl.ARRAY_BUFFER, r.instVBO)
		if n := len(positions); n > r.instCap {
			r.instCap = n
			gl.BufferData(gl.ARRAY_BUFFER, n*3*4, gl.Ptr(positions), gl.STREAM_DRAW)
		} else {
			gl.BufferSubData(gl.ARRAY_BUFFER, 0, n*3*4, gl.Ptr(positions))
		}
		args := b.Buffers.IndirectArgs()
		gl.BindBuffer(gl.DRAW_INDIRECT_BUFFER, r.argsBuf)
		gl.BufferData(gl.DRAW_INDIRECT_BUFFER, len(args)*4, gl.Ptr(&args[0]), gl.STREAM_DRAW)

		if b.ReverseCulling {
			gl.FrontFace(gl.CW)
		}
		gl.BindVertexArray(m.vao)
		gl.DrawElementsIndirect(gl.TRIANGLES, gl.UNSIGNED_INT, gl.PtrOffset(0))
		if b.ReverseCulling {
			gl.FrontFace(gl.CCW)
		}
		drawn += len(positions)
	}
	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindBuffer(gl.DRAW_INDIRECT_BUFFER, 0)
	return drawn
}

// Close deletes the proxy meshes, the shared buffers and the shader.
func (r *InstanceRenderer) Close() {
	for p, m := range r.meshes {
		gl.DeleteBuffers(1, &m.vbo)
		gl.DeleteBuffers(1, &m.ebo)
		gl.DeleteVertexArrays(1, &m.vao)
		delete(r.meshes, p)
	}
	gl.DeleteBuffers(1, &r.instVBO)
	gl.DeleteBuffers(1, &r.argsBuf)
	r.shader.Delete()
}
