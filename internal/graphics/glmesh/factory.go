// Package glmesh uploads chunk meshes and instanced proxies to OpenGL 4.1.
package glmesh

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/graphics"
	"voxelstream/internal/meshing"
	"voxelstream/internal/profiling"
	"voxelstream/internal/world"
)

var (
	//go:embed shaders/chunk.vert
	chunkVert string
	//go:embed shaders/chunk.frag
	chunkFrag string
)

var ErrEmptyOutput = errors.New("glmesh: output has no geometry")

// vertexData is a chunk mesh read back from the meshing device buffers.
type vertexData struct {
	positions []float32
	normals   []float32
	colors    []float32
	indices   []uint32
}

func readOutput(out meshing.Output) (vertexData, error) {
	if out.Empty() || out.Positions == nil || out.Indices == nil {
		return vertexData{}, ErrEmptyOutput
	}
	nv, ni := out.VertexCount, out.IndexCount
	if out.Positions.Len() < nv*3 || out.Indices.Len() < ni {
		return vertexData{}, fmt.Errorf("glmesh: buffers shorter than counts (%d verts, %d indices)", nv, ni)
	}
	d := vertexData{
		positions: out.Positions.Float32s()[:nv*3],
		indices:   out.Indices.Uint32s()[:ni],
	}
	if out.Normals != nil && out.Normals.Len() >= nv*3 {
		d.normals = out.Normals.Float32s()[:nv*3]
	} else {
		d.normals = make([]float32, nv*3)
		for i := 0; i < nv; i++ {
			d.normals[i*3+2] = 1
		}
	}
	if out.Colors != nil && out.Colors.Len() >= nv*4 {
		d.colors = out.Colors.Float32s()[:nv*4]
	} else {
		d.colors = make([]float32, nv*4)
		for i := range d.colors {
			d.colors[i] = 1
		}
	}
	for _, ix := range d.indices {
		if int(ix) >= nv {
			return vertexData{}, fmt.Errorf("glmesh: index %d out of range for %d vertices", ix, nv)
		}
	}
	return d, nil
}

type mesh struct {
	vao, ebo   uint32
	vbos       [3]uint32
	indexCount int32
	transform  mgl32.Mat4
}

// Factory implements world.MeshFactory on the GL context thread.
type Factory struct {
	shader *graphics.Shader
	meshes map[world.MeshHandle]*mesh
	next   world.MeshHandle
	logger *log.Logger

	LightDir    mgl32.Vec3
	FogColor    mgl32.Vec3
	FogDistance float32
}

// NewFactory compiles the chunk shader. A GL context must be current.
func NewFactory(logger *log.Logger) (*Factory, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	shader, err := graphics.NewShader(chunkVert, chunkFrag)
	if err != nil {
		return nil, fmt.Errorf("glmesh: %w", err)
	}
	return &Factory{
		shader:      shader,
		meshes:      make(map[world.MeshHandle]*mesh),
		logger:      logger,
		LightDir:    mgl32.Vec3{-0.4, -0.3, -1},
		FogColor:    mgl32.Vec3{0.62, 0.75, 0.9},
		FogDistance: 60000,
	}, nil
}

func (f *Factory) Len() int { return len(f.meshes) }

func (f *Factory) CreateMesh(out meshing.Output, transform mgl32.Mat4) (world.MeshHandle, error) {
	defer profiling.Track("glmesh.CreateMesh")()
	d, err := readOutput(out)
	if err != nil {
		return 0, err
	}
	m := &mesh{indexCount: int32(len(d.indices)), transform: transform}
	gl.GenVertexArrays(1, &m.vao)
	gl.BindVertexArray(m.vao)

	gl.GenBuffers(3, &m.vbos[0])
	attrib := func(loc uint32, vbo uint32, data []float32, size int32) {
		gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
		gl.BufferData(gl.ARRAY_BUFFER, len(data)*4, gl.Ptr(data), gl.STATIC_DRAW)
		gl.EnableVertexAttribArray(loc)
		gl.VertexAttribPointer(loc, size, gl.FLOAT, false, size*4, gl.PtrOffset(0))
	}
	attrib(0, m.vbos[0], d.positions, 3)
	attrib(1, m.vbos[1], d.normals, 3)
	attrib(2, m.vbos[2], d.colors, 4)

	gl.GenBuffers(1, &m.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(d.indices)*4, gl.Ptr(d.indices), gl.STATIC_DRAW)

	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)

	f.next++
	f.meshes[f.next] = m
	return f.next, nil
}

func (f *Factory) DestroyMesh(h world.MeshHandle) {
	m, ok := f.meshes[h]
	if !ok {
		f.logger.Printf("glmesh: destroy of unknown mesh %d", h)
		return
	}
	delete(f.meshes, h)
	gl.DeleteBuffers(3, &m.vbos[0])
	gl.DeleteBuffers(1, &m.ebo)
	gl.DeleteVertexArrays(1, &m.vao)
}

// Draw renders every resident chunk of dir.
func (f *Factory) Draw(dir *world.Directory, viewProj mgl32.Mat4, eye mgl32.Vec3) int {
	defer profiling.Track("glmesh.Draw")()
	f.shader.Use()
	f.shader.SetMat4("viewProj", viewProj)
	f.shader.SetVec3("lightDir", f.LightDir)
	f.shader.SetVec3("eye", eye)
	f.shader.SetVec3("fogColor", f.FogColor)
	f.shader.SetFloat("fogDistance", f.FogDistance)

	drawn := 0
	dir.Each(func(c *world.Chunk) {
		m, ok := f.meshes[c.Mesh]
		if !ok {
			return
		}
		f.shader.SetMat4("model", m.transform)
		gl.BindVertexArray(m.vao)
		gl.DrawElements(gl.TRIANGLES, m.indexCount, gl.UNSIGNED_INT, gl.PtrOffset(0))
		drawn++
	})
	gl.BindVertexArray(0)
	return drawn
}

// Close deletes every mesh and the shader.
func (f *Factory) Close() {
	for h := range f.meshes {
		f.DestroyMesh(h)
	}
	f.shader.Delete()
}
