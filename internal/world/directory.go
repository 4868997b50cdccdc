package world

import (
	"io"
	"log"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/meshing"
	"voxelstream/internal/physics"
	"voxelstream/internal/profiling"
)

// DirectoryConfig configures chunk objects created by a Directory.
type DirectoryConfig struct {
	ChunkWorldSize   func(lod int) int
	BoundsScale      float32
	CollisionEnabled bool
	CollisionProfile string
}

// Directory is the authority on resident chunks. Writes happen on the main context;
// readers on other goroutines see a consistent map.
type Directory struct {
	mu       sync.RWMutex
	chunks   map[int]map[ChunkKey]*Chunk
	vertices int

	cfg     DirectoryConfig
	factory MeshFactory
	cooker  physics.Cooker
	logger  *log.Logger
}

func NewDirectory(cfg DirectoryConfig, factory MeshFactory, cooker physics.Cooker, logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.BoundsScale <= 0 {
		cfg.BoundsScale = 1
	}
	return &Directory{
		chunks:  make(map[int]map[ChunkKey]*Chunk),
		cfg:     cfg,
		factory: factory,
		cooker:  cooker,
		logger:  logger,
	}
}

// SpawnChunkMesh creates the render mesh for key at lod, replacing any existing entry.
// Empty output is ignored. The directory takes ownership of out.
func (d *Directory) SpawnChunkMesh(key ChunkKey, lod int, out meshing.Output) {
	defer profiling.Track("world.SpawnChunkMesh")()
	if out.Empty() {
		return
	}
	transform := mgl32.Translate3D(float32(key.X), float32(key.Y), float32(key.Z))
	h, err := d.factory.CreateMesh(out, transform)
	if err != nil {
		d.logger.Printf("create mesh lod %d %v: %v", lod, key, err)
		out.Release()
		return
	}
	edge := float32(d.cfg.ChunkWorldSize(lod)) * d.cfg.BoundsScale
	c := &Chunk{
		Key:         key,
		LOD:         lod,
		Mesh:        h,
		Transform:   transform,
		BoundsMax:   mgl32.Vec3{edge, edge, edge},
		VertexCount: out.VertexCount,
		IndexCount:  out.IndexCount,
		output:      out,
	}
	if lod == 0 && d.cfg.CollisionEnabled && out.HasHostCopy() {
		c.Body = physics.NewBody(d.cooker, d.cfg.CollisionProfile, d.logger)
		c.Body.UpdateCollision(physics.TriMesh{Vertices: out.Vertices, Triangles: out.Triangles})
	}

	d.mu.Lock()
	level := d.chunks[lod]
	if level == nil {
		level = make(map[ChunkKey]*Chunk)
		d.chunks[lod] = level
	}
	old := level[key]
	level[key] = c
	d.vertices += c.VertexCount
	if old != nil {
		d.vertices -= old.VertexCount
	}
	d.mu.Unlock()

	if old != nil {
		d.destroy(old)
	}
}

// DeleteChunkMesh destroys the chunk at key, if any.
func (d *Directory) DeleteChunkMesh(key ChunkKey, lod int) {
	d.mu.Lock()
	c := d.chunks[lod][key]
	if c != nil {
		delete(d.chunks[lod], key)
		d.vertices -= c.VertexCount
	}
	d.mu.Unlock()
	if c != nil {
		d.destroy(c)
	}
}

func (d *Directory) destroy(c *Chunk) {
	d.factory.DestroyMesh(c.Mesh)
	if c.Body != nil {
		c.Body.Destroy()
	}
	c.output.Release()
}

func (d *Directory) Chunk(key ChunkKey, lod int) *Chunk {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chunks[lod][key]
}

func (d *Directory) Len(lod int) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chunks[lod])
}

// Keys returns the resident keys at lod in X, Y, Z order.
func (d *Directory) Keys(lod int) []ChunkKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]ChunkKey, 0, len(d.chunks[lod]))
	for k := range d.chunks[lod] {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// VertexCount returns the vertex total of every resident chunk.
func (d *Directory) VertexCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vertices
}

// Each calls fn for every resident chunk, finer levels first. fn must not modify the
// directory.
func (d *Directory) Each(fn func(*Chunk)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lods := make([]int, 0, len(d.chunks))
	for lod := range d.chunks {
		lods = append(lods, lod)
	}
	slices.Sort(lods)
	for _, lod := range lods {
		for _, c := range d.chunks[lod] {
			fn(c)
		}
	}
}

// Raycast returns the nearest hit against LOD 0 collision.
func (d *Directory) Raycast(start, dir mgl32.Vec3, maxDist float32) physics.RaycastResult {
	defer profiling.Track("world.Raycast")()
	d.mu.RLock()
	defer d.mu.RUnlock()
	best := physics.RaycastResult{Distance: maxDist}
	for _, c := range d.chunks[0] {
		if r := c.Raycast(start, dir, best.Distance); r.Hit && r.Distance <= best.Distance {
			best = r
		}
	}
	if !best.Hit {
		return physics.RaycastResult{}
	}
	return best
}

// Clear destroys every chunk.
func (d *Directory) Clear() {
	d.mu.Lock()
	all := d.chunks
	d.chunks = make(map[int]map[ChunkKey]*Chunk)
	d.vertices = 0
	d.mu.Unlock()
	for _, level := range all {
		for _, c := range level {
			d.destroy(c)
		}
	}
}
