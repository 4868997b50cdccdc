// Package physics cooks chunk collision meshes asynchronously and answers raycasts
// against them.
package physics

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/profiling"
)

var ErrNoTriMeshData = errors.New("physics: mesh has no triangles")

// TriMesh is host-side triangle data in the owner's local space.
type TriMesh struct {
	Vertices  []mgl32.Vec3
	Triangles [][3]uint32
}

// ContainsTriMeshData reports whether the mesh has at least one full triangle.
func (m TriMesh) ContainsTriMeshData() bool {
	return len(m.Vertices) > 0 && len(m.Triangles)*3 >= 3
}

// Shape is a cooked collision mesh.
type Shape struct {
	Mesh    TriMesh
	Min     mgl32.Vec3
	Max     mgl32.Vec3
	Profile string
	Index   uint64 // request that produced it
}

// Cooker turns triangle data into a collision shape. Cook may run on any goroutine and
// should return promptly once ctx is done.
type Cooker interface {
	Cook(ctx context.Context, mesh TriMesh) (*Shape, error)
}

// MeshCooker keeps the triangles as-is and computes their bounds.
type MeshCooker struct{}

func (MeshCooker) Cook(ctx context.Context, mesh TriMesh) (*Shape, error) {
	defer profiling.Track("physics.Cook")()
	if !mesh.ContainsTriMeshData() {
		return nil, ErrNoTriMeshData
	}
	s := &Shape{Mesh: mesh, Min: mesh.Vertices[0], Max: mesh.Vertices[0]}
	for i, v := range mesh.Vertices {
		if i&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for k := range 3 {
			s.Min[k] = min(s.Min[k], v[k])
			s.Max[k] = max(s.Max[k], v[k])
		}
	}
	return s, nil
}

type cookRequest struct {
	index  uint64
	cancel context.CancelFunc
}

// Body owns the collision of one chunk mesh. Cook requests complete in any order; a
// request applies only if it is still queued, and applying it drops every request
// queued before it.
type Body struct {
	cooker  Cooker
	profile string
	logger  *log.Logger

	mu        sync.Mutex
	queue     []*cookRequest
	nextIndex uint64
	applied   *Shape
	destroyed bool

	wg sync.WaitGroup
}

func NewBody(cooker Cooker, profile string, logger *log.Logger) *Body {
	if cooker == nil {
		cooker = MeshCooker{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Body{cooker: cooker, profile: profile, logger: logger}
}

// UpdateCollision aborts outstanding cooks and starts a new one for mesh. Meshes without
// triangle data clear nothing and cook nothing.
func (b *Body) UpdateCollision(mesh TriMesh) {
	if !mesh.ContainsTriMeshData() {
		return
	}
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	for _, r := range b.queue {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.nextIndex++
	req := &cookRequest{index: b.nextIndex, cancel: cancel}
	b.queue = append(b.queue, req)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		shape, err := b.cooker.Cook(ctx, mesh)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Printf("collision cook %d: %v", req.index, err)
		}
		b.finish(req, shape, err == nil && shape != nil)
	}()
}

func (b *Body) finish(req *cookRequest, shape *Shape, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req.cancel()
	pos := -1
	for i, r := range b.queue {
		if r == req {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	if !ok {
		b.queue = append(b.queue[:pos], b.queue[pos+1:]...)
		return
	}
	shape.Profile = b.profile
	shape.Index = req.index
	b.applied = shape
	for _, r := range b.queue[:pos] {
		r.cancel()
	}
	b.queue = append(b.queue[:0], b.queue[pos+1:]...)
}

// Shape returns the applied collision, or nil before the first cook lands.
func (b *Body) Shape() *Shape {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied
}

// Pending returns the number of queued cook requests.
func (b *Body) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Wait blocks until every started cook has finished.
func (b *Body) Wait() { b.wg.Wait() }

// Destroy aborts outstanding cooks and drops the applied shape.
func (b *Body) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	for _, r := range b.queue {
		r.cancel()
	}
	b.queue = nil
	b.applied = nil
	b.mu.Unlock()
}
