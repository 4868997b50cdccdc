package meshing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"voxelstream/internal/compute"
	"voxelstream/internal/profiling"
	"voxelstream/internal/terrain"
)

var (
	ErrInvalidRequest = errors.New("meshing: invalid request")
	ErrChunkTooLarge  = errors.New("meshing: chunk too large for cell mask offsets")
	ErrCountMismatch  = errors.New("meshing: emitted indices differ from counted")
)

// Stage tags the step a pipeline run is about to execute.
type Stage int

const (
	StageDensity Stage = iota
	StageCount
	StageAlloc
	StageEmit
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageDensity:
		return "density"
	case StageCount:
		return "count"
	case StageAlloc:
		return "alloc"
	case StageEmit:
		return "emit"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Request describes one chunk to mesh.
type Request struct {
	Label         string
	Offset        mgl32.Vec3 // voxel-space position of the chunk's minimum corner
	LOD           int
	Size          int
	Scale         int
	UnitsPerVoxel int
	Isolevel      float32
	Seed          int32  // picks the density field when the pipeline has a seeded source
	WorldSize     [3]int // voxel half-extent per axis; samples beyond it are empty, 0 is unbounded
	HostCopy      bool   // read final vertices and indices back to host memory
}

// Stride returns the voxel distance between neighbouring samples.
func (r Request) Stride() int { return (1 << r.LOD) * r.Scale }

func (r Request) validate() error {
	if r.Size <= 0 || r.Scale <= 0 || r.LOD < 0 || r.UnitsPerVoxel <= 0 {
		return fmt.Errorf("%w: size=%d scale=%d lod=%d units=%d", ErrInvalidRequest, r.Size, r.Scale, r.LOD, r.UnitsPerVoxel)
	}
	cells := (r.Size + 1) * (r.Size + 1) * (r.Size + 1)
	if cells*3 > maxOffset {
		return fmt.Errorf("%w: size=%d", ErrChunkTooLarge, r.Size)
	}
	return nil
}

// Poster runs tasks on the caller's main context. Post returns false once that
// context no longer accepts work.
type Poster interface {
	Post(task func()) bool
}

// Pipeline turns chunk density into meshes through four chained compute stages.
type Pipeline struct {
	dev     compute.Device
	field   terrain.Field
	source  terrain.Source
	logger  *log.Logger
	onStage func(Request, Stage)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSeededFields samples each request's density from source.Field(req.Seed) instead
// of the pipeline's fixed field.
func WithSeededFields(source terrain.Source) PipelineOption {
	return func(p *Pipeline) { p.source = source }
}

func (p *Pipeline) fieldFor(req Request) terrain.Field {
	if p.source != nil {
		return p.source.Field(req.Seed)
	}
	return p.field
}

// WithStageHook calls fn before each stage of every run. Used for tracing.
func WithStageHook(fn func(Request, Stage)) PipelineOption {
	return func(p *Pipeline) { p.onStage = fn }
}

func NewPipeline(dev compute.Device, field terrain.Field, logger *log.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pipeline{dev: dev, field: field, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run meshes req on its own goroutine and delivers the output through post. If post
// rejects the task the output is released and deliver runs on the pipeline goroutine
// with the empty sentinel, so deliver is always called exactly once.
func (p *Pipeline) Run(ctx context.Context, req Request, post Poster, deliver func(Output)) {
	go func() {
		out, err := p.Execute(ctx, req)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Printf("mesh %s: %v", req.Label, err)
			}
			out = Output{}
		}
		if post != nil && post.Post(func() { deliver(out) }) {
			return
		}
		out.Release()
		deliver(Output{})
	}()
}

// Execute runs every stage of req, blocking until the output is ready. Empty geometry
// returns the empty sentinel with a nil error.
func (p *Pipeline) Execute(ctx context.Context, req Request) (Output, error) {
	if err := req.validate(); err != nil {
		return Output{}, err
	}
	r := &run{
		p:   p,
		req: req,
		params: params{
			layout: cellLayout{size: req.Size},
			offset: req.Offset,
			stride: float32(req.Stride()),
			unit:   float32(req.UnitsPerVoxel),
			iso:    req.Isolevel,
			bounds: [3]float32{float32(req.WorldSize[0]), float32(req.WorldSize[1]), float32(req.WorldSize[2])},
		},
	}
	defer r.releaseIntermediates()

	for r.stage != StageDone {
		if err := ctx.Err(); err != nil {
			r.out.Release()
			return Output{}, err
		}
		if p.onStage != nil {
			p.onStage(req, r.stage)
		}
		stage := r.stage
		if err := r.step(ctx); err != nil {
			r.out.Release()
			return Output{}, fmt.Errorf("%s stage: %w", stage, err)
		}
	}
	return r.out, nil
}

// run carries one request through the stages. Each stage hands its buffers to the
// next by reference.
type run struct {
	p      *Pipeline
	req    Request
	params params
	stage  Stage

	// density stage
	density *compute.Buffer
	// count stage
	mask     *compute.Buffer
	counts   *compute.Buffer
	vertices uint32
	indices  uint32
	// alloc stage
	total *compute.Buffer
	// emit stage
	emitted *compute.Buffer
	out     Output
}

func (r *run) step(ctx context.Context) error {
	switch r.stage {
	case StageDensity:
		return r.generateDensity()
	case StageCount:
		return r.count(ctx)
	case StageAlloc:
		return r.alloc(ctx)
	case StageEmit:
		return r.emit(ctx)
	}
	return nil
}

func (r *run) buffer(label string, elems int, usage gputypes.BufferUsage) (*compute.Buffer, error) {
	return r.p.dev.CreateBuffer(r.req.Label+"."+label, elems, usage)
}

// generateDensity only submits; the count stage consumes the buffer on the device.
func (r *run) generateDensity() error {
	defer profiling.Track("meshing.StageDensity")()
	g := r.params.layout.samples()
	var err error
	if r.density, err = r.buffer("Density", g.len(), gputypes.BufferUsageStorage); err != nil {
		return err
	}
	cl := compute.NewCommandList(r.req.Label + ".Density")
	cl.Transition(compute.AccessUAV, r.density)
	cl.Dispatch(densityKernel(r.params, r.p.fieldFor(r.req), r.density), [3]int{int(g), int(g), int(g)}, r.density)
	cl.Transition(compute.AccessSRV, r.density)
	if err := r.p.dev.Submit(cl); err != nil {
		return err
	}
	r.stage = StageCount
	return nil
}

func (r *run) count(ctx context.Context) error {
	defer profiling.Track("meshing.StageCount")()
	cg := r.params.layout.cells()
	var err error
	if r.mask, err = r.buffer("CellMask", cg.len(), gputypes.BufferUsageStorage); err != nil {
		return err
	}
	if r.counts, err = r.buffer("Counts", 2, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
		return err
	}
	cl := compute.NewCommandList(r.req.Label + ".Count")
	cl.Transition(compute.AccessUAV, r.mask, r.counts)
	cl.Fill(r.counts, 0)
	cl.Dispatch(countKernel(r.params, r.density, r.mask, r.counts), [3]int{int(cg), int(cg), int(cg)}, r.density, r.mask, r.counts)
	cl.Transition(compute.AccessCopySrc, r.counts)
	rb := cl.EnqueueCopy(r.req.Label+".Counts", r.counts, 2)
	if err := r.p.dev.Submit(cl); err != nil {
		return err
	}
	words, err := compute.Await(ctx, rb)
	if err != nil {
		return err
	}
	r.vertices, r.indices = words[countVertices], words[countIndices]
	if r.indices == 0 {
		profiling.Count("meshing.EarlyExitCount")
		r.finishEmpty()
		return nil
	}
	r.stage = StageAlloc
	return nil
}

func (r *run) alloc(ctx context.Context) error {
	defer profiling.Track("meshing.StageAlloc")()
	cg := r.params.layout.cells()
	var err error
	if r.total, err = r.buffer("AllocatedVertices", 1, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
		return err
	}
	cl := compute.NewCommandList(r.req.Label + ".Alloc")
	cl.Transition(compute.AccessUAV, r.mask, r.total)
	cl.Fill(r.total, 0)
	cl.Dispatch(allocKernel(r.params, r.mask, r.total), [3]int{int(cg), int(cg), int(cg)}, r.mask, r.total)
	cl.Transition(compute.AccessSRV, r.mask)
	cl.Transition(compute.AccessCopySrc, r.total)
	rb := cl.EnqueueCopy(r.req.Label+".AllocatedVertices", r.total, 1)
	if err := r.p.dev.Submit(cl); err != nil {
		return err
	}
	words, err := compute.Await(ctx, rb)
	if err != nil {
		return err
	}
	if words[0] == 0 {
		profiling.Count("meshing.EarlyExitAlloc")
		r.finishEmpty()
		return nil
	}
	if words[0] != r.vertices {
		r.p.logger.Printf("mesh %s: allocated %d vertices, counted %d", r.req.Label, words[0], r.vertices)
		r.vertices = min(r.vertices, words[0])
	}
	r.stage = StageEmit
	return nil
}

func (r *run) emit(ctx context.Context) error {
	defer profiling.Track("meshing.StageEmit")()
	cg := r.params.layout.cells()
	nv, ni := int(r.vertices), int(r.indices)

	out := Output{dev: r.p.dev, VertexCount: nv, IndexCount: ni}
	var err error
	vertexUsage := gputypes.BufferUsageStorage | gputypes.BufferUsageVertex | gputypes.BufferUsageCopySrc
	if out.Positions, err = r.buffer("Positions", nv*3, vertexUsage); err != nil {
		return err
	}
	// Assign before the remaining allocations so a failure still releases what exists.
	r.out = out
	if r.out.Normals, err = r.buffer("Normals", nv*3, vertexUsage); err != nil {
		return err
	}
	if r.out.Colors, err = r.buffer("Colors", nv*4, vertexUsage); err != nil {
		return err
	}
	if r.out.Indices, err = r.buffer("Indices", ni, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
		return err
	}
	if r.emitted, err = r.buffer("EmittedIndices", 1, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
		return err
	}

	targets := emitTargets{
		positions: r.out.Positions,
		normals:   r.out.Normals,
		colors:    r.out.Colors,
		indices:   r.out.Indices,
		emitted:   r.emitted,
	}
	cl := compute.NewCommandList(r.req.Label + ".Emit")
	cl.Transition(compute.AccessUAV, r.out.Positions, r.out.Normals, r.out.Colors, r.out.Indices, r.emitted)
	cl.Fill(r.emitted, 0)
	cl.Dispatch(emitKernel(r.params, r.density, r.mask, targets), [3]int{int(cg), int(cg), int(cg)},
		r.density, r.mask, r.out.Positions, r.out.Normals, r.out.Colors, r.out.Indices, r.emitted)
	cl.Transition(compute.AccessSRV, r.out.Positions, r.out.Normals, r.out.Colors, r.out.Indices)
	fence := cl.EnqueueCopy(r.req.Label+".EmittedIndices", r.emitted, 1)
	var rbPositions, rbIndices *compute.Readback
	if r.req.HostCopy {
		rbPositions = cl.EnqueueCopy(r.req.Label+".Positions", r.out.Positions, nv*3)
		rbIndices = cl.EnqueueCopy(r.req.Label+".Indices", r.out.Indices, ni)
	}
	if err := r.p.dev.Submit(cl); err != nil {
		return err
	}

	words, err := compute.Await(ctx, fence)
	if err != nil {
		return err
	}
	if int(words[0]) != ni {
		return fmt.Errorf("%w: emitted %d, counted %d", ErrCountMismatch, words[0], ni)
	}
	if r.req.HostCopy {
		pos, err := compute.Await(ctx, rbPositions)
		if err != nil {
			return err
		}
		idx, err := compute.Await(ctx, rbIndices)
		if err != nil {
			return err
		}
		r.out.Vertices = hostVertices(pos)
		r.out.Triangles = hostTriangles(idx)
	}
	r.stage = StageDone
	return nil
}

func (r *run) finishEmpty() {
	r.out = Output{}
	r.stage = StageDone
}

func (r *run) releaseIntermediates() {
	for _, b := range []*compute.Buffer{r.density, r.mask, r.counts, r.total, r.emitted} {
		if b != nil {
			r.p.dev.ReleaseBuffer(b)
		}
	}
}
