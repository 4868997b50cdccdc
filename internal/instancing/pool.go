// Package instancing pools the per-proxy, per-view draw buffers of GPU-culled instanced
// meshes across frames.
package instancing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/bits"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"voxelstream/internal/compute"
	"voxelstream/internal/profiling"
)

var (
	ErrInertProxy     = errors.New("instancing: proxy is inert")
	ErrFrameSubmitted = errors.New("instancing: frame already submitted")
	ErrNotInFrame     = errors.New("instancing: not in a frame")
)

const (
	DefaultMaxInstances = 1024
	DefaultStaleFrames  = 4
)

// DrawBuffers is a pooled instance buffer and indirect-args pair. Contents are
// rewritten every frame the pair is used; DiscardID is the last frame that used it.
type DrawBuffers struct {
	Instances *compute.Buffer
	Args      *compute.Buffer
	DiscardID uint64
}

// IndirectArgs returns the indexed-indirect draw words.
func (b *DrawBuffers) IndirectArgs() [numArgs]uint32 {
	var out [numArgs]uint32
	for i := range out {
		out[i] = b.Args.AtomicLoad(i)
	}
	return out
}

func (b *DrawBuffers) InstanceCount() int { return int(b.Args.AtomicLoad(argInstanceCount)) }

// InstancePositions returns the instances culled into the buffer.
func (b *DrawBuffers) InstancePositions() []mgl32.Vec3 {
	n := b.InstanceCount()
	out := make([]mgl32.Vec3, n)
	for i := range out {
		out[i] = readRecord(b.Instances, i)
	}
	return out
}

// WorkDesc identifies one fill request within a frame by table index.
type WorkDesc struct {
	Proxy, MainView, CullView int
}

type workItem struct {
	WorkDesc
	buffer int
}

func compareWork(a, b workItem) int {
	return cmp.Or(
		cmp.Compare(a.Proxy, b.Proxy),
		cmp.Compare(a.MainView, b.MainView),
		cmp.Compare(a.CullView, b.CullView),
		cmp.Compare(a.buffer, b.buffer),
	)
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxInstances sets the per-proxy instance budget. Draw buffers hold four times
// as many records.
func WithMaxInstances(n int) Option { return func(p *Pool) { p.maxInstances = n } }

// WithStaleFrames sets how many frames an unused buffer survives.
func WithStaleFrames(n int) Option { return func(p *Pool) { p.staleFrames = uint64(n) } }

// WithPassHook calls fn with the label of every pass SubmitWork records.
func WithPassHook(fn func(label string)) Option { return func(p *Pool) { p.onPass = fn } }

// Pool owns the draw buffers of every instanced proxy. It is driven by the render loop:
// BeginFrame, AddWork per proxy and view, SubmitWork, then EndFrame. A Pool is not safe
// for concurrent use.
type Pool struct {
	dev          compute.Device
	logger       *log.Logger
	maxInstances int
	staleFrames  uint64
	onPass       func(string)

	buffers   []*DrawBuffers
	discardID uint64
	inFrame   bool
	submitted bool

	proxies   []*Proxy
	mainViews []*View
	cullViews []*View
	work      []workItem

	violations int
}

func NewPool(dev compute.Device, logger *log.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pool{dev: dev, logger: logger, maxInstances: DefaultMaxInstances, staleFrames: DefaultStaleFrames}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxInstances <= 0 {
		p.maxInstances = DefaultMaxInstances
	}
	if p.staleFrames == 0 {
		p.staleFrames = DefaultStaleFrames
	}
	return p
}

func (p *Pool) Len() int            { return len(p.buffers) }
func (p *Pool) DiscardID() uint64   { return p.discardID }
func (p *Pool) InFrame() bool       { return p.inFrame }
func (p *Pool) Submitted() bool     { return p.submitted }
func (p *Pool) Violations() int     { return p.violations }
func (p *Pool) recordCapacity() int { return p.maxInstances * 4 }

// baseCapacity rounds the instance budget up to a power of two.
func (p *Pool) baseCapacity() int {
	if p.maxInstances <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(p.maxInstances-1))
}

func (p *Pool) violation(format string, args ...any) {
	p.violations++
	profiling.Count("instancing.ContractViolations")
	p.logger.Printf("instancing: contract violation: "+format, args...)
}

// BeginFrame opens a frame. A frame still open is closed first.
func (p *Pool) BeginFrame() {
	if p.inFrame {
		p.violation("BeginFrame while frame %d is open", p.discardID)
		p.EndFrame()
	}
	p.inFrame = true
	p.submitted = false
}

// EndFrame clears the frame's requests, advances the generation and evicts buffers
// last used more than the stale frame count of generations ago. The using frame
// counts, so with the default a buffer goes at the end of its fourth unused frame.
func (p *Pool) EndFrame() {
	if !p.inFrame {
		p.violation("EndFrame outside a frame")
	}
	p.inFrame = false
	p.submitted = false
	p.proxies = p.proxies[:0]
	p.mainViews = p.mainViews[:0]
	p.cullViews = p.cullViews[:0]
	p.work = p.work[:0]

	p.discardID++
	for i := 0; i < len(p.buffers); {
		if p.discardID-p.buffers[i].DiscardID > p.staleFrames {
			p.releaseBuffers(p.buffers[i])
			last := len(p.buffers) - 1
			p.buffers[i] = p.buffers[last]
			p.buffers = p.buffers[:last]
			continue
		}
		i++
	}
}

func addUnique[T comparable](s *[]T, v T) int {
	if i := slices.Index(*s, v); i >= 0 {
		return i
	}
	*s = append(*s, v)
	return len(*s) - 1
}

// AddWork returns the draw buffers to fill for proxy seen from main and culled against
// cull. Identical requests within a frame share one buffer pair.
func (p *Pool) AddWork(proxy *Proxy, main, cull *View) (*DrawBuffers, error) {
	if proxy == nil || proxy.Inert() {
		return nil, ErrInertProxy
	}
	if !p.inFrame {
		p.violation("AddWork outside a frame")
		p.BeginFrame()
	}
	if p.submitted {
		return nil, ErrFrameSubmitted
	}
	if cull == nil {
		cull = main
	}
	desc := WorkDesc{
		Proxy:    addUnique(&p.proxies, proxy),
		MainView: addUnique(&p.mainViews, main),
		CullView: addUnique(&p.cullViews, cull),
	}
	for _, w := range p.work {
		if w.WorkDesc == desc {
			return p.buffers[w.buffer], nil
		}
	}
	for i, b := range p.buffers {
		if b.DiscardID < p.discardID {
			b.DiscardID = p.discardID
			p.work = append(p.work, workItem{WorkDesc: desc, buffer: i})
			return b, nil
		}
	}
	b, err := p.newBuffers()
	if err != nil {
		return nil, err
	}
	p.buffers = append(p.buffers, b)
	p.work = append(p.work, workItem{WorkDesc: desc, buffer: len(p.buffers) - 1})
	return b, nil
}

func (p *Pool) newBuffers() (*DrawBuffers, error) {
	inst, err := p.dev.CreateBuffer("Instancing.InstanceBuffer", p.recordCapacity()*recordWords,
		gputypes.BufferUsageStorage|gputypes.BufferUsageVertex)
	if err != nil {
		return nil, fmt.Errorf("instancing: %w", err)
	}
	args, err := p.dev.CreateBuffer("Instancing.IndirectArgs", numArgs,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		p.dev.ReleaseBuffer(inst)
		return nil, fmt.Errorf("instancing: %w", err)
	}
	profiling.Count("instancing.BuffersAllocated")
	return &DrawBuffers{Instances: inst, Args: args, DiscardID: p.discardID}, nil
}

func (p *Pool) releaseBuffers(b *DrawBuffers) {
	p.dev.ReleaseBuffer(b.Instances)
	p.dev.ReleaseBuffer(b.Args)
}

func (p *Pool) pass(cl *compute.CommandList, k compute.Kernel, n int, bound ...*compute.Buffer) {
	if p.onPass != nil {
		p.onPass(k.Label)
	}
	cl.Dispatch(k, [3]int{n, 1, 1}, bound...)
}

// SubmitWork fills every buffer requested this frame and waits for the passes. Work is
// grouped by proxy, then main view, then cull view, so per-proxy and per-view setup
// runs once per group.
func (p *Pool) SubmitWork(ctx context.Context) error {
	defer profiling.Track("instancing.SubmitWork")()
	if !p.inFrame {
		p.violation("SubmitWork outside a frame")
		return ErrNotInFrame
	}
	if p.submitted {
		return ErrFrameSubmitted
	}
	p.submitted = true
	if len(p.work) == 0 {
		return nil
	}
	slices.SortFunc(p.work, compareWork)

	var used []*DrawBuffers
	for _, w := range p.work {
		used = append(used, p.buffers[w.buffer])
	}
	cl := compute.NewCommandList("Instancing.SubmitWork")
	p.transition(cl, used, true)
	for _, w := range p.work {
		b := p.buffers[w.buffer]
		p.pass(cl, initInstanceKernel(b.Args, p.proxies[w.Proxy].NumIndices()), 1, b.Args)
	}

	var volatile []*compute.Buffer
	defer func() {
		for _, b := range volatile {
			p.dev.ReleaseBuffer(b)
		}
	}()
	scratch := func(label string, elems int) (*compute.Buffer, error) {
		b, err := p.dev.CreateBuffer(label, elems, gputypes.BufferUsageStorage)
		if err == nil {
			volatile = append(volatile, b)
		}
		return b, err
	}

	for i := 0; i < len(p.work); {
		pi := p.work[i].Proxy
		proxy := p.proxies[pi]
		if err := p.initResources(cl, proxy); err != nil {
			return err
		}
		n := min(proxy.NumInstances(), p.baseCapacity())
		for i < len(p.work) && p.work[i].Proxy == pi {
			mi := p.work[i].MainView
			main := p.mainViews[mi]
			candidates, err := scratch("Instancing.MeshBuffer", max(n, 1)*recordWords)
			if err != nil {
				return err
			}
			info, err := scratch("Instancing.InstanceInfo", 1)
			if err != nil {
				return err
			}
			origin := proxy.localToWorld.Inv().Mul4x1(main.Origin.Vec4(1)).Vec3()
			cl.Fill(info, 0)
			p.pass(cl, initBuffersKernel(proxy.base, candidates, info, origin, main.MaxDistance), n, proxy.base, candidates, info)

			for i < len(p.work) && p.work[i].Proxy == pi && p.work[i].MainView == mi {
				w := p.work[i]
				planes := localPlanes(p.cullViews[w.CullView].Planes, proxy.localToWorld)
				b := p.buffers[w.buffer]
				p.pass(cl, cullKernel(candidates, info, planes, b, p.recordCapacity()), n, candidates, info, b.Instances, b.Args)
				i++
			}
		}
	}
	p.transition(cl, used, false)
	// The device runs a list in order, so the last copy finishing fences every pass.
	fence := cl.EnqueueCopy("Instancing.Fence", used[0].Args, numArgs)
	if err := p.dev.Submit(cl); err != nil {
		return fmt.Errorf("instancing: %w", err)
	}
	if _, err := compute.Await(ctx, fence); err != nil {
		return fmt.Errorf("instancing: %w", err)
	}
	return nil
}

// initResources creates and fills a proxy's base instance buffer the first time the
// proxy is submitted.
func (p *Pool) initResources(cl *compute.CommandList, proxy *Proxy) error {
	if proxy.base != nil {
		return nil
	}
	capacity := p.baseCapacity()
	base, err := p.dev.CreateBuffer("Instancing.BaseInstanceBuffer."+proxy.label, capacity*recordWords, gputypes.BufferUsageStorage)
	if err != nil {
		return fmt.Errorf("instancing: %w", err)
	}
	proxy.base, proxy.dev = base, p.dev
	instances := proxy.instances
	if len(instances) > capacity {
		p.logger.Printf("instancing: %s has %d instances, keeping %d", proxy.label, len(instances), capacity)
		instances = instances[:capacity]
	}
	p.pass(cl, addInstancesKernel(base, instances), len(instances), base)
	return nil
}

func (p *Pool) transition(cl *compute.CommandList, used []*DrawBuffers, toWrite bool) {
	inst := make([]*compute.Buffer, 0, len(used))
	args := make([]*compute.Buffer, 0, len(used))
	for _, b := range used {
		inst = append(inst, b.Instances)
		args = append(args, b.Args)
	}
	if toWrite {
		cl.Transition(compute.AccessUAV, append(inst, args...)...)
		return
	}
	cl.Transition(compute.AccessSRV, inst...)
	cl.Transition(compute.AccessIndirectArgs, args...)
}

// Release frees every pooled buffer.
func (p *Pool) Release() {
	for _, b := range p.buffers {
		p.releaseBuffers(b)
	}
	p.buffers = nil
}
