package instancing

import (
	"context"
	"errors"
	"io"
	"log"
	"slices"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
)

func newTestPool(t *testing.T, opts ...Option) (*Pool, *compute.SoftDevice) {
	t.Helper()
	dev := compute.NewSoftDevice(compute.WithWorkers(2))
	t.Cleanup(func() { dev.Close() })
	return NewPool(dev, log.New(io.Discard, "", 0), opts...), dev
}

var triangle = &SourceMesh{
	Label:     "tri",
	Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
	Indices:   []uint32{0, 1, 2},
}

// lineInstances places instances at x = -10..10.
func lineInstances() []mgl32.Vec3 {
	var out []mgl32.Vec3
	for x := -10; x <= 10; x++ {
		out = append(out, mgl32.Vec3{float32(x), 0, 0})
	}
	return out
}

func submit(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.SubmitWork(ctx); err != nil {
		t.Fatalf("SubmitWork: %v", err)
	}
}

func TestAddWorkDeduplicates(t *testing.T) {
	p, _ := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Ident4(), lineInstances())
	v1, v2 := UnboundedView("v1", mgl32.Vec3{}), UnboundedView("v2", mgl32.Vec3{})

	p.BeginFrame()
	a, err := p.AddWork(proxy, v1, v1)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.AddWork(proxy, v1, v1)
	if a != b {
		t.Fatal("identical requests got different buffers")
	}
	c, _ := p.AddWork(proxy, v1, v2)
	if c == a {
		t.Fatal("different cull view shared a buffer")
	}
	if p.Len() != 2 {
		t.Fatalf("pool holds %d buffers, want 2", p.Len())
	}
	p.EndFrame()
}

func TestBuffersRecycleAcrossFrames(t *testing.T) {
	p, _ := newTestPool(t)
	a := NewProxy("a", triangle, mgl32.Ident4(), nil)
	b := NewProxy("b", triangle, mgl32.Ident4(), nil)
	v := UnboundedView("v", mgl32.Vec3{})

	p.BeginFrame()
	first, _ := p.AddWork(a, v, v)
	p.EndFrame()

	p.BeginFrame()
	second, _ := p.AddWork(b, v, v)
	p.EndFrame()
	if first != second || p.Len() != 1 {
		t.Fatalf("buffer not recycled: len %d", p.Len())
	}
	if second.DiscardID != 1 {
		t.Fatalf("DiscardID = %d, want 1", second.DiscardID)
	}
}

func TestStaleBuffersAreEvicted(t *testing.T) {
	p, dev := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Ident4(), nil)
	v := UnboundedView("v", mgl32.Vec3{})

	p.BeginFrame()
	p.AddWork(proxy, v, v)
	p.EndFrame()
	// The frame that used the buffer counts toward its age, so the default
	// drops it at the end of the fourth unused frame.
	for unused, want := range []int{1, 1, 1, 0} {
		p.BeginFrame()
		p.EndFrame()
		if p.Len() != want {
			t.Fatalf("after %d unused frames Len = %d, want %d", unused+1, p.Len(), want)
		}
	}
	if dev.LiveBuffers() != 0 {
		t.Fatalf("%d device buffers leaked by eviction", dev.LiveBuffers())
	}
}

func TestBufferUsedEveryFrameIsKept(t *testing.T) {
	p, _ := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Ident4(), nil)
	v := UnboundedView("v", mgl32.Vec3{})

	var first *DrawBuffers
	for i := range 20 {
		p.BeginFrame()
		b, _ := p.AddWork(proxy, v, v)
		if i == 0 {
			first = b
		}
		if b != first {
			t.Fatalf("frame %d got a new buffer", i)
		}
		p.EndFrame()
	}
	if p.Len() != 1 {
		t.Fatalf("pool holds %d buffers", p.Len())
	}
}

func TestFrameMisuseIsCorrected(t *testing.T) {
	p, _ := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Ident4(), nil)
	v := UnboundedView("v", mgl32.Vec3{})

	p.BeginFrame()
	p.BeginFrame()
	if p.Violations() != 1 || !p.InFrame() || p.DiscardID() != 1 {
		t.Fatalf("violations %d in frame %v id %d", p.Violations(), p.InFrame(), p.DiscardID())
	}
	p.EndFrame()
	p.EndFrame()
	if p.Violations() != 2 || p.InFrame() {
		t.Fatalf("violations %d after double EndFrame", p.Violations())
	}
	if _, err := p.AddWork(proxy, v, v); err != nil {
		t.Fatal(err)
	}
	if p.Violations() != 3 || !p.InFrame() {
		t.Fatal("AddWork outside a frame not corrected")
	}
	p.EndFrame()
	if err := p.SubmitWork(context.Background()); !errors.Is(err, ErrNotInFrame) {
		t.Fatalf("SubmitWork outside a frame: %v", err)
	}
}

func TestInertProxyDoesNothing(t *testing.T) {
	p, _ := newTestPool(t)
	v := UnboundedView("v", mgl32.Vec3{})
	for _, mesh := range []*SourceMesh{nil, {Label: "empty"}} {
		proxy := NewProxy("inert", mesh, mgl32.Ident4(), lineInstances())
		if !proxy.Inert() {
			t.Fatal("proxy without a mesh is not inert")
		}
		p.BeginFrame()
		if got := proxy.CollectDraws(p, []*View{v}, 1); got != nil {
			t.Fatalf("inert proxy collected %d draws", len(got))
		}
		if _, err := p.AddWork(proxy, v, v); !errors.Is(err, ErrInertProxy) {
			t.Fatalf("AddWork: %v", err)
		}
		p.EndFrame()
	}
	if p.Len() != 0 {
		t.Fatal("inert proxy allocated buffers")
	}
}

func TestSubmitCullsInstances(t *testing.T) {
	p, dev := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Translate3D(100, 0, 0), lineInstances())
	defer proxy.Release()

	// Keep world x >= 100, which is local x >= 0.
	half := UnboundedView("half", mgl32.Vec3{})
	half.Planes[0] = mgl32.Vec4{1, 0, 0, -100}
	near := UnboundedView("near", mgl32.Vec3{100, 0, 0})
	near.MaxDistance = 5

	p.BeginFrame()
	hb, _ := p.AddWork(proxy, half, half)
	nb, _ := p.AddWork(proxy, near, near)
	submit(t, p)

	if got := hb.IndirectArgs(); got != [numArgs]uint32{3, 11, 0, 0, 0} {
		t.Fatalf("half-space args %v, want {3 11 0 0 0}", got)
	}
	for _, pos := range hb.InstancePositions() {
		if pos[0] < 0 {
			t.Fatalf("instance %v kept outside the plane", pos)
		}
	}
	got := nb.InstancePositions()
	slices.SortFunc(got, func(a, b mgl32.Vec3) int { return int(a[0] - b[0]) })
	if len(got) != 11 || got[0][0] != -5 || got[10][0] != 5 {
		t.Fatalf("distance culling kept %v", got)
	}
	if hb.Instances.Access() != compute.AccessSRV || hb.Args.Access() != compute.AccessIndirectArgs {
		t.Fatalf("buffers left in %v/%v", hb.Instances.Access(), hb.Args.Access())
	}
	if err := p.SubmitWork(context.Background()); !errors.Is(err, ErrFrameSubmitted) {
		t.Fatalf("second SubmitWork: %v", err)
	}
	p.EndFrame()

	p.Release()
	proxy.Release()
	if dev.LiveBuffers() != 0 {
		t.Fatalf("%d device buffers leaked", dev.LiveBuffers())
	}
}

func TestSubmitGroupsPasses(t *testing.T) {
	var passes []string
	p, _ := newTestPool(t, WithPassHook(func(l string) { passes = append(passes, l) }))
	a := NewProxy("a", triangle, mgl32.Ident4(), lineInstances())
	b := NewProxy("b", triangle, mgl32.Ident4(), lineInstances())
	defer a.Release()
	defer b.Release()
	v1, v2 := UnboundedView("v1", mgl32.Vec3{}), UnboundedView("v2", mgl32.Vec3{})

	frame := func() {
		passes = passes[:0]
		p.BeginFrame()
		p.AddWork(b, v1, v1)
		p.AddWork(a, v1, v2)
		p.AddWork(a, v1, v1)
		submit(t, p)
		p.EndFrame()
	}
	frame()
	want := []string{
		"InitInstanceBuffer", "InitInstanceBuffer", "InitInstanceBuffer",
		"AddInstances", "InitBuffers", "CullInstances",
		"AddInstances", "InitBuffers", "CullInstances", "CullInstances",
	}
	if !slices.Equal(passes, want) {
		t.Fatalf("passes %v\nwant %v", passes, want)
	}
	frame()
	want = slices.DeleteFunc(want, func(s string) bool { return s == "AddInstances" })
	if !slices.Equal(passes, want) {
		t.Fatalf("second frame passes %v\nwant %v", passes, want)
	}
}

func TestWorkSortOrder(t *testing.T) {
	items := []workItem{
		{WorkDesc{1, 0, 0}, 0},
		{WorkDesc{0, 1, 0}, 1},
		{WorkDesc{0, 0, 1}, 2},
		{WorkDesc{0, 0, 1}, 0},
		{WorkDesc{0, 0, 0}, 3},
	}
	slices.SortFunc(items, compareWork)
	want := []workItem{
		{WorkDesc{0, 0, 0}, 3},
		{WorkDesc{0, 0, 1}, 0},
		{WorkDesc{0, 0, 1}, 2},
		{WorkDesc{0, 1, 0}, 1},
		{WorkDesc{1, 0, 0}, 0},
	}
	if !slices.Equal(items, want) {
		t.Fatalf("sorted %v", items)
	}
}

func TestCollectDrawsFollowsVisibility(t *testing.T) {
	p, _ := newTestPool(t)
	proxy := NewProxy("a", triangle, mgl32.Scale3D(-1, 1, 1), lineInstances())
	defer proxy.Release()
	views := []*View{
		UnboundedView("main", mgl32.Vec3{}),
		UnboundedView("hidden", mgl32.Vec3{}),
		UnboundedView("shadow", mgl32.Vec3{}),
	}

	p.BeginFrame()
	batches := proxy.CollectDraws(p, views, 0b101)
	if len(batches) != 2 || batches[0].View != views[0] || batches[1].View != views[2] {
		t.Fatalf("batches %+v", batches)
	}
	if batches[0].NumIndices != 3 || !batches[0].ReverseCulling {
		t.Fatalf("batch %+v", batches[0])
	}
	submit(t, p)
	if got := proxy.CollectDraws(p, views, 0b111); got != nil {
		t.Fatal("collected draws after submission")
	}
	p.EndFrame()
	p.Release()
}

func TestNewViewPlanes(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 1000)
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	v := NewView("cam", mgl32.Vec3{}, proj.Mul4(view))
	tests := []struct {
		p    mgl32.Vec3
		want bool
	}{
		{mgl32.Vec3{0, 0, -10}, true},
		{mgl32.Vec3{5, 5, -10}, true},
		{mgl32.Vec3{0, 0, 10}, false},
		{mgl32.Vec3{100, 0, -10}, false},
		{mgl32.Vec3{0, -100, -10}, false},
		{mgl32.Vec3{0, 0, -5000}, true}, // no far plane
	}
	for _, tt := range tests {
		if got := v.Contains(tt.p); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func BenchmarkSubmitWork(b *testing.B) {
	dev := compute.NewSoftDevice()
	defer dev.Close()
	p := NewPool(dev, nil)
	defer p.Release()
	proxy := NewProxy("a", triangle, mgl32.Ident4(), lineInstances())
	defer proxy.Release()
	v := UnboundedView("v", mgl32.Vec3{})
	ctx := context.Background()
	for b.Loop() {
		p.BeginFrame()
		p.AddWork(proxy, v, v)
		if err := p.SubmitWork(ctx); err != nil {
			b.Fatal(err)
		}
		p.EndFrame()
	}
}
