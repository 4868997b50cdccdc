package world

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxelstream/internal/meshing"
)

// fakeMesher completes every request after delay, or when its context ends if block
// is set.
type fakeMesher struct {
	delay  time.Duration
	block  bool
	empty  func(meshing.Request) bool
	active atomic.Int32
	peak   atomic.Int32
	runs   atomic.Int32
}

func (m *fakeMesher) Run(ctx context.Context, req meshing.Request, post meshing.Poster, deliver func(meshing.Output)) {
	m.runs.Add(1)
	go func() {
		n := m.active.Add(1)
		for {
			p := m.peak.Load()
			if n <= p || m.peak.CompareAndSwap(p, n) {
				break
			}
		}
		if m.block {
			<-ctx.Done()
		} else {
			time.Sleep(m.delay)
		}
		m.active.Add(-1)
		out := meshing.Output{VertexCount: 3, IndexCount: 3}
		if ctx.Err() != nil || (m.empty != nil && m.empty(req)) {
			out = meshing.Output{}
		}
		if !post.Post(func() { deliver(out) }) {
			deliver(meshing.Output{})
		}
	}()
}

type recordingSink struct {
	mu       sync.Mutex
	resident map[ChunkKey]bool
	spawns   int
	deletes  int
}

func newRecordingSink() *recordingSink { return &recordingSink{resident: make(map[ChunkKey]bool)} }

func (r *recordingSink) SpawnChunkMesh(key ChunkKey, _ int, _ meshing.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resident[key] = true
	r.spawns++
}

func (r *recordingSink) DeleteChunkMesh(key ChunkKey, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resident, key)
	r.deletes++
}

func (r *recordingSink) keys() ChunkSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := make(ChunkSet)
	for k := range r.resident {
		s.Add(k)
	}
	return s
}

type schedulerFixture struct {
	s     *Scheduler
	m     *fakeMesher
	sink  *recordingSink
	queue *TaskQueue
	life  *Lifetime
}

func newSchedulerFixture(t *testing.T, lod, tasks int, m *fakeMesher) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{m: m, sink: newRecordingSink(), queue: &TaskQueue{}, life: &Lifetime{}}
	f.s = NewScheduler(SchedulerConfig{
		LOD:                lod,
		MaxConcurrentTasks: tasks,
		Backoff:            time.Millisecond,
		Mesher:             m,
		Sink:               f.sink,
		Post:               f.queue,
		Handle:             f.life.Handle(),
		Logger:             log.New(io.Discard, "", 0),
	})
	t.Cleanup(f.s.Stop)
	return f
}

// pump drains the main queue until the scheduler has finished cycle n.
func (f *schedulerFixture) pump(t *testing.T, n uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for f.s.Cycles() < n || !f.s.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler stuck in %v with %d in flight", f.s.State(), f.s.InFlight())
		}
		f.queue.Drain()
		time.Sleep(100 * time.Microsecond)
	}
	f.queue.Drain()
}

func TestSchedulerSpawnsSelection(t *testing.T) {
	f := newSchedulerFixture(t, 0, 4, &fakeMesher{})
	cfg := testConfig()
	if !f.s.Ready() {
		t.Fatal("new scheduler not ready")
	}
	f.s.Offer(NewChunkInput(cfg, ChunkKey{}, 0, nil))
	f.pump(t, 1)

	want := SelectChunks(NewChunkInput(cfg, ChunkKey{}, 0, nil), 0)
	if !f.sink.keys().Equal(want) {
		t.Fatalf("resident %d keys, want %d", f.sink.keys().Len(), want.Len())
	}
	if !f.s.Current().Equal(want) {
		t.Fatal("Current() differs from the selection")
	}
	if f.s.InFlight() != 0 {
		t.Fatalf("in flight %d after cycle", f.s.InFlight())
	}
	if origin, ok := f.s.LastOrigin(); !ok || origin != (ChunkKey{}) {
		t.Fatalf("LastOrigin = %v, %v", origin, ok)
	}
}

func TestSchedulerDeletesLeftChunks(t *testing.T) {
	f := newSchedulerFixture(t, 0, 4, &fakeMesher{})
	cfg := testConfig()
	f.s.Offer(NewChunkInput(cfg, ChunkKey{}, 0, nil))
	f.pump(t, 1)

	moved := ChunkKey{X: 1600}
	f.s.Offer(NewChunkInput(cfg, moved, 0, f.s.Current()))
	f.pump(t, 2)

	want := SelectChunks(NewChunkInput(cfg, moved, 0, nil), 0)
	if !f.sink.keys().Equal(want) {
		t.Fatalf("resident set after move has %d keys, want %d", f.sink.keys().Len(), want.Len())
	}
	if f.sink.deletes != 9 || f.sink.spawns != 27+9 {
		t.Fatalf("spawns %d deletes %d, want 36 and 9", f.sink.spawns, f.sink.deletes)
	}
}

func TestSchedulerSkipsEmptyOutput(t *testing.T) {
	m := &fakeMesher{empty: func(r meshing.Request) bool { return r.Offset[2] != 0 }}
	f := newSchedulerFixture(t, 0, 4, m)
	f.s.Offer(NewChunkInput(testConfig(), ChunkKey{}, 0, nil))
	f.pump(t, 1)
	if f.sink.spawns != 9 {
		t.Fatalf("spawned %d chunks, want the 9 at z=0", f.sink.spawns)
	}
	if f.s.Current().Len() != 27 {
		t.Fatal("empty chunks dropped from the selection")
	}
}

func TestSchedulerForwardsSeed(t *testing.T) {
	var wrong atomic.Int32
	m := &fakeMesher{empty: func(r meshing.Request) bool {
		if r.Seed != 77 {
			wrong.Add(1)
		}
		return false
	}}
	f := newSchedulerFixture(t, 0, 4, m)
	cfg := testConfig()
	cfg.Seed = 77
	f.s.Offer(NewChunkInput(cfg, ChunkKey{}, 0, nil))
	f.pump(t, 1)
	if n := m.runs.Load(); n != 27 {
		t.Fatalf("mesher ran %d times, want 27", n)
	}
	if n := wrong.Load(); n != 0 {
		t.Fatalf("%d requests lost the world seed", n)
	}
}

func TestSchedulerNeverExceedsConcurrencyCap(t *testing.T) {
	const tasks = 3
	m := &fakeMesher{delay: 200 * time.Microsecond}
	f := newSchedulerFixture(t, 1, tasks, m)
	cfg := testConfig()
	f.s.Offer(NewChunkInput(cfg, ChunkKey{}, 1, nil))
	f.pump(t, 1)
	// Move far enough that every chunk is replaced: a burst of adds and deletes.
	far := ChunkKey{X: 100 * cfg.ChunkWorldSize(1)}
	f.s.Offer(NewChunkInput(cfg, far, 1, f.s.Current()))
	f.pump(t, 2)

	if p := f.s.PeakInFlight(); p > tasks || p == 0 {
		t.Fatalf("peak in flight %d, cap %d", p, tasks)
	}
	if p := m.peak.Load(); p > tasks {
		t.Fatalf("mesher saw %d concurrent runs, cap %d", p, tasks)
	}
	if f.sink.deletes != 342 || f.sink.keys().Len() != 342 {
		t.Fatalf("deletes %d resident %d, want 342 each", f.sink.deletes, f.sink.keys().Len())
	}
}

func TestSchedulerOfferOverwritesPendingInput(t *testing.T) {
	m := &fakeMesher{block: true}
	f := newSchedulerFixture(t, 0, 1, m)
	cfg := testConfig()
	f.s.Offer(NewChunkInput(cfg, ChunkKey{}, 0, nil))
	deadline := time.Now().Add(5 * time.Second)
	for m.runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never dispatched")
		}
		time.Sleep(time.Millisecond)
	}
	// The first cycle is stuck on its one slot; later offers replace each other.
	for i := 1; i <= 3; i++ {
		f.s.Offer(NewChunkInput(cfg, ChunkKey{X: i * 1600}, 0, nil))
	}
	if f.s.Ready() {
		t.Fatal("scheduler ready while holding input")
	}
	if len(f.s.input) != 1 {
		t.Fatalf("%d inputs pending, want 1", len(f.s.input))
	}
	in := <-f.s.input
	if in.Origin.X != 3*1600 {
		t.Fatalf("pending origin %v, want the latest", in.Origin)
	}
}

func TestSchedulerStopWithWorkInFlight(t *testing.T) {
	m := &fakeMesher{block: true}
	f := newSchedulerFixture(t, 0, 2, m)
	f.s.Offer(NewChunkInput(testConfig(), ChunkKey{}, 0, nil))
	deadline := time.Now().Add(5 * time.Second)
	for m.runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("runs never started")
		}
		time.Sleep(time.Millisecond)
	}

	f.life.Invalidate()
	done := make(chan struct{})
	go func() {
		f.s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if m.runs.Load() != 2 {
		t.Fatalf("%d runs started past the cap", m.runs.Load())
	}

	// Cancelled runs still deliver and give back their slot.
	for f.s.InFlight() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("counter stuck at %d", f.s.InFlight())
		}
		f.queue.Drain()
		time.Sleep(time.Millisecond)
	}
	if f.sink.spawns != 0 {
		t.Fatalf("%d spawns after the world was invalidated", f.sink.spawns)
	}
}

func TestSchedulerClosedQueueReleasesSlots(t *testing.T) {
	f := newSchedulerFixture(t, 0, 4, &fakeMesher{})
	f.queue.Close()
	f.s.Offer(NewChunkInput(testConfig(), ChunkKey{}, 0, nil))
	f.pump(t, 1)
	if f.sink.spawns != 0 || f.s.InFlight() != 0 {
		t.Fatalf("spawns %d in flight %d with a closed queue", f.sink.spawns, f.s.InFlight())
	}
}
