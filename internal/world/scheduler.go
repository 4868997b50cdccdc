package world

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream/internal/meshing"
	"voxelstream/internal/profiling"
)

// State is the phase of a scheduler cycle.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Mesher runs meshing requests. *meshing.Pipeline implements it.
type Mesher interface {
	Run(ctx context.Context, req meshing.Request, post meshing.Poster, deliver func(meshing.Output))
}

// ChunkSink receives chunk results on the main context.
type ChunkSink interface {
	SpawnChunkMesh(key ChunkKey, lod int, out meshing.Output)
	DeleteChunkMesh(key ChunkKey, lod int)
}

// SchedulerConfig wires a scheduler to its collaborators.
type SchedulerConfig struct {
	LOD                int
	MaxConcurrentTasks int
	Backoff            time.Duration
	HostCopy           bool // request host-visible triangles, for collision

	Mesher Mesher
	Sink   ChunkSink
	Post   meshing.Poster // main context of Sink
	Handle Handle         // owning world; results are dropped once it is invalid
	Logger *log.Logger
}

// Scheduler keeps one LOD's resident chunk set in line with the latest input. It runs
// on its own goroutine and holds at most MaxConcurrentTasks adds and deletes in flight.
type Scheduler struct {
	lod      int
	maxTasks int32
	backoff  time.Duration
	hostCopy bool
	mesher   Mesher
	sink     ChunkSink
	post     meshing.Poster
	handle   Handle
	logger   *log.Logger

	input   chan ChunkInput
	pending atomic.Bool
	freed   chan struct{}

	state    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	cycles   atomic.Uint64

	mu         sync.Mutex
	current    ChunkSet
	lastOrigin ChunkKey

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewScheduler starts a scheduler goroutine.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		lod:      cfg.LOD,
		maxTasks: int32(cfg.MaxConcurrentTasks),
		backoff:  cfg.Backoff,
		hostCopy: cfg.HostCopy,
		mesher:   cfg.Mesher,
		sink:     cfg.Sink,
		post:     cfg.Post,
		handle:   cfg.Handle,
		logger:   cfg.Logger,
		input:    make(chan ChunkInput, 1),
		freed:    make(chan struct{}, 1),
		current:  make(ChunkSet),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Scheduler) LOD() int { return s.lod }

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Ready reports whether the scheduler is idle with no input waiting.
func (s *Scheduler) Ready() bool { return s.State() == StateIdle && !s.pending.Load() }

// Offer hands the scheduler its next input, replacing any input it has not picked up.
// Offer must only be called from one goroutine.
func (s *Scheduler) Offer(in ChunkInput) {
	s.pending.Store(true)
	select {
	case <-s.input:
	default:
	}
	select {
	case s.input <- in:
	default:
	}
}

// Current returns a copy of the set selected by the last finished dispatch.
func (s *Scheduler) Current() ChunkSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// LastOrigin returns the origin of the last completed cycle.
func (s *Scheduler) LastOrigin() (ChunkKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOrigin, s.cycles.Load() > 0
}

func (s *Scheduler) Cycles() uint64 { return s.cycles.Load() }

func (s *Scheduler) InFlight() int { return int(s.inFlight.Load()) }

// PeakInFlight returns the highest in-flight count observed.
func (s *Scheduler) PeakInFlight() int { return int(s.peak.Load()) }

// Stop cancels outstanding meshing and blocks until the loop has exited.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case in := <-s.input:
			s.state.Store(int32(StateSelecting))
			s.pending.Store(false)
			if !s.cycle(in) {
				return
			}
			s.state.Store(int32(StateIdle))
		}
	}
}

// cycle runs one select-diff-dispatch pass and waits for its work. It returns false if
// the scheduler was stopped on the way.
func (s *Scheduler) cycle(in ChunkInput) bool {
	sel := SelectChunks(in, s.lod)
	added, deleted := Diff(in.OldChunks, sel)
	if added.Len() > 0 || deleted.Len() > 0 {
		s.logger.Printf("lod %d: +%d -%d chunks around %v", s.lod, added.Len(), deleted.Len(), in.Origin)
	}

	s.state.Store(int32(StateDispatching))
	for _, key := range added.NearestFirst(in.Origin) {
		if !s.acquire() {
			return false
		}
		s.spawn(in, key)
	}
	for _, key := range deleted.Keys() {
		if !s.acquire() {
			return false
		}
		s.remove(key)
	}

	s.mu.Lock()
	s.current = sel
	s.lastOrigin = in.Origin
	s.mu.Unlock()
	if !s.drain() {
		return false
	}
	s.cycles.Add(1)
	return true
}

func (s *Scheduler) spawn(in ChunkInput, key ChunkKey) {
	profiling.Count("world.ChunkSpawnRequests")
	unit := float32(in.UnitsPerVoxel)
	req := meshing.Request{
		Label:         fmt.Sprintf("lod%d%v", s.lod, key),
		Offset:        key.Vec3().Mul(1 / unit),
		LOD:           s.lod,
		Size:          in.Size,
		Scale:         in.Scale,
		UnitsPerVoxel: in.UnitsPerVoxel,
		Isolevel:      in.Isolevel,
		Seed:          in.Seed,
		WorldSize:     in.WorldSize,
		HostCopy:      s.hostCopy,
	}
	handle := s.handle
	s.mesher.Run(s.ctx, req, s.post, func(out meshing.Output) {
		defer s.release()
		if !handle.Valid() {
			out.Release()
			return
		}
		if out.Empty() {
			return
		}
		s.sink.SpawnChunkMesh(key, s.lod, out)
	})
}

func (s *Scheduler) remove(key ChunkKey) {
	profiling.Count("world.ChunkDeleteRequests")
	handle := s.handle
	task := func() {
		defer s.release()
		if handle.Valid() {
			s.sink.DeleteChunkMesh(key, s.lod)
		}
	}
	if s.post == nil || !s.post.Post(task) {
		s.release()
	}
}

func (s *Scheduler) tryAcquire() bool {
	for {
		n := s.inFlight.Load()
		if n >= s.maxTasks {
			return false
		}
		if s.inFlight.CompareAndSwap(n, n+1) {
			for {
				p := s.peak.Load()
				if n+1 <= p || s.peak.CompareAndSwap(p, n+1) {
					return true
				}
			}
		}
	}
}

// acquire takes a concurrency slot, backing off while none is free.
func (s *Scheduler) acquire() bool {
	for !s.tryAcquire() {
		if !s.wait() {
			return false
		}
	}
	return true
}

func (s *Scheduler) release() {
	if s.inFlight.Add(-1) < 0 {
		s.logger.Printf("lod %d: concurrency counter released below zero", s.lod)
	}
	select {
	case s.freed <- struct{}{}:
	default:
	}
}

// drain waits until all work of the cycle has completed.
func (s *Scheduler) drain() bool {
	for s.inFlight.Load() > 0 {
		if !s.wait() {
			return false
		}
	}
	return true
}

// wait sleeps for one backoff period or until a slot frees. It returns false once the
// scheduler is stopping.
func (s *Scheduler) wait() bool {
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-s.freed:
	case <-t.C:
	}
	return true
}
