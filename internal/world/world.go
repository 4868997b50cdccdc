// Package world streams LOD chunk meshes around a moving viewer.
package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/compute"
	"voxelstream/internal/config"
	"voxelstream/internal/meshing"
	"voxelstream/internal/physics"
	"voxelstream/internal/profiling"
	"voxelstream/internal/terrain"
)

var (
	ErrNoMeshFactory = errors.New("world: mesh factory required")
	ErrClosed        = errors.New("world: closed")
)

// Options configures a World. Device, Field, Cooker and Logger are optional.
type Options struct {
	Config  config.Config
	Device  compute.Device
	Field   terrain.Field
	Factory MeshFactory
	Cooker  physics.Cooker
	Logger  *log.Logger
}

// World owns the per-LOD schedulers, the chunk directory and the main-context queue.
type World struct {
	cfg    config.Config
	logger *log.Logger

	dev       compute.Device
	ownDevice bool
	pipeline  *meshing.Pipeline
	dir       *Directory
	queue     *TaskQueue
	life      Lifetime

	schedulers []*Scheduler
	origin     ChunkKey
	closed     bool
}

func New(opts Options) (*World, error) {
	cfg := opts.Config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if opts.Factory == nil {
		return nil, ErrNoMeshFactory
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{cfg: cfg, logger: logger, dev: opts.Device, queue: &TaskQueue{}}
	if w.dev == nil {
		w.dev = compute.NewSoftDevice(compute.WithLogger(logger))
		w.ownDevice = true
	}
	// A caller-supplied field ignores the seed; the default terrain follows it per request.
	var source terrain.Source = terrain.NewGenerator(cfg.Terrain)
	if opts.Field != nil {
		source = terrain.Fixed{F: opts.Field}
	}
	w.pipeline = meshing.NewPipeline(w.dev, nil, logger, meshing.WithSeededFields(source))
	w.dir = NewDirectory(DirectoryConfig{
		ChunkWorldSize:   cfg.ChunkWorldSize,
		BoundsScale:      cfg.BoundsScale,
		CollisionEnabled: cfg.CollisionEnabled,
		CollisionProfile: cfg.CollisionProfile,
	}, opts.Factory, opts.Cooker, logger)

	for lod := 0; lod <= cfg.MaxLOD; lod++ {
		w.schedulers = append(w.schedulers, NewScheduler(SchedulerConfig{
			LOD:                lod,
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
			Backoff:            time.Duration(cfg.BackoffMs) * time.Millisecond,
			HostCopy:           lod == 0 && cfg.CollisionEnabled,
			Mesher:             w.pipeline,
			Sink:               w.dir,
			Post:               w.queue,
			Handle:             w.life.Handle(),
			Logger:             logger,
		}))
	}
	logger.Printf("world: %d lods, chunk %d units, %d tasks per lod", cfg.MaxLOD+1, cfg.ChunkWorldSize(0), cfg.MaxConcurrentTasks)
	return w, nil
}

func (w *World) Config() config.Config { return w.cfg }

func (w *World) Directory() *Directory { return w.dir }

func (w *World) Origin() ChunkKey { return w.origin }

// Scheduler returns the scheduler of lod, or nil.
func (w *World) Scheduler(lod int) *Scheduler {
	if lod < 0 || lod >= len(w.schedulers) {
		return nil
	}
	return w.schedulers[lod]
}

// Handle returns a reference that stays valid until Close.
func (w *World) Handle() Handle { return w.life.Handle() }

// Tick runs queued main-context work and feeds an input around viewer to every ready
// scheduler whose last cycle ran around another origin. It must be called from the main
// context. It returns the number of tasks run.
func (w *World) Tick(viewer mgl32.Vec3) int {
	defer profiling.Track("world.Tick")()
	if w.closed {
		return 0
	}
	n := w.queue.Drain()
	w.origin = QuantizeOrigin(viewer, w.cfg.ChunkWorldSize(0))
	for _, s := range w.schedulers {
		if !s.Ready() {
			continue
		}
		// An idle scheduler that finished around this origin would only diff to nothing.
		if last, ok := s.LastOrigin(); ok && last == w.origin {
			continue
		}
		s.Offer(NewChunkInput(w.cfg, w.origin, s.LOD(), s.Current()))
	}
	return n
}

// Settled reports whether every scheduler has finished a cycle around the current
// origin and nothing is waiting on the main context.
func (w *World) Settled() bool {
	if w.queue.Len() > 0 {
		return false
	}
	for _, s := range w.schedulers {
		origin, ok := s.LastOrigin()
		if !ok || origin != w.origin || !s.Ready() || s.InFlight() > 0 {
			return false
		}
	}
	return true
}

// Settle ticks around viewer until the world has settled or ctx is done.
func (w *World) Settle(ctx context.Context, viewer mgl32.Vec3, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if w.closed {
			return ErrClosed
		}
		w.Tick(viewer)
		if w.Settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if w.Settled() {
			return nil
		}
	}
}

// Close invalidates outstanding results, stops the schedulers and destroys every chunk.
func (w *World) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.life.Invalidate()
	for _, s := range w.schedulers {
		s.Stop()
	}
	w.queue.Close()
	// Late deliveries see an invalid handle and only release their slot.
	w.queue.Drain()
	w.dir.Clear()
	if w.ownDevice {
		if err := w.dev.Close(); err != nil {
			w.logger.Printf("world: close device: %v", err)
		}
	}
	w.logger.Printf("world: closed")
}
