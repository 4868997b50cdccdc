package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/xlab/closer"

	"voxelstream/internal/compute"
	"voxelstream/internal/config"
	"voxelstream/internal/graphics"
	"voxelstream/internal/graphics/glmesh"
	"voxelstream/internal/input"
	"voxelstream/internal/instancing"
	"voxelstream/internal/profiling"
	"voxelstream/internal/world"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "configs/world.yaml", "chunk world settings (YAML)")
	workers := flag.Int("workers", runtime.NumCPU(), "compute device worker goroutines")
	markers := flag.Int("markers", 6, "instanced marker grid radius in chunks, 0 disables")
	flag.Parse()

	logger := log.New(os.Stdout, "[voxelstream] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	dev := compute.NewSoftDevice(compute.WithLogger(logger), compute.WithWorkers(*workers))
	closer.Bind(func() {
		if err := dev.Close(); err != nil {
			logger.Printf("device close: %v", err)
		}
		logger.Printf("shutdown complete")
	})

	if err := glfw.Init(); err != nil {
		closer.Fatalln(err)
	}
	window, err := setupWindow()
	if err != nil {
		glfw.Terminate()
		closer.Fatalln(err)
	}

	err = run(window, cfg, dev, *markers, logger)
	glfw.Terminate()
	if err != nil {
		closer.Fatalln("run:", err)
	}
	closer.Close()
}

func run(window *glfw.Window, cfg config.Config, dev compute.Device, markerRadius int, logger *log.Logger) error {
	factory, err := glmesh.NewFactory(logger)
	if err != nil {
		return err
	}
	defer factory.Close()

	instances, err := glmesh.NewInstanceRenderer()
	if err != nil {
		return err
	}
	defer instances.Close()

	w, err := world.New(world.Options{Config: cfg, Device: dev, Factory: factory, Logger: logger})
	if err != nil {
		return err
	}
	// Chunks must be destroyed while the GL context is still alive.
	defer w.Close()

	pool := instancing.NewPool(dev, logger,
		instancing.WithMaxInstances(cfg.Instancing.MaxInstances),
		instancing.WithStaleFrames(cfg.Instancing.StaleFrames),
	)
	defer pool.Release()

	var proxy *instancing.Proxy
	if markerRadius > 0 {
		proxy = instancing.NewProxy("Markers", markerMesh(float32(cfg.UnitsPerVoxel)), mgl32.Ident4(), markerGrid(cfg, markerRadius))
		defer proxy.Release()
	}

	cam := graphics.NewCamera(windowWidth, windowHeight)
	cam.Position = mgl32.Vec3{0, 0, float32(cfg.Terrain.GroundHeight*float64(cfg.UnitsPerVoxel) + 2000)}
	cam.Pitch = -20
	cam.FarPlane = float32(cfg.ChunkWorldSize(cfg.MaxLOD) * world.DrawDistance(cfg.MaxLOD) * 2)
	factory.FogDistance = cam.FarPlane * 0.8

	in := input.NewManager()
	in.Attach(window)
	window.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) { cam.Look(x, y) })
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		if height > 0 {
			gl.Viewport(0, 0, int32(width), int32(height))
			cam.AspectRatio = float32(width) / float32(height)
		}
	})

	var (
		wireframe bool
		showProf  bool
		frozen    bool
		viewer    = cam.Position
		last      = time.Now()
		lastTitle = last
		frames    int
	)
	for !window.ShouldClose() {
		now := time.Now()
		dt := float32(now.Sub(last).Seconds())
		last = now
		profiling.ResetFrame()

		glfw.PollEvents()
		if in.JustPressed(input.ActionQuit) {
			window.SetShouldClose(true)
		}
		if in.JustPressed(input.ActionToggleWireframe) {
			wireframe = !wireframe
		}
		if in.JustPressed(input.ActionToggleProfiling) {
			showProf = !showProf
		}
		if in.JustPressed(input.ActionToggleFreeze) {
			frozen = !frozen
			logger.Printf("streaming frozen: %v", frozen)
		}
		cam.Move(
			in.Axis(input.ActionMoveForward, input.ActionMoveBackward),
			in.Axis(input.ActionMoveRight, input.ActionMoveLeft),
			in.Axis(input.ActionMoveUp, input.ActionMoveDown),
			dt, in.IsActive(input.ActionBoost),
		)
		in.EndFrame()

		if !frozen {
			viewer = cam.Position
		}
		w.Tick(viewer)

		viewProj := cam.ViewProjection()
		var batches []instancing.MeshBatch
		pool.BeginFrame()
		if proxy != nil {
			view := instancing.NewView("Main", cam.Position, viewProj)
			view.MaxDistance = cam.FarPlane / 2
			batches = proxy.CollectDraws(pool, []*instancing.View{view}, 1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := pool.SubmitWork(ctx); err != nil {
			logger.Printf("instancing submit: %v", err)
			batches = nil
		}
		cancel()

		gl.ClearColor(factory.FogColor[0], factory.FogColor[1], factory.FogColor[2], 1)
		gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
		if wireframe {
			gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
		}
		chunks := factory.Draw(w.Directory(), viewProj, cam.Position)
		markers := instances.Draw(batches, viewProj)
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
		pool.EndFrame()

		window.SwapBuffers()

		frames++
		if now.Sub(lastTitle) >= time.Second {
			window.SetTitle(fmt.Sprintf("voxelstream | %d fps | %d chunks | %d markers | %d verts",
				frames, chunks, markers, w.Directory().VertexCount()))
			if showProf {
				logger.Printf("frame: %s", profiling.TopN(6))
			}
			frames = 0
			lastTitle = now
		}
	}
	return nil
}
