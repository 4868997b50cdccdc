package main

import (
	"math"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/config"
	"voxelstream/internal/instancing"
)

const (
	windowWidth  = 1280
	windowHeight = 720
)

func setupWindow() (*glfw.Window, error) {
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)

	window, err := glfw.CreateWindow(windowWidth, windowHeight, "voxelstream", nil, nil)
	if err != nil {
		return nil, err
	}
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		return nil, err
	}
	glfw.SwapInterval(1)
	window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)

	gl.Enable(gl.DEPTH_TEST)
	return window, nil
}

// markerMesh is a small upright pyramid used for the instanced ground markers.
func markerMesh(size float32) *instancing.SourceMesh {
	h := size * 3
	return &instancing.SourceMesh{
		Label: "Marker",
		Positions: []mgl32.Vec3{
			{-size, -size, 0}, {size, -size, 0}, {size, size, 0}, {-size, size, 0},
			{0, 0, h},
		},
		Indices: []uint32{
			0, 1, 4,
			1, 2, 4,
			2, 3, 4,
			3, 0, 4,
			0, 2, 1,
			0, 3, 2,
		},
	}
}

// markerGrid places markers on the ground plane around the spawn point, one per
// LOD 0 chunk column.
func markerGrid(cfg config.Config, radius int) []mgl32.Vec3 {
	step := float32(cfg.ChunkWorldSize(0))
	ground := float32(cfg.Terrain.GroundHeight * float64(cfg.UnitsPerVoxel))
	var out []mgl32.Vec3
	for x := -radius; x <= radius; x++ {
		for y := -radius; y <= radius; y++ {
			if math.Hypot(float64(x), float64(y)) > float64(radius) {
				continue
			}
			out = append(out, mgl32.Vec3{float32(x)*step + step/2, float32(y)*step + step/2, ground})
		}
	}
	return out
}
