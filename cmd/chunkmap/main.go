package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/config"
	"voxelstream/internal/debugmap"
)

func main() {
	fs := flag.NewFlagSet("chunkmap", flag.ExitOnError)
	configPath := fs.String("config", "configs/world.yaml", "chunk world settings (YAML)")
	outPath := fs.String("out", "chunkmap.png", "output PNG path")
	width := fs.Int("width", 1024, "image width and height in pixels")
	x := fs.Float64("x", 0, "viewer X in world units")
	y := fs.Float64("y", 0, "viewer Y in world units")
	z := fs.Float64("z", 0, "viewer Z in world units")
	_ = fs.Parse(os.Args[1:])

	if *width <= 0 {
		fmt.Fprintln(os.Stderr, "-width must be positive")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	m := debugmap.Build(cfg, mgl32.Vec3{float32(*x), float32(*y), float32(*z)})
	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create:", err)
		os.Exit(1)
	}
	if err := m.WritePNG(f, *width); err != nil {
		_ = f.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
		os.Exit(1)
	}
	for _, l := range m.Layers {
		fmt.Printf("lod %d: %d chunks of %d units\n", l.LOD, l.Keys.Len(), l.ChunkSize)
	}
	fmt.Println("wrote", *outPath)
}
