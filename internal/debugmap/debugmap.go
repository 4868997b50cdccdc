// Package debugmap draws the chunk selection around a viewer as a top-down image.
package debugmap

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"voxelstream/internal/config"
	"voxelstream/internal/world"
)

var (
	background = color.RGBA{16, 18, 24, 255}
	originMark = color.RGBA{255, 255, 255, 255}
	textColor  = color.RGBA{230, 230, 230, 255}

	palette = []color.RGBA{
		{230, 80, 60, 255},
		{240, 170, 50, 255},
		{90, 190, 90, 255},
		{60, 150, 220, 255},
		{150, 100, 220, 255},
		{120, 120, 120, 255},
	}
)

// LODColor returns the fill colour of lod.
func LODColor(lod int) color.RGBA { return palette[min(lod, len(palette)-1)] }

// Layer is the selection of one level of detail.
type Layer struct {
	LOD       int
	ChunkSize int
	Keys      world.ChunkSet
}

// Map is the selection of every level around one origin.
type Map struct {
	Origin world.ChunkKey
	Layers []Layer
}

// Build runs the selector for every level in cfg around viewer.
func Build(cfg config.Config, viewer mgl32.Vec3) Map {
	origin := world.QuantizeOrigin(viewer, cfg.ChunkWorldSize(0))
	m := Map{Origin: origin}
	for lod := 0; lod <= cfg.MaxLOD; lod++ {
		in := world.NewChunkInput(cfg, origin, lod, nil)
		m.Layers = append(m.Layers, Layer{
			LOD:       lod,
			ChunkSize: in.ChunkWorldSize(lod),
			Keys:      world.SelectChunks(in, lod),
		})
	}
	return m
}

// extent is the largest distance from the origin any selected chunk reaches on X or Y.
func (m Map) extent() int {
	e := 1
	for _, l := range m.Layers {
		for k := range l.Keys {
			dx, dy := k.X-m.Origin.X, k.Y-m.Origin.Y
			e = max(e, abs(dx), abs(dx+l.ChunkSize), abs(dy), abs(dy+l.ChunkSize))
		}
	}
	return e
}

// Render draws the map into a width by width image, coarse levels below fine ones,
// with a legend of per-level chunk counts.
func (m Map) Render(width int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, width))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	ext := m.extent()
	scale := float64(width) / float64(2*ext)
	px := func(x, y int) image.Point {
		return image.Pt(
			int(float64(x-m.Origin.X+ext)*scale),
			int(float64(ext-(y-m.Origin.Y))*scale),
		)
	}

	for i := len(m.Layers) - 1; i >= 0; i-- {
		l := m.Layers[i]
		fill := image.NewUniform(LODColor(l.LOD))
		for _, k := range l.Keys.Keys() {
			a, b := px(k.X, k.Y+l.ChunkSize), px(k.X+l.ChunkSize, k.Y)
			r := image.Rectangle{Min: a, Max: b}.Canon()
			// Leave a one pixel border so neighbouring chunks stay distinguishable.
			if r.Dx() > 2 && r.Dy() > 2 {
				r = r.Inset(1)
			}
			draw.Draw(img, r, fill, image.Point{}, draw.Over)
		}
	}

	o := px(m.Origin.X, m.Origin.Y)
	draw.Draw(img, image.Rect(o.X-2, o.Y-2, o.X+3, o.Y+3), image.NewUniform(originMark), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	line := basicfont.Face7x13.Metrics().Height.Ceil()
	for i, l := range m.Layers {
		y := 4 + line*(i+1)
		swatch := image.Rect(6, y-line+3, 16, y+1)
		draw.Draw(img, swatch, image.NewUniform(LODColor(l.LOD)), image.Point{}, draw.Src)
		d.Dot = fixed.P(22, y)
		d.DrawString(fmt.Sprintf("LOD %d  %4d chunks  %d units", l.LOD, l.Keys.Len(), l.ChunkSize))
	}
	return img
}

// WritePNG encodes the rendered map to w.
func (m Map) WritePNG(w io.Writer, width int) error {
	if err := png.Encode(w, m.Render(width)); err != nil {
		return fmt.Errorf("debugmap: %w", err)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
