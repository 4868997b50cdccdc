package meshing

// A cell mask word packs the marching cubes case in bits 0-7 and, once allocated, the
// cell's first output vertex in bits 8-31.

const (
	caseBits   = 8
	caseMask   = 1<<caseBits - 1
	maxOffset  = 1<<(32-caseBits) - 1
	trivialLow = 0x00
	trivialTop = 0xFF
)

func packCell(c uint8, offset uint32) uint32 { return uint32(c) | offset<<caseBits }

func cellCase(w uint32) uint8    { return uint8(w & caseMask) }
func cellOffset(w uint32) uint32 { return w >> caseBits }

func trivial(c uint8) bool { return c == trivialLow || c == trivialTop }

// grid is a cube of n samples per axis stored x fastest.
type grid int

func (g grid) len() int             { return int(g) * int(g) * int(g) }
func (g grid) index(x, y, z int) int { return x + int(g)*(y+int(g)*z) }

// cellLayout describes the cell grid of one chunk. Cells 0..size on each axis exist and
// own vertices; only cells below size emit triangles.
type cellLayout struct {
	size int
}

func (l cellLayout) cells() grid   { return grid(l.size + 1) }
func (l cellLayout) samples() grid { return grid(l.size + 4) }

// ownsAxis reports whether cell (x,y,z) owns an in-chunk edge along axis. The edge must
// end inside the chunk, so the cell coordinate on that axis must be below size.
func (l cellLayout) ownsAxis(x, y, z, axis int) bool {
	c := [3]int{x, y, z}
	return c[axis] < l.size
}

// emitsTriangles reports whether cell (x,y,z) lies inside the chunk.
func (l cellLayout) emitsTriangles(x, y, z int) bool {
	return x < l.size && y < l.size && z < l.size
}

// ownedVertices counts the crossed edges owned by a cell of case c.
func (l cellLayout) ownedVertices(c uint8, x, y, z int) uint32 {
	var n uint32
	for axis := range 3 {
		if l.ownsAxis(x, y, z, axis) && ownedAxisCrossed(c, axis) {
			n++
		}
	}
	return n
}

// ownedSlot returns the position of the axis edge among a cell's owned vertices.
func (l cellLayout) ownedSlot(c uint8, x, y, z, axis int) uint32 {
	var n uint32
	for a := range axis {
		if l.ownsAxis(x, y, z, a) && ownedAxisCrossed(c, a) {
			n++
		}
	}
	return n
}

// cellIndices counts the triangle indices emitted by a cell of case c.
func (l cellLayout) cellIndices(c uint8, x, y, z int) uint32 {
	if !l.emitsTriangles(x, y, z) {
		return 0
	}
	return uint32(len(caseTriangles[c]) * 3)
}
