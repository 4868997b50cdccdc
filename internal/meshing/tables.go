package meshing

import "sort"

// Marching cubes tables.
//
// Corner i sits at (i&1, i>>1&1, i>>2&1). Case bit i is set when corner i is solid.
// Edge e runs along axis e/4 from edgeCorners[e][0] (the corner with that axis bit
// clear) to edgeCorners[e][1].
//
// Triangulations are traced from face segments: on every face each run of solid
// corners is cut off by one segment, so neighbouring cells that share a face always
// agree on how an ambiguous face is split and the surface stays watertight. Segments
// are directed so that each traced loop winds counterclockwise seen from empty space.

const (
	numCorners = 8
	numEdges   = 12
	numCases   = 256

	// maxTrianglesPerCell bounds a loop fan over at most 12 crossed edges.
	maxTrianglesPerCell = 10
	maxIndicesPerCell   = maxTrianglesPerCell * 3
)

var (
	edgeCorners [numEdges][2]uint8
	edgeAxis    [numEdges]uint8

	// caseTriangles lists each case's triangles as triples of edge indices.
	caseTriangles [numCases][][3]uint8

	// caseEdges is the bitmask of crossed edges per case.
	caseEdges [numCases]uint16
)

// faces lists each cube face counterclockwise seen from outside the cube.
var faces = [6][4]uint8{
	{0, 4, 6, 2}, // -x
	{1, 3, 7, 5}, // +x
	{0, 1, 5, 4}, // -y
	{2, 6, 7, 3}, // +y
	{0, 2, 3, 1}, // -z
	{4, 5, 7, 6}, // +z
}

func init() {
	buildEdges()
	for c := range numCases {
		caseTriangles[c], caseEdges[c] = triangulate(uint8(c))
	}
}

func buildEdges() {
	starts := [3][4]uint8{
		{0, 2, 4, 6},
		{0, 1, 4, 5},
		{0, 1, 2, 3},
	}
	for axis, s := range starts {
		for j, a := range s {
			e := axis*4 + j
			edgeCorners[e] = [2]uint8{a, a | 1<<axis}
			edgeAxis[e] = uint8(axis)
		}
	}
}

// edgeBetween returns the edge joining two adjacent corners.
func edgeBetween(a, b uint8) int {
	if a > b {
		a, b = b, a
	}
	for e, c := range edgeCorners {
		if c[0] == a && c[1] == b {
			return e
		}
	}
	panic("meshing: corners are not adjacent")
}

func solid(c uint8, corner uint8) bool { return c&(1<<corner) != 0 }

// triangulate traces the closed loops of case c and fans each into triangles.
func triangulate(c uint8) ([][3]uint8, uint16) {
	if c == 0 || c == 0xFF {
		return nil, 0
	}

	// next maps each crossed edge to the following edge of its loop.
	next := make(map[int]int, numEdges)
	var crossed uint16
	for _, f := range faces {
		var enters, exits []int
		for i := range 4 {
			a, b := f[i], f[(i+1)%4]
			switch {
			case !solid(c, a) && solid(c, b):
				enters = append(enters, i)
			case solid(c, a) && !solid(c, b):
				exits = append(exits, i)
			}
		}
		// Crossings alternate around the face, so each solid run starts at an enter
		// and ends at the first exit after it.
		for _, ei := range enters {
			xi := -1
			for step := 1; step <= 4; step++ {
				j := (ei + step) % 4
				if contains(exits, j) {
					xi = j
					break
				}
			}
			in := edgeBetween(f[ei], f[(ei+1)%4])
			out := edgeBetween(f[xi], f[(xi+1)%4])
			next[in] = out
			crossed |= 1<<in | 1<<out
		}
	}

	keys := make([]int, 0, len(next))
	for e := range next {
		keys = append(keys, e)
	}
	sort.Ints(keys)

	var tris [][3]uint8
	seen := uint16(0)
	for _, start := range keys {
		if seen&(1<<start) != 0 {
			continue
		}
		var loop []uint8
		for e := start; seen&(1<<e) == 0; e = next[e] {
			seen |= 1 << e
			loop = append(loop, uint8(e))
		}
		loop = rotateToApex(loop)
		for i := 1; i+1 < len(loop); i++ {
			tris = append(tris, [3]uint8{loop[0], loop[i], loop[i+1]})
		}
	}
	return tris, crossed
}

// rotateToApex starts the loop at a vertex whose fan diagonals all cross the cell
// interior. A diagonal between two edges of one face would lie in that face and overlap
// the neighbouring cell. Loops with no such vertex keep their order.
func rotateToApex(loop []uint8) []uint8 {
	n := len(loop)
	if n <= 3 {
		return loop
	}
	for r := range n {
		ok := true
		for i := 2; i < n-1 && ok; i++ {
			ok = !shareFace(loop[r], loop[(r+i)%n])
		}
		if ok {
			return append(loop[r:len(loop):len(loop)], loop[:r]...)
		}
	}
	return loop
}

func shareFace(a, b uint8) bool {
	for _, f := range faces {
		if onFace(f, a) && onFace(f, b) {
			return true
		}
	}
	return false
}

func onFace(f [4]uint8, e uint8) bool {
	in := 0
	for _, c := range f {
		if c == edgeCorners[e][0] || c == edgeCorners[e][1] {
			in++
		}
	}
	return in == 2
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ownedAxisCrossed reports whether the minimum-corner edge along axis crosses the
// surface in case c.
func ownedAxisCrossed(c uint8, axis int) bool {
	return solid(c, 0) != solid(c, uint8(1<<axis))
}
