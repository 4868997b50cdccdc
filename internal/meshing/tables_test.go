package meshing

import "testing"

func TestTrivialCasesHaveNoTriangles(t *testing.T) {
	for _, c := range []int{0x00, 0xFF} {
		if len(caseTriangles[c]) != 0 || caseEdges[c] != 0 {
			t.Fatalf("case %#x: %d triangles, edges %#x", c, len(caseTriangles[c]), caseEdges[c])
		}
	}
}

func TestEdgesJoinAdjacentCorners(t *testing.T) {
	for e, c := range edgeCorners {
		diff := c[0] ^ c[1]
		if diff != 1<<edgeAxis[e] {
			t.Fatalf("edge %d joins corners %d and %d, axis %d", e, c[0], c[1], edgeAxis[e])
		}
		if c[0]&diff != 0 {
			t.Fatalf("edge %d does not start at the lower corner", e)
		}
	}
}

func TestEveryCrossedEdgeAppearsInTriangles(t *testing.T) {
	for c := range numCases {
		var want uint16
		for e, ec := range edgeCorners {
			if solid(uint8(c), ec[0]) != solid(uint8(c), ec[1]) {
				want |= 1 << e
			}
		}
		if caseEdges[c] != want {
			t.Fatalf("case %#x: traced edges %012b, want %012b", c, caseEdges[c], want)
		}
		var used uint16
		for _, tri := range caseTriangles[c] {
			for _, e := range tri {
				used |= 1 << e
			}
		}
		if used != want {
			t.Fatalf("case %#x: triangles use edges %012b, want %012b", c, used, want)
		}
	}
}

func TestTriangleBudget(t *testing.T) {
	for c := range numCases {
		if n := len(caseTriangles[c]); n > maxTrianglesPerCell {
			t.Fatalf("case %#x has %d triangles, budget %d", c, n, maxTrianglesPerCell)
		}
		for _, tri := range caseTriangles[c] {
			if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
				t.Fatalf("case %#x has degenerate triangle %v", c, tri)
			}
		}
	}
}

// Within a case every triangle edge between two cube edges on the same face is a loop
// boundary and appears once; every other triangle edge is a fan diagonal and appears
// once in each direction.
func TestCaseSurfacesAreConsistentlyWound(t *testing.T) {
	for c := range numCases {
		directed := make(map[[2]uint8]int)
		for _, tri := range caseTriangles[c] {
			for k := range 3 {
				directed[[2]uint8{tri[k], tri[(k+1)%3]}]++
			}
		}
		for e, n := range directed {
			if n != 1 {
				t.Fatalf("case %#x: directed edge %v used %d times", c, e, n)
			}
		}
	}
}

func TestSingleCornerWindsTowardEmpty(t *testing.T) {
	// Corner 0 solid: one triangle over edges 0, 4, 8. Seen from the empty interior
	// (+x+y+z of the corner) the vertices must run counterclockwise.
	tris := caseTriangles[0x01]
	if len(tris) != 1 {
		t.Fatalf("case 0x01 has %d triangles", len(tris))
	}
	pos := func(e uint8) [3]float64 {
		var p [3]float64
		p[edgeAxis[e]] = 0.5
		return p
	}
	a, b, c := pos(tris[0][0]), pos(tris[0][1]), pos(tris[0][2])
	u := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := [3]float64{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := [3]float64{u[1]*v[2] - u[2]*v[1], u[2]*v[0] - u[0]*v[2], u[0]*v[1] - u[1]*v[0]}
	if n[0]+n[1]+n[2] <= 0 {
		t.Fatalf("case 0x01 normal %v points into the solid corner", n)
	}
}

func TestCellMaskPacking(t *testing.T) {
	w := packCell(0xA5, 123456)
	if cellCase(w) != 0xA5 || cellOffset(w) != 123456 {
		t.Fatalf("packCell round trip: case %#x offset %d", cellCase(w), cellOffset(w))
	}
	if cellOffset(packCell(0x01, maxOffset)) != maxOffset {
		t.Fatal("max offset truncated")
	}
}

func TestOwnedVerticesRespectChunkEdge(t *testing.T) {
	l := cellLayout{size: 4}
	// Corner 0 solid only: all three minimum-corner edges cross.
	if n := l.ownedVertices(0x01, 1, 1, 1); n != 3 {
		t.Fatalf("interior cell owns %d vertices, want 3", n)
	}
	// On the +x boundary layer the x edge leaves the chunk.
	if n := l.ownedVertices(0x01, 4, 1, 1); n != 2 {
		t.Fatalf("+x boundary cell owns %d vertices, want 2", n)
	}
	if n := l.ownedVertices(0x01, 4, 4, 4); n != 0 {
		t.Fatalf("corner boundary cell owns %d vertices, want 0", n)
	}
	if got := l.ownedSlot(0x01, 1, 1, 1, 2); got != 2 {
		t.Fatalf("z edge slot = %d, want 2", got)
	}
	if l.cellIndices(0x01, 4, 0, 0) != 0 {
		t.Fatal("boundary layer cell emitted indices")
	}
}
