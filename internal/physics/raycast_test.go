package physics

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func cookQuad(t *testing.T, z float32) *Shape {
	t.Helper()
	s, err := MeshCooker{}.Cook(context.Background(), quad(z))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRaycast(t *testing.T) {
	s := cookQuad(t, 5)

	// Straight down onto the quad.
	r := s.Raycast(mgl32.Vec3{3, 4, 20}, mgl32.Vec3{0, 0, -1}, MinReachDistance, 100)
	if !r.Hit {
		t.Fatal("expected hit, got miss")
	}
	if r.Distance < 14.99 || r.Distance > 15.01 {
		t.Errorf("distance %f, want 15", r.Distance)
	}
	if !r.Position.ApproxEqualThreshold(mgl32.Vec3{3, 4, 5}, 1e-4) {
		t.Errorf("hit at %v", r.Position)
	}
	if !r.Normal.ApproxEqualThreshold(mgl32.Vec3{0, 0, 1}, 1e-4) {
		t.Errorf("normal %v, want facing the ray", r.Normal)
	}

	// From below the normal flips to face the ray.
	r = s.Raycast(mgl32.Vec3{3, 4, 0}, mgl32.Vec3{0, 0, 1}, MinReachDistance, 100)
	if !r.Hit || r.Normal[2] >= 0 {
		t.Errorf("hit from below: %+v", r)
	}

	// Short of the surface.
	if r := s.Raycast(mgl32.Vec3{3, 4, 20}, mgl32.Vec3{0, 0, -1}, MinReachDistance, 10); r.Hit {
		t.Errorf("hit beyond maxDist at %v", r.Position)
	}

	// Outside the quad.
	if r := s.Raycast(mgl32.Vec3{30, 4, 20}, mgl32.Vec3{0, 0, -1}, MinReachDistance, 100); r.Hit {
		t.Errorf("hit outside the mesh at %v", r.Position)
	}

	// Diagonal ray.
	dir := mgl32.Vec3{1, 1, -1}.Normalize()
	r = s.Raycast(mgl32.Vec3{0, 1, 10}, dir, MinReachDistance, 100)
	if !r.Hit || !r.Position.ApproxEqualThreshold(mgl32.Vec3{5, 6, 5}, 1e-3) {
		t.Errorf("diagonal hit %+v, want (5,6,5)", r)
	}
}

func TestRaycastNilShape(t *testing.T) {
	var s *Shape
	if r := s.Raycast(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, 0, 10); r.Hit {
		t.Fatal("nil shape reported a hit")
	}
}

func BenchmarkRaycast(b *testing.B) {
	s, _ := MeshCooker{}.Cook(context.Background(), quad(5))
	start := mgl32.Vec3{3, 4, 20}
	dir := mgl32.Vec3{0, 0, -1}
	for b.Loop() {
		s.Raycast(start, dir, MinReachDistance, 100)
	}
}
