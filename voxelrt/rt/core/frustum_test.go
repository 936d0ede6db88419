package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestFrustumCulling(t *testing.T) {
	// camera at origin looking down -Z, 90 deg FOV, near 1, far 100
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 0, -1},
		mgl32.Vec3{0, 1, 0},
	)
	f := FrustumFromMatrix(proj.Mul4(view))

	tests := []struct {
		name     string
		aabbMin  mgl32.Vec3
		aabbMax  mgl32.Vec3
		expected bool
	}{
		{"inside", mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5}, true},
		{"left", mgl32.Vec3{-20, -1, -10}, mgl32.Vec3{-15, 1, -5}, false},
		{"right", mgl32.Vec3{15, -1, -10}, mgl32.Vec3{20, 1, -5}, false},
		{"above", mgl32.Vec3{-1, 15, -10}, mgl32.Vec3{1, 20, -5}, false},
		{"behind", mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5}, false},
		{"far", mgl32.Vec3{-1, -1, -200}, mgl32.Vec3{1, 1, -150}, false},
		// left edge is at x = -10 for z = -10
		{"crossing left plane", mgl32.Vec3{-15, -1, -10}, mgl32.Vec3{-5, 1, -5}, true},
		{"encompassing", mgl32.Vec3{-1000, -1000, -1000}, mgl32.Vec3{1000, 1000, 1000}, true},
	}

	for _, tc := range tests {
		if got := f.Intersects(tc.aabbMin, tc.aabbMax); got != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
			center := tc.aabbMin.Add(tc.aabbMax).Mul(0.5)
			for i, p := range f {
				t.Logf("  P%d: %v, Dist(Center)=%f", i, p, p.Dot(center.Vec4(1.0)))
			}
		}
	}
}

func TestFrustumOrtho(t *testing.T) {
	proj := mgl32.Ortho(-10, 10, -10, 10, 0, 20)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := FrustumFromMatrix(proj.Mul4(view))

	if !f.Intersects(mgl32.Vec3{-1, -1, -6}, mgl32.Vec3{1, 1, -4}) {
		t.Error("box at z=-5 should be inside")
	}
	// far = 20 puts the far plane at z = -20
	if f.Intersects(mgl32.Vec3{-1, -1, -26}, mgl32.Vec3{1, 1, -24}) {
		t.Error("box at z=-25 should be outside")
	}
}
