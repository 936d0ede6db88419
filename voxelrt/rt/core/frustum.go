package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Frustum holds six planes Ax + By + Cz + D = 0 with normals pointing
// inside, ordered Left, Right, Bottom, Top, Near, Far.
type Frustum [6]mgl32.Vec4

// FrustumFromMatrix extracts the planes of a view-projection matrix with
// OpenGL-style -1..1 depth.
func FrustumFromMatrix(vp mgl32.Mat4) Frustum {
	var f Frustum
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	w := row(3)
	for axis := 0; axis < 3; axis++ {
		r := row(axis)
		f[2*axis] = w.Add(r)
		f[2*axis+1] = w.Sub(r)
	}

	for i := range f {
		p := f[i]
		length := float32(math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])))
		if length > 0 {
			f[i] = p.Mul(1.0 / length)
		}
	}
	return f
}

// Intersects reports whether the box [lo, hi] is at least partly inside.
// Boxes straddling a corner outside the frustum may be reported visible.
func (f Frustum) Intersects(lo, hi mgl32.Vec3) bool {
	for _, plane := range f {
		// the corner furthest along the normal
		var p mgl32.Vec3
		for i := 0; i < 3; i++ {
			if plane[i] > 0 {
				p[i] = hi[i]
			} else {
				p[i] = lo[i]
			}
		}
		if plane[0]*p[0]+plane[1]*p[1]+plane[2]*p[2]+plane[3] < 0 {
			return false
		}
	}
	return true
}
