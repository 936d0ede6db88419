package volume

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// fillWhere visits every voxel whose integer coordinate lies in
// [floor(lo), ceil(hi)] and writes value where inside holds for the voxel
// centre.
func fillWhere(w Writer, lo, hi mgl32.Vec3, value uint32, inside func(p mgl32.Vec3) bool) {
	var minI, maxI [3]int
	for i := range 3 {
		minI[i] = int(math.Floor(float64(lo[i])))
		maxI[i] = int(math.Ceil(float64(hi[i])))
	}
	for z := minI[2]; z <= maxI[2]; z++ {
		for y := minI[1]; y <= maxI[1]; y++ {
			for x := minI[0]; x <= maxI[0]; x++ {
				if inside(mgl32.Vec3{float32(x) + 0.5, float32(y) + 0.5, float32(z) + 0.5}) {
					w.SetVoxel(x, y, z, value)
				}
			}
		}
	}
}

// Sphere fills voxels whose centre is within radius of center. This is
// the same test the plain chunk kernel applies on the device.
func Sphere(w Writer, center mgl32.Vec3, radius float32, value uint32) {
	ext := mgl32.Vec3{radius, radius, radius}
	fillWhere(w, center.Sub(ext), center.Add(ext), value, func(p mgl32.Vec3) bool {
		return p.Sub(center).Len() <= radius
	})
}

// Cube fills the integer box [floor(minB), floor(maxB)].
func Cube(w Writer, minB, maxB mgl32.Vec3, value uint32) {
	for z := int(math.Floor(float64(minB.Z()))); z <= int(math.Floor(float64(maxB.Z()))); z++ {
		for y := int(math.Floor(float64(minB.Y()))); y <= int(math.Floor(float64(maxB.Y()))); y++ {
			for x := int(math.Floor(float64(minB.X()))); x <= int(math.Floor(float64(maxB.X()))); x++ {
				w.SetVoxel(x, y, z, value)
			}
		}
	}
}

// Cone fills a cone with its base circle centred at base and apex at tip.
func Cone(w Writer, base, tip mgl32.Vec3, radius float32, value uint32) {
	axis := tip.Sub(base)
	height := axis.Len()
	if height < 1e-5 {
		return
	}
	axis = axis.Normalize()
	r := float32(math.Max(float64(radius), float64(height)))
	center := base.Add(tip).Mul(0.5)
	ext := mgl32.Vec3{r, r, r}
	fillWhere(w, center.Sub(ext), center.Add(ext), value, func(p mgl32.Vec3) bool {
		v := p.Sub(base)
		along := v.Dot(axis)
		if along < 0 || along > height {
			return false
		}
		rr := radius * (1 - along/height)
		return v.LenSqr()-along*along <= rr*rr
	})
}

func Point(w Writer, x, y, z int, value uint32) {
	w.SetVoxel(x, y, z, value)
}
