package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// UVec3 is an unsigned 3-D extent or position in voxel units.
type UVec3 struct {
	X, Y, Z uint32
}

func Splat(v uint32) UVec3 { return UVec3{v, v, v} }

func (v UVec3) Add(o UVec3) UVec3 { return UVec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v UVec3) Mul(s uint32) UVec3 { return UVec3{v.X * s, v.Y * s, v.Z * s} }

func (v UVec3) MulVec(o UVec3) UVec3 { return UVec3{v.X * o.X, v.Y * o.Y, v.Z * o.Z} }

func (v UVec3) Volume() uint64 { return uint64(v.X) * uint64(v.Y) * uint64(v.Z) }

func (v UVec3) AnyZero() bool { return v.X == 0 || v.Y == 0 || v.Z == 0 }

// FitsIn reports whether v is no larger than bound on every axis.
func (v UVec3) FitsIn(bound UVec3) bool {
	return v.X <= bound.X && v.Y <= bound.Y && v.Z <= bound.Z
}

func (v UVec3) IsCube() bool { return v.X == v.Y && v.Y == v.Z }

// Index flattens v inside a grid of extent dim, x fastest.
func (v UVec3) Index(dim UVec3) uint64 {
	return uint64(v.X) + uint64(v.Y)*uint64(dim.X) + uint64(v.Z)*uint64(dim.X)*uint64(dim.Y)
}

func (v UVec3) Array() [3]uint32 { return [3]uint32{v.X, v.Y, v.Z} }

func (v UVec3) Vec3() mgl32.Vec3 { return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)} }

func (v UVec3) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Less orders positions z-major, then y, then x.
func (v UVec3) Less(o UVec3) bool {
	if v.Z != o.Z {
		return v.Z < o.Z
	}
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.X < o.X
}
