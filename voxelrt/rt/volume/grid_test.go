package volume

import (
	"testing"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestDenseGrid_SetAndRow(t *testing.T) {
	g := NewDenseGrid(core.UVec3{X: 4, Y: 3, Z: 2})
	g.SetVoxel(1, 2, 1, 7)
	g.SetVoxel(-1, 0, 0, 9)
	g.SetVoxel(4, 0, 0, 9)

	assert.Equal(t, uint32(7), g.Voxel(1, 2, 1))
	assert.Equal(t, uint32(0), g.Voxel(9, 9, 9))
	assert.Equal(t, []uint32{0, 7, 0, 0}, g.Row(2, 1))
	assert.Equal(t, 1, g.Count())
	assert.Len(t, g.Slice(1), 12)
}

func TestSphere_MatchesCentreTest(t *testing.T) {
	g := NewDenseGrid(core.Splat(16))
	Sphere(g, mgl32.Vec3{8, 8, 8}, 8, 3)

	assert.Equal(t, uint32(3), g.Voxel(8, 8, 8))
	assert.Equal(t, uint32(3), g.Voxel(0, 7, 7))
	assert.Equal(t, uint32(0), g.Voxel(0, 0, 0), "corner lies outside")
	assert.Greater(t, g.Count(), 1800)
	assert.Less(t, g.Count(), 4096)
}

func TestCubeAndPoint(t *testing.T) {
	g := NewDenseGrid(core.Splat(8))
	Cube(g, mgl32.Vec3{1, 1, 1}, mgl32.Vec3{2, 2, 2}, 1)
	assert.Equal(t, 8, g.Count())

	Point(g, 7, 7, 7, 2)
	assert.Equal(t, uint32(2), g.Voxel(7, 7, 7))
	assert.Equal(t, 9, g.Count())
}

func TestCone_Degenerate(t *testing.T) {
	g := NewDenseGrid(core.Splat(8))
	Cone(g, mgl32.Vec3{4, 4, 4}, mgl32.Vec3{4, 4, 4}, 3, 1)
	assert.Equal(t, 0, g.Count())

	Cone(g, mgl32.Vec3{4, 0, 4}, mgl32.Vec3{4, 6, 4}, 3, 1)
	assert.Equal(t, uint32(1), g.Voxel(4, 0, 4))
	assert.Equal(t, uint32(0), g.Voxel(0, 5, 0))
}
