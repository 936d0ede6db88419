package app

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

func TestValueColor(t *testing.T) {
	assert.Equal(t, color.RGBA{A: 255}, ValueColor(0))
	assert.Equal(t, ValueColor(7), ValueColor(7))
	assert.NotEqual(t, ValueColor(1), ValueColor(2))
	c := ValueColor(1)
	assert.NotEqual(t, color.RGBA{A: 255}, c, "set voxels are never black")
}

func TestSliceImage(t *testing.T) {
	g := volume.NewDenseGrid(core.UVec3{X: 4, Y: 2, Z: 3})
	g.SetVoxel(1, 0, 2, 5)
	g.SetVoxel(3, 1, 2, 9)
	g.SetVoxel(0, 0, 0, 4)

	img, err := SliceImage(g, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())

	assert.Equal(t, ValueColor(5), img.RGBAAt(3, 0))
	assert.Equal(t, ValueColor(5), img.RGBAAt(5, 2))
	assert.Equal(t, ValueColor(9), img.RGBAAt(10, 4))
	assert.Equal(t, ValueColor(0), img.RGBAAt(0, 0), "voxel of another slice")

	one, err := SliceImage(g, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, ValueColor(4), one.RGBAAt(0, 0))

	_, err = SliceImage(g, 3, 1)
	assert.Error(t, err)
	_, err = SliceImage(g, 0, 0)
	assert.Error(t, err)
}

func TestWritePNG(t *testing.T) {
	g := volume.NewDenseGrid(core.Splat(4))
	volume.Sphere(g, core.Splat(2).Vec3(), 2, 3)
	img, err := SliceImage(g, 2, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, img))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	r, gr, b, a := decoded.At(4, 4).RGBA()
	want := ValueColor(3)
	assert.Equal(t, []uint32{uint32(want.R) * 0x101, uint32(want.G) * 0x101, uint32(want.B) * 0x101, 0xffff}, []uint32{r, gr, b, a})
}
