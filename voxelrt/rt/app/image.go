package app

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

// ValueColor maps a voxel value to a stable, distinguishable colour.
// Empty voxels are black.
func ValueColor(v uint32) color.RGBA {
	if v == 0 {
		return color.RGBA{A: 255}
	}
	h := v * 2654435761
	return color.RGBA{R: uint8(h>>24) | 0x40, G: uint8(h>>16) | 0x40, B: uint8(h>>8) | 0x40, A: 255}
}

// SliceImage renders the z slice of g, scaled up by an integer factor
// with nearest-neighbour sampling so voxels stay square.
func SliceImage(g *volume.DenseGrid, z uint32, scale int) (*image.RGBA, error) {
	if z >= g.Dim.Z {
		return nil, fmt.Errorf("slice %d outside depth %d", z, g.Dim.Z)
	}
	if scale < 1 {
		return nil, fmt.Errorf("scale %d must be at least 1", scale)
	}
	w, h := int(g.Dim.X), int(g.Dim.Y)
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	slice := g.Slice(z)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetRGBA(x, y, ValueColor(slice[y*w+x]))
		}
	}
	if scale == 1 {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
