package builder

import (
	"fmt"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

// Atlas is the dense voxel image every chunk region lives in: one u32 per
// voxel, x-fastest.
type Atlas struct {
	dev gpu.Device
	dim core.UVec3
	buf gpu.Buffer
}

func NewAtlas(dev gpu.Device, dim core.UVec3) (*Atlas, error) {
	if dim.AnyZero() {
		return nil, fmt.Errorf("atlas %s: %w", dim, ErrInvalidDim)
	}
	buf, err := dev.CreateBuffer("atlas", dim.Volume()*4, gpu.UsageScratch)
	if err != nil {
		return nil, fmt.Errorf("failed to create atlas buffer: %w", err)
	}
	return &Atlas{dev: dev, dim: dim, buf: buf}, nil
}

func (a *Atlas) Dim() core.UVec3    { return a.dim }
func (a *Atlas) Buffer() gpu.Buffer { return a.buf }

func (a *Atlas) checkRegion(offset, dim core.UVec3) error {
	if dim.AnyZero() {
		return fmt.Errorf("region %s: %w", dim, ErrInvalidDim)
	}
	if !offset.Add(dim).FitsIn(a.dim) {
		return fmt.Errorf("region %s+%s in atlas %s: %w", offset, dim, a.dim, ErrOutOfBounds)
	}
	return nil
}

// WriteGrid uploads g at offset, one x-row per write.
func (a *Atlas) WriteGrid(offset core.UVec3, g *volume.DenseGrid) error {
	if err := a.checkRegion(offset, g.Dim); err != nil {
		return err
	}
	for z := uint32(0); z < g.Dim.Z; z++ {
		for y := uint32(0); y < g.Dim.Y; y++ {
			dst := core.UVec3{X: offset.X, Y: offset.Y + y, Z: offset.Z + z}.Index(a.dim)
			if err := a.dev.WriteBuffer(a.buf, dst*4, core.U32sToBytes(g.Row(y, z))); err != nil {
				return fmt.Errorf("failed to write atlas row: %w", err)
			}
		}
	}
	return nil
}

// ReadGrid downloads the region at offset.
func (a *Atlas) ReadGrid(offset, dim core.UVec3) (*volume.DenseGrid, error) {
	if err := a.checkRegion(offset, dim); err != nil {
		return nil, err
	}
	g := volume.NewDenseGrid(dim)
	for z := uint32(0); z < dim.Z; z++ {
		for y := uint32(0); y < dim.Y; y++ {
			src := core.UVec3{X: offset.X, Y: offset.Y + y, Z: offset.Z + z}.Index(a.dim)
			raw, err := a.dev.ReadBuffer(a.buf, src*4, uint64(dim.X)*4)
			if err != nil {
				return nil, fmt.Errorf("failed to read atlas row: %w", err)
			}
			copy(g.Row(y, z), core.BytesToU32s(raw))
		}
	}
	return g, nil
}

// Clear zeroes a region.
func (a *Atlas) Clear(offset, dim core.UVec3) error {
	return a.WriteGrid(offset, volume.NewDenseGrid(dim))
}
