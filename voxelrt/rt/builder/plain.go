package builder

import (
	"fmt"
	"sync"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

// Sphere describes the procedural content of a plain chunk, in
// region-local voxel units.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
	Value  uint32
}

// FullSphere is the sphere inscribed in a cubic region of side dim.
func FullSphere(dim uint32, value uint32) Sphere {
	h := float32(dim) / 2
	return Sphere{Center: mgl32.Vec3{h, h, h}, Radius: h, Value: value}
}

// PlainWriter fills atlas regions on the device.
type PlainWriter struct {
	dev    gpu.Device
	atlas  *Atlas
	logger core.Logger

	info     gpu.Buffer
	indirect dispatchArgs
	ps       *pipelineSet
	data     *layout.DataBuilder

	once sync.Once
	list *gpu.CommandList
	err  error
}

func NewPlainWriter(dev gpu.Device, atlas *Atlas, logger core.Logger) *PlainWriter {
	w := &PlainWriter{
		dev:      dev,
		atlas:    atlas,
		logger:   core.Named(logger, "plain"),
		info:     uniform(dev, "region_info", "RegionInfo"),
		indirect: newDispatchArgs(dev, "region_indirect"),
		data:     layout.NewDataBuilder(structOf("RegionInfo")),
	}
	w.ps = newPipelineSet(dev, kernels.Plain, w.info, w.indirect.staging, atlas.Buffer())
	return w
}

func (w *PlainWriter) commands() (*gpu.CommandList, error) {
	w.once.Do(func() {
		r := gpu.NewRecorder("plain")
		w.ps.bind(r, "chunk_setup").DispatchGroups(one).Barrier(gpu.BarrierAll)
		publish(r, w.indirect)
		w.ps.bind(r, "chunk_init").DispatchIndirect(w.indirect.indirect, 0)
		w.list, w.err = r.Finish()
	})
	return w.list, w.err
}

// Write fills the region at offset with s; voxels outside the sphere are
// cleared.
func (w *PlainWriter) Write(offset, dim core.UVec3, s Sphere) error {
	if err := w.atlas.checkRegion(offset, dim); err != nil {
		return err
	}
	list, err := w.commands()
	if err != nil {
		return err
	}
	w.data.Reset()
	w.data.MustSetField("offset", offset).
		MustSetField("dim", dim).
		MustSetField("center", s.Center).
		MustSetField("radius", s.Radius).
		MustSetField("value", s.Value).
		MustSetField("atlas_dim", w.atlas.Dim())
	if err := w.dev.WriteBuffer(w.info, 0, w.data.Bytes()); err != nil {
		return fmt.Errorf("failed to write region info: %w", err)
	}
	if err := gpu.SubmitAndWait(w.dev, list); err != nil {
		return err
	}
	w.logger.Debugf("wrote region %s+%s", offset, dim)
	return nil
}
