package builder

import (
	"fmt"
	"sync"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
)

// maxFragDim is the widest region a packed fragment coordinate can hold.
const maxFragDim = 1 << kernels.FragmentCoordBits

// Fragment is one occupied voxel, region-relative.
type Fragment struct {
	Pos   core.UVec3
	Value uint32
}

// FragListBuilder stream-compacts an atlas region into a fragment list.
type FragListBuilder struct {
	dev      gpu.Device
	atlas    *Atlas
	logger   core.Logger
	capacity uint32

	info      gpu.Buffer
	indirect  dispatchArgs
	result    gpu.Buffer
	fragments gpu.Buffer
	ps        *pipelineSet
	data      *layout.DataBuilder

	once sync.Once
	list *gpu.CommandList
	err  error
}

// NewFragListBuilder sizes the fragment buffer for regions of up to
// maxFragments voxels.
func NewFragListBuilder(dev gpu.Device, atlas *Atlas, maxFragments uint32, logger core.Logger) *FragListBuilder {
	b := &FragListBuilder{
		dev:       dev,
		atlas:     atlas,
		logger:    core.Named(logger, "fraglist"),
		capacity:  maxFragments,
		info:      uniform(dev, "frag_list_maker_info", "FragListMakerInfo"),
		indirect:  newDispatchArgs(dev, "voxel_dim_indirect"),
		result:    storage(dev, "frag_list_build_result", structOf("FragListBuildResult").Size),
		fragments: storage(dev, "fragments", uint64(maxFragments)*kernels.FragmentWords*4),
		data:      layout.NewDataBuilder(structOf("FragListMakerInfo")),
	}
	b.ps = newPipelineSet(dev, kernels.FragList, b.info, b.indirect.staging, b.result, b.fragments, atlas.Buffer())
	return b
}

func (b *FragListBuilder) Fragments() gpu.Buffer { return b.fragments }
func (b *FragListBuilder) Capacity() uint32      { return b.capacity }

func (b *FragListBuilder) commands() (*gpu.CommandList, error) {
	b.once.Do(func() {
		r := gpu.NewRecorder("fraglist")
		b.ps.bind(r, "init_buffers").DispatchGroups(one).Barrier(gpu.BarrierAll)
		publish(r, b.indirect)
		b.ps.bind(r, "frag_list_maker").DispatchIndirect(b.indirect.indirect, 0)
		b.list, b.err = r.Finish()
	})
	return b.list, b.err
}

func (b *FragListBuilder) check(offset, dim core.UVec3, crossing bool) error {
	if dim.AnyZero() {
		return fmt.Errorf("region %s: %w", dim, ErrInvalidDim)
	}
	if dim.X > maxFragDim || dim.Y > maxFragDim || dim.Z > maxFragDim || dim.Volume() > uint64(b.capacity) {
		return fmt.Errorf("region %s with capacity %d: %w", dim, b.capacity, ErrRegionTooLarge)
	}
	if !crossing && !offset.FitsIn(b.atlas.Dim()) {
		return fmt.Errorf("region offset %s in atlas %s: %w", offset, b.atlas.Dim(), ErrOutOfBounds)
	}
	return nil
}

// Build compacts the region and returns the fragment count. With crossing
// set, atlas addressing wraps; otherwise voxels past the atlas are
// skipped. Zero is a valid result.
func (b *FragListBuilder) Build(offset, dim core.UVec3, crossing bool) (uint32, error) {
	if err := b.check(offset, dim, crossing); err != nil {
		return 0, err
	}
	list, err := b.commands()
	if err != nil {
		return 0, err
	}
	var flag uint32
	if crossing {
		flag = 1
	}
	b.data.Reset()
	b.data.MustSetField("atlas_read_offset", offset).
		MustSetField("atlas_read_dim", dim).
		MustSetField("atlas_dim", b.atlas.Dim()).
		MustSetField("is_crossing_boundary", flag)
	if err := b.dev.WriteBuffer(b.info, 0, b.data.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to write frag list info: %w", err)
	}
	if err := gpu.SubmitAndWait(b.dev, list); err != nil {
		return 0, err
	}
	res, err := readStruct(b.dev, b.result, "FragListBuildResult")
	if err != nil {
		return 0, err
	}
	n := mustU32(res, "frag_list_len")
	b.logger.Debugf("region %s+%s: %d fragments", offset, dim, n)
	return n, nil
}

// ReadFragments downloads the first n fragments, for inspection.
func (b *FragListBuilder) ReadFragments(n uint32) ([]Fragment, error) {
	if n == 0 {
		return nil, nil
	}
	if n > b.capacity {
		return nil, fmt.Errorf("%d fragments requested, capacity %d: %w", n, b.capacity, ErrRegionTooLarge)
	}
	raw, err := b.dev.ReadBuffer(b.fragments, 0, uint64(n)*kernels.FragmentWords*4)
	if err != nil {
		return nil, fmt.Errorf("failed to read fragments: %w", err)
	}
	words := core.BytesToU32s(raw)
	out := make([]Fragment, n)
	for i := range out {
		x, y, z := kernels.UnpackCoord(words[i*kernels.FragmentWords])
		out[i] = Fragment{Pos: core.UVec3{X: x, Y: y, Z: z}, Value: words[i*kernels.FragmentWords+1]}
	}
	return out, nil
}
