package builder

import (
	"errors"
	"fmt"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/layout"
)

const defaultPrealloc = 10 * 1024 * 1024

type OctreeOptions struct {
	// PoolBytes sizes octree_data, the pool every chunk is copied into.
	PoolBytes uint64
	// PreallocBytes is reserved per chunk before its size is known.
	PreallocBytes uint64
	// ScratchBytes sizes the single build buffer.
	ScratchBytes uint64
	Strategy     alloc.Kind
}

func DefaultOctreeOptions() OctreeOptions {
	return OctreeOptions{
		PoolBytes:     64 * 1024 * 1024,
		PreallocBytes: defaultPrealloc,
		ScratchBytes:  defaultPrealloc,
		Strategy:      alloc.KindFirstFit,
	}
}

// OctreeBuilder builds 8-ary trees from fragment lists into a scratch
// buffer and copies confirmed results into the shared octree pool.
type OctreeBuilder struct {
	dev    gpu.Device
	frags  *FragListBuilder
	opts   OctreeOptions
	logger core.Logger

	pool   alloc.Strategy
	chunks *ChunkTable
	data   gpu.Buffer

	info          gpu.Buffer
	state         gpu.Buffer
	allocIndirect dispatchArgs
	voxelIndirect dispatchArgs
	scratch       gpu.Buffer
	result        gpu.Buffer
	ps            *pipelineSet
	infoData      *layout.DataBuilder
	cache         *gpu.CommandCache
}

// NewOctreeBuilder panics if the pool strategy is unknown or a kernel
// cannot be created.
func NewOctreeBuilder(dev gpu.Device, frags *FragListBuilder, opts OctreeOptions, logger core.Logger) *OctreeBuilder {
	pool, err := alloc.New(opts.Strategy, core.AlignUp(opts.PoolBytes, 4))
	if err != nil {
		panic(err)
	}
	b := &OctreeBuilder{
		dev:           dev,
		frags:         frags,
		opts:          opts,
		logger:        core.Named(logger, "octree"),
		pool:          pool,
		chunks:        NewChunkTable(),
		data:          storage(dev, "octree_data", opts.PoolBytes),
		info:          uniform(dev, "octree_build_info", "OctreeBuildInfo"),
		state:         storage(dev, "octree_build_state", structOf("OctreeBuildState").Size),
		allocIndirect: newDispatchArgs(dev, "alloc_number_indirect"),
		voxelIndirect: newDispatchArgs(dev, "voxel_count_indirect"),
		scratch:       storage(dev, "octree_data_single", opts.ScratchBytes),
		result:        storage(dev, "octree_build_result", structOf("OctreeBuildResult").Size),
		infoData:      layout.NewDataBuilder(structOf("OctreeBuildInfo")),
		cache:         gpu.NewCommandCache(),
	}
	b.ps = newPipelineSet(dev, kernels.Octree,
		b.info, b.state, b.allocIndirect.staging, b.voxelIndirect.staging, frags.Fragments(), b.scratch, b.result)
	return b
}

func (b *OctreeBuilder) Pool() alloc.Strategy { return b.pool }
func (b *OctreeBuilder) Chunks() *ChunkTable  { return b.chunks }
func (b *OctreeBuilder) Data() gpu.Buffer     { return b.data }

// CheckOctreeDim accepts cubes whose side is a power of two, at least 2.
func CheckOctreeDim(dim core.UVec3) error {
	if !dim.IsCube() || dim.X < 2 || !core.IsPowerOfTwo(dim.X) {
		return fmt.Errorf("octree dimension %s must be a cube with a power-of-two side >= 2: %w", dim, ErrInvalidDim)
	}
	return nil
}

// OctreeLevel returns k for a side of 2^k.
func OctreeLevel(dim core.UVec3) (uint32, error) {
	if err := CheckOctreeDim(dim); err != nil {
		return 0, err
	}
	return core.Log2(dim.X), nil
}

// capacity is the usable scratch in u32 entries, tile aligned.
func (b *OctreeBuilder) capacity() uint32 {
	words := min(b.scratch.Size(), core.AlignUp(b.opts.PreallocBytes, 4)) / 4
	words = min(words, ptrLimit)
	return uint32(words) / kernels.OctreeTile * kernels.OctreeTile
}

const ptrLimit = 1 << 31

func (b *OctreeBuilder) record(levels uint32) (*gpu.CommandList, error) {
	r := gpu.NewRecorder(fmt.Sprintf("octree/levels=%d", levels))
	b.ps.bind(r, "init_buffers").DispatchGroups(one).Barrier(gpu.BarrierAll)
	publish(r, b.allocIndirect, b.voxelIndirect)
	for i := uint32(0); i < levels; i++ {
		b.ps.bind(r, "init_node").DispatchIndirect(b.allocIndirect.indirect, 0).ShaderBarrier()
		b.ps.bind(r, "tag_node").DispatchIndirect(b.voxelIndirect.indirect, 0)
		if i == levels-1 {
			break
		}
		r.ShaderBarrier()
		b.ps.bind(r, "alloc_node").DispatchIndirect(b.allocIndirect.indirect, 0).ShaderBarrier()
		b.ps.bind(r, "modify_args").DispatchGroups(one).Barrier(gpu.BarrierAll)
		publish(r, b.allocIndirect)
	}
	return r.Finish()
}

// Build runs the level passes over fragLen fragments into the scratch
// buffer and returns the tree size in u32 entries.
func (b *OctreeBuilder) Build(dim core.UVec3, fragLen uint32) (uint32, error) {
	levels, err := OctreeLevel(dim)
	if err != nil {
		return 0, err
	}
	list, hit, err := b.cache.GetOrRecord(levels, func() (*gpu.CommandList, error) { return b.record(levels) })
	if err != nil {
		return 0, err
	}
	b.logger.Debugf("levels=%d cached=%v dispatches=%d", levels, hit, list.Dispatches())

	b.infoData.Reset()
	b.infoData.MustSetField("frag_list_len", fragLen).
		MustSetField("voxel_dim", dim.X).
		MustSetField("max_level", levels).
		MustSetField("capacity", b.capacity())
	if err := b.dev.WriteBuffer(b.info, 0, b.infoData.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to write octree build info: %w", err)
	}
	if err := gpu.SubmitAndWait(b.dev, list); err != nil {
		return 0, err
	}
	res, err := readStruct(b.dev, b.result, "OctreeBuildResult")
	if err != nil {
		return 0, err
	}
	if mustU32(res, "overflow") != 0 {
		return 0, fmt.Errorf("octree of %d fragments needs more than %d entries: %w", fragLen, b.capacity(), ErrScratchOverflow)
	}
	return mustU32(res, "size_u32"), nil
}

// OctreeDataSizeInBytes is the size of the most recent build.
func (b *OctreeBuilder) OctreeDataSizeInBytes() (uint64, error) {
	res, err := readStruct(b.dev, b.result, "OctreeBuildResult")
	if err != nil {
		return 0, err
	}
	return uint64(mustU32(res, "size_u32")) * 4, nil
}

// BuildAndAlloc builds the chunk at key from the atlas region at offset
// and places it in the pool. A region without fragments, or a tree of
// size zero, yields (nil, nil) and leaves no allocation behind.
func (b *OctreeBuilder) BuildAndAlloc(key, offset, dim core.UVec3) (*Placement, error) {
	levels, err := OctreeLevel(dim)
	if err != nil {
		return nil, err
	}
	n, err := b.frags.Build(offset, dim, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build fragment list: %w", err)
	}
	if n == 0 {
		b.logger.Debugf("chunk %s: empty, skipped", key)
		return nil, b.chunks.release(key, b.pool, nil)
	}

	if err := b.chunks.release(key, b.pool, nil); err != nil {
		return nil, err
	}
	a, err := b.pool.Allocate(core.AlignUp(b.opts.PreallocBytes, 4))
	if err != nil {
		return nil, fmt.Errorf("failed to pre-allocate octree for chunk %s: %w", key, err)
	}

	sizeU32, err := b.Build(dim, n)
	if err != nil {
		return nil, errors.Join(err, b.pool.Deallocate(a.ID))
	}
	bytes := uint64(sizeU32) * 4
	if bytes == 0 {
		return nil, b.pool.Deallocate(a.ID)
	}
	resized, err := b.pool.Resize(a.ID, bytes)
	if err != nil {
		return nil, errors.Join(err, b.pool.Deallocate(a.ID))
	}
	a = resized

	copyOut, err := gpu.NewRecorder("octree/copy").CopyBuffer(b.scratch, 0, b.data, a.Offset, bytes).Finish()
	if err != nil {
		return nil, errors.Join(err, b.pool.Deallocate(a.ID))
	}
	if err := gpu.SubmitAndWait(b.dev, copyOut); err != nil {
		return nil, errors.Join(err, b.pool.Deallocate(a.ID))
	}

	p := Placement{
		Key:        key,
		NodeID:     a.ID,
		NodeOffset: uint32(a.Offset / 4),
		NodeLen:    sizeU32,
		Levels:     levels,
		Voxels:     n,
	}
	b.chunks.Set(p)
	b.logger.Debugf("chunk %s: %d fragments, %d entries at %d", key, n, sizeU32, p.NodeOffset)
	return &p, nil
}

// Remove frees the chunk at key, if any.
func (b *OctreeBuilder) Remove(key core.UVec3) error {
	return b.chunks.release(key, b.pool, nil)
}

// ReadChunk downloads a placed chunk's entries.
func (b *OctreeBuilder) ReadChunk(key core.UVec3) ([]uint32, error) {
	p, ok := b.chunks.Get(key)
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", key, alloc.ErrIDNotFound)
	}
	raw, err := b.dev.ReadBuffer(b.data, uint64(p.NodeOffset)*4, uint64(p.NodeLen)*4)
	if err != nil {
		return nil, err
	}
	return core.BytesToU32s(raw), nil
}
