package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/builder"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
	"github.com/gekko3d/voxbuild/voxelrt/rt/gpu"
	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
	"github.com/gekko3d/voxbuild/voxelrt/rt/volume"
)

type treeBuilder interface {
	BuildAndAlloc(key, offset, dim core.UVec3) (*builder.Placement, error)
	Remove(key core.UVec3) error
	Chunks() *builder.ChunkTable
}

// OpenDevice creates the backend named by cfg.
func OpenDevice(cfg Config, logger core.Logger) (gpu.Device, error) {
	switch cfg.Backend {
	case BackendWGPU:
		d, err := gpu.NewWGPUDevice(logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendSoft:
		return gpu.NewSoftDevice(kernels.Registry(), logger, gpu.SoftOptions{Workers: cfg.Workers}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Content decides what a chunk holds.
type Content func(key core.UVec3) builder.Sphere

// SphereContent fills every chunk with its inscribed sphere, valued by
// position so neighbouring chunks differ.
func SphereContent(chunkDim uint32) Content {
	return func(key core.UVec3) builder.Sphere {
		return builder.FullSphere(chunkDim, 1+key.X+key.Y*7+key.Z*49)
	}
}

// Engine streams chunks through the whole pipeline: atlas region, plain
// write, tree build, pool placement and the scene table.
type Engine struct {
	cfg      Config
	dev      gpu.Device
	logger   core.Logger
	profiler *Profiler

	mu       sync.Mutex
	atlas    *builder.Atlas
	regions  *alloc.AtlasAllocator
	regionOf map[core.UVec3]uint64
	plain    *builder.PlainWriter
	octree   *builder.OctreeBuilder
	contree  *builder.ContreeBuilder
	tree     treeBuilder
	scene    *builder.SceneAccel
}

func NewEngine(cfg Config, dev gpu.Device, logger core.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = core.OrNop(logger)
	atlas, err := builder.NewAtlas(dev, cfg.Atlas())
	if err != nil {
		return nil, err
	}
	scene, err := builder.NewSceneAccel(dev, cfg.Scene(), cfg.ChunkDim, logger)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		dev:      dev,
		logger:   core.Named(logger, "engine"),
		profiler: NewProfiler(),
		atlas:    atlas,
		regions:  alloc.NewAtlasAllocator(cfg.Atlas()),
		regionOf: make(map[core.UVec3]uint64),
		plain:    builder.NewPlainWriter(dev, atlas, logger),
		scene:    scene,
	}
	switch cfg.Tree {
	case TreeOctree:
		frags := builder.NewFragListBuilder(dev, atlas, uint32(cfg.Chunk().Volume()), logger)
		e.octree = builder.NewOctreeBuilder(dev, frags, cfg.OctreeOptions(), logger)
		e.tree = e.octree
	case TreeContree:
		e.contree = builder.NewContreeBuilder(dev, atlas, cfg.ContreeOptions(), logger)
		e.tree = e.contree
	}
	e.logger.Infof("%s engine on %s: atlas %s, chunk %d, scene %s", cfg.Tree, dev.Name(), cfg.Atlas(), cfg.ChunkDim, cfg.Scene())
	return e, nil
}

func (e *Engine) Config() Config                 { return e.cfg }
func (e *Engine) Profiler() *Profiler            { return e.profiler }
func (e *Engine) Scene() *builder.SceneAccel     { return e.scene }
func (e *Engine) Regions() *alloc.AtlasAllocator { return e.regions }

// Pools returns the node pool and, for contrees, the leaf pool.
func (e *Engine) Pools() (nodes, leaves alloc.Strategy) {
	if e.octree != nil {
		return e.octree.Pool(), nil
	}
	return e.contree.NodePool(), e.contree.LeafPool()
}

func (e *Engine) checkKey(key core.UVec3) error {
	g := e.cfg.Scene()
	if key.X >= g.X || key.Y >= g.Y || key.Z >= g.Z {
		return fmt.Errorf("chunk %s outside scene grid %s: %w", key, g, builder.ErrOutOfBounds)
	}
	return nil
}

// region returns the atlas box of key, placing one if needed. A full atlas
// is compacted once before giving up.
func (e *Engine) region(key core.UVec3) (alloc.AtlasAllocation, error) {
	if id, ok := e.regionOf[key]; ok {
		if a, ok := e.regions.Lookup(id); ok {
			return a, nil
		}
	}
	a, err := e.regions.Allocate(e.cfg.Chunk())
	if errors.Is(err, alloc.ErrAtlasFull) {
		e.logger.Debugf("atlas full at chunk %s, compacting %d regions", key, e.regions.Len())
		if err := e.compactAtlas(); err != nil {
			return a, err
		}
		a, err = e.regions.Allocate(e.cfg.Chunk())
	}
	if err != nil {
		return a, fmt.Errorf("failed to place chunk %s in atlas: %w", key, err)
	}
	e.regionOf[key] = a.ID
	return a, nil
}

// compactAtlas re-packs the live regions and moves their voxels along.
func (e *Engine) compactAtlas() error {
	defer e.profiler.Scope("compact")()
	before := e.regions.Allocations()
	grids := make(map[uint64]*volume.DenseGrid, len(before))
	for _, a := range before {
		g, err := e.atlas.ReadGrid(a.Offset, a.Dim)
		if err != nil {
			return fmt.Errorf("failed to snapshot region %d: %w", a.ID, err)
		}
		grids[a.ID] = g
	}
	e.regions.Cleanup()
	moved := 0
	for i, a := range e.regions.Allocations() {
		if a.Offset == before[i].Offset {
			continue
		}
		if err := e.atlas.WriteGrid(a.Offset, grids[a.ID]); err != nil {
			return fmt.Errorf("failed to move region %d: %w", a.ID, err)
		}
		moved++
	}
	e.profiler.AddCount("regions_moved", moved)
	return nil
}

// BuildChunk writes s into the chunk's atlas region, builds its tree and
// places it. An empty chunk is reported as skipped and holds no pool
// space.
func (e *Engine) BuildChunk(key core.UVec3, s builder.Sphere) (ChunkReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rep := ChunkReport{Key: key}
	if err := e.checkKey(key); err != nil {
		return rep, err
	}

	end := e.profiler.Scope("place")
	region, err := e.region(key)
	end()
	if err != nil {
		return rep, err
	}
	rep.AtlasOffset = region.Offset

	end = e.profiler.Scope("plain")
	err = e.plain.Write(region.Offset, region.Dim, s)
	end()
	if err != nil {
		return rep, fmt.Errorf("failed to write chunk %s: %w", key, err)
	}

	end = e.profiler.Scope("tree")
	p, err := e.tree.BuildAndAlloc(key, region.Offset, region.Dim)
	end()
	if err != nil {
		// the old placement is already gone
		return rep, errors.Join(fmt.Errorf("failed to build chunk %s: %w", key, err), e.scene.Set(key, nil))
	}

	end = e.profiler.Scope("scene")
	err = e.scene.Set(key, p)
	end()
	if err != nil {
		return rep, err
	}

	e.profiler.AddCount("chunks", 1)
	if p == nil {
		rep.Skipped = true
		rep.Reason = "empty"
		e.profiler.AddCount("skipped", 1)
		return rep, nil
	}
	rep.Voxels = p.Voxels
	rep.NodeOffset, rep.NodeLen = p.NodeOffset, p.NodeLen
	rep.LeafOffset, rep.LeafLen = p.LeafOffset, p.LeafLen
	e.profiler.AddCount("voxels", int(p.Voxels))
	e.profiler.AddCount("nodes", int(p.NodeLen))
	e.profiler.AddCount("leaves", int(p.LeafLen))
	return rep, nil
}

// capacityExhausted reports errors that skip a chunk rather than abort a
// scene build.
func capacityExhausted(err error) bool {
	return errors.Is(err, alloc.ErrAtlasFull) ||
		errors.Is(err, alloc.ErrNotEnoughMemory) ||
		errors.Is(err, alloc.ErrResizeNoSpace) ||
		errors.Is(err, builder.ErrScratchOverflow)
}

// BuildScene builds every chunk of the scene grid, z-major, and uploads
// the scene table.
func (e *Engine) BuildScene(content Content) (*BuildReport, error) {
	start := time.Now()
	rep := &BuildReport{
		ID:       uuid.New(),
		Backend:  e.dev.Name(),
		Tree:     e.cfg.Tree,
		ChunkDim: e.cfg.ChunkDim,
	}
	g := e.cfg.Scene()
	for z := uint32(0); z < g.Z; z++ {
		for y := uint32(0); y < g.Y; y++ {
			for x := uint32(0); x < g.X; x++ {
				key := core.UVec3{X: x, Y: y, Z: z}
				c, err := e.BuildChunk(key, content(key))
				if capacityExhausted(err) {
					e.logger.Warnf("chunk %s skipped: %v", key, err)
					c.Skipped, c.Reason = true, err.Error()
					e.profiler.AddCount("skipped", 1)
				} else if err != nil {
					return rep, err
				}
				rep.Chunks = append(rep.Chunks, c)
			}
		}
	}
	if err := e.scene.Upload(); err != nil {
		return rep, err
	}
	rep.fill(e)
	rep.Elapsed = time.Since(start)
	e.logger.Infof("build %s: %d chunks, %d placed in %s", rep.ID, len(rep.Chunks), rep.Placed(), rep.Elapsed)
	return rep, nil
}

// RemoveChunk frees everything key holds.
func (e *Engine) RemoveChunk(key core.UVec3) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkKey(key); err != nil {
		return err
	}
	if id, ok := e.regionOf[key]; ok {
		delete(e.regionOf, key)
		if err := e.regions.Deallocate(id); err != nil {
			return err
		}
	}
	if err := e.tree.Remove(key); err != nil {
		return err
	}
	return e.scene.Set(key, nil)
}

// Region downloads the atlas voxels of key.
func (e *Engine) Region(key core.UVec3) (*volume.DenseGrid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.regionOf[key]
	if !ok {
		return nil, fmt.Errorf("chunk %s has no atlas region: %w", key, alloc.ErrIDNotFound)
	}
	a, _ := e.regions.Lookup(id)
	return e.atlas.ReadGrid(a.Offset, a.Dim)
}

// Verify walks the placed tree of key and compares every voxel with the
// atlas region it was built from.
func (e *Engine) Verify(key core.UVec3) error {
	g, err := e.Region(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var lookup func(x, y, z uint32) uint32
	if e.octree != nil {
		p, ok := e.octree.Chunks().Get(key)
		if !ok {
			return verifyEmpty(key, g)
		}
		entries, err := e.octree.ReadChunk(key)
		if err != nil {
			return err
		}
		lookup = func(x, y, z uint32) uint32 { return builder.OctreeVoxel(entries, p.Levels, x, y, z) }
	} else {
		if _, ok := e.contree.Chunks().Get(key); !ok {
			return verifyEmpty(key, g)
		}
		c, err := e.contree.ReadChunk(key)
		if err != nil {
			return err
		}
		lookup = c.Voxel
	}
	for z := uint32(0); z < g.Dim.Z; z++ {
		for y := uint32(0); y < g.Dim.Y; y++ {
			for x := uint32(0); x < g.Dim.X; x++ {
				want := g.Voxel(int(x), int(y), int(z))
				if got := lookup(x, y, z); got != want {
					return fmt.Errorf("chunk %s voxel (%d,%d,%d): tree has %d, atlas has %d", key, x, y, z, got, want)
				}
			}
		}
	}
	return nil
}

func verifyEmpty(key core.UVec3, g *volume.DenseGrid) error {
	if n := g.Count(); n != 0 {
		return fmt.Errorf("chunk %s has %d voxels but no tree", key, n)
	}
	return nil
}
