package app

import (
	"fmt"
	"os"
	"runtime"

	jsoniter "github.com/json-iterator/go"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/builder"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BackendSoft = "soft"
	BackendWGPU = "wgpu"

	TreeOctree  = "octree"
	TreeContree = "contree"
)

type Config struct {
	Backend string `json:"backend"`
	Workers int    `json:"workers"`
	Debug   bool   `json:"debug"`

	AtlasDim [3]uint32 `json:"atlas_dim"`
	ChunkDim uint32    `json:"chunk_dim"`
	SceneDim [3]uint32 `json:"scene_dim"`

	Tree     string     `json:"tree"`
	Strategy alloc.Kind `json:"strategy"`

	NodePoolBytes uint64 `json:"node_pool_bytes"`
	LeafPoolBytes uint64 `json:"leaf_pool_bytes"`
	PreallocBytes uint64 `json:"prealloc_bytes"`
	ScratchBytes  uint64 `json:"scratch_bytes"`
}

func DefaultConfig() Config {
	o := builder.DefaultOctreeOptions()
	return Config{
		Backend:       BackendSoft,
		Workers:       runtime.NumCPU(),
		AtlasDim:      [3]uint32{128, 128, 64},
		ChunkDim:      32,
		SceneDim:      [3]uint32{4, 4, 4},
		Tree:          TreeOctree,
		Strategy:      alloc.KindFirstFit,
		NodePoolBytes: o.PoolBytes,
		LeafPoolBytes: o.PoolBytes,
		PreallocBytes: o.PreallocBytes,
		ScratchBytes:  o.ScratchBytes,
	}
}

// LoadConfig reads a JSON config file. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Atlas() core.UVec3 {
	return core.UVec3{X: c.AtlasDim[0], Y: c.AtlasDim[1], Z: c.AtlasDim[2]}
}

func (c Config) Scene() core.UVec3 {
	return core.UVec3{X: c.SceneDim[0], Y: c.SceneDim[1], Z: c.SceneDim[2]}
}

func (c Config) Chunk() core.UVec3 { return core.Splat(c.ChunkDim) }

func (c Config) Validate() error {
	switch c.Backend {
	case BackendSoft, BackendWGPU:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := alloc.New(c.Strategy, 0); err != nil {
		return err
	}
	switch c.Tree {
	case TreeOctree:
		if _, err := builder.OctreeLevel(c.Chunk()); err != nil {
			return err
		}
	case TreeContree:
		if _, err := builder.ContreeLevel(c.Chunk()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown tree kind %q", c.Tree)
	}
	if !c.Chunk().FitsIn(c.Atlas()) {
		return fmt.Errorf("chunk %s does not fit atlas %s: %w", c.Chunk(), c.Atlas(), builder.ErrInvalidDim)
	}
	if c.Scene().AnyZero() {
		return fmt.Errorf("scene grid %s: %w", c.Scene(), builder.ErrInvalidDim)
	}
	if c.PreallocBytes == 0 || c.PreallocBytes > c.NodePoolBytes || c.PreallocBytes > c.LeafPoolBytes {
		return fmt.Errorf("prealloc of %d bytes must be non-zero and fit the pools", c.PreallocBytes)
	}
	return nil
}

func (c Config) OctreeOptions() builder.OctreeOptions {
	return builder.OctreeOptions{
		PoolBytes:     c.NodePoolBytes,
		PreallocBytes: c.PreallocBytes,
		ScratchBytes:  c.ScratchBytes,
		Strategy:      c.Strategy,
	}
}

func (c Config) ContreeOptions() builder.ContreeOptions {
	return builder.ContreeOptions{
		NodePoolBytes:     c.NodePoolBytes,
		LeafPoolBytes:     c.LeafPoolBytes,
		NodePreallocBytes: c.PreallocBytes,
		LeafPreallocBytes: c.PreallocBytes,
		MaxDim:            c.ChunkDim,
		Strategy:          c.Strategy,
	}
}

func (c Config) String() string {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
