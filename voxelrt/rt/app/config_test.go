package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/builder"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSoft, cfg.Backend)
	assert.Equal(t, core.Splat(32), cfg.Chunk())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxbuild.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tree": "contree",
		"chunk_dim": 16,
		"strategy": "best_fit",
		"scene_dim": [8, 1, 2]
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TreeContree, cfg.Tree)
	assert.Equal(t, alloc.KindBestFit, cfg.Strategy)
	assert.Equal(t, core.UVec3{X: 8, Y: 1, Z: 2}, cfg.Scene())
	// untouched fields keep their defaults
	assert.Equal(t, DefaultConfig().AtlasDim, cfg.AtlasDim)
	assert.Equal(t, uint32(16), cfg.ContreeOptions().MaxDim)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tree": "contree", "chunk_dim": 32}`), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, builder.ErrInvalidDim)

	require.NoError(t, os.WriteFile(path, []byte(`{"tree": `), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"backend":  func(c *Config) { c.Backend = "vulkan" },
		"strategy": func(c *Config) { c.Strategy = "worst_fit" },
		"tree":     func(c *Config) { c.Tree = "kdtree" },
		"octree":   func(c *Config) { c.ChunkDim = 24 },
		"atlas":    func(c *Config) { c.AtlasDim = [3]uint32{16, 16, 16} },
		"scene":    func(c *Config) { c.SceneDim = [3]uint32{1, 0, 1} },
		"prealloc": func(c *Config) { c.PreallocBytes = c.NodePoolBytes + 1 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"tree": "octree"`)
	assert.Contains(t, s, `"chunk_dim": 32`)
}
