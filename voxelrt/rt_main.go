package main

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
	"github.com/gekko3d/voxbuild/voxelrt/rt/app"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

var (
	// Global flags
	configPath string
	backend    string
	tree       string
	strategy   string
	chunkDim   uint32
	workers    int
	debug      bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "voxbuild",
	Short: "Build sparse voxel trees on the GPU",
	Long: `voxbuild streams procedural chunks through the voxel pipeline: atlas
placement, plain chunk write, octree or contree build and pool placement.
It runs on the CPU reference device or on a wgpu adapter.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", app.BackendSoft, "Device backend (soft, wgpu)")
	rootCmd.PersistentFlags().StringVar(&tree, "tree", app.TreeOctree, "Tree kind (octree, contree)")
	rootCmd.PersistentFlags().StringVar(&strategy, "strategy", string(alloc.KindFirstFit), "Pool strategy (first_fit, best_fit)")
	rootCmd.PersistentFlags().Uint32Var(&chunkDim, "chunk", 32, "Chunk side in voxels")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Soft device workers (0 = config default)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, if any, and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg := app.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = app.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("tree") {
		cfg.Tree = tree
	}
	if flags.Changed("strategy") {
		cfg.Strategy = alloc.Kind(strategy)
	}
	if flags.Changed("chunk") {
		cfg.ChunkDim = chunkDim
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// newLogger keeps stdout clean for --json unless debugging.
func newLogger(cfg app.Config) core.Logger {
	if jsonOut && !cfg.Debug {
		return core.NewNopLogger()
	}
	return core.NewDefaultLogger("voxbuild", cfg.Debug)
}

// openEngine creates the device and engine for cmd. The caller releases
// the device.
func openEngine(cmd *cobra.Command) (*app.Engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	logger.Debugf("config:\n%s", cfg)
	dev, err := app.OpenDevice(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	e, err := app.NewEngine(cfg, dev, logger)
	if err != nil {
		dev.Release()
		return nil, nil, err
	}
	return e, dev.Release, nil
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
