package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gekko3d/voxbuild/voxelrt/rt/app"
)

var (
	buildVerify bool
	buildStats  bool
)

func init() {
	cmd := newBuildCmd()
	cmd.Flags().BoolVar(&buildVerify, "verify", false, "Walk every placed tree and compare it with the atlas")
	cmd.Flags().BoolVar(&buildStats, "stats", false, "Print stage timings and counters")
	rootCmd.AddCommand(cmd)
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build every chunk of the scene grid",
		Long: `The build command fills each chunk of the scene grid with its
inscribed sphere, builds the configured tree and places it in the pools.

Example:
  voxbuild build --tree contree --chunk 16
  voxbuild build --config scene.json --verify --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd)
		},
	}
}

func runBuild(cmd *cobra.Command) error {
	e, release, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer release()

	rep, err := e.BuildScene(app.SphereContent(e.Config().ChunkDim))
	if err != nil {
		return err
	}
	if buildVerify {
		for _, c := range rep.Chunks {
			if c.Skipped {
				continue
			}
			if err := e.Verify(c.Key); err != nil {
				return fmt.Errorf("verify failed: %w", err)
			}
		}
	}

	if jsonOut {
		return printJSON(rep)
	}
	fmt.Printf("build %s (%s, %s, chunk %d)\n", rep.ID, rep.Backend, rep.Tree, rep.ChunkDim)
	for _, c := range rep.Chunks {
		if c.Skipped {
			fmt.Printf("  %-12s skipped: %s\n", c.Key, c.Reason)
			continue
		}
		fmt.Printf("  %-12s %7d voxels  nodes [%d,+%d)  leaves [%d,+%d)\n",
			c.Key, c.Voxels, c.NodeOffset, c.NodeLen, c.LeafOffset, c.LeafLen)
	}
	fmt.Printf("%d/%d chunks placed in %s\n", rep.Placed(), len(rep.Chunks), rep.Elapsed)
	fmt.Printf("node pool: %d/%d bytes free in %d blocks\n", rep.Nodes.Free, rep.Nodes.Total, rep.Nodes.Blocks)
	if rep.Leaves != nil {
		fmt.Printf("leaf pool: %d/%d bytes free in %d blocks\n", rep.Leaves.Free, rep.Leaves.Total, rep.Leaves.Blocks)
	}
	if buildVerify {
		fmt.Println("verify: ok")
	}
	if buildStats {
		fmt.Print(e.Profiler().GetStatsString())
	}
	return nil
}
