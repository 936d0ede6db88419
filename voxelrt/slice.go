package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gekko3d/voxbuild/voxelrt/rt/app"
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

var (
	sliceKey   string
	sliceZ     uint32
	sliceScale int
	sliceOut   string
)

func init() {
	cmd := newSliceCmd()
	cmd.Flags().StringVar(&sliceKey, "key", "0,0,0", "Chunk key as x,y,z")
	cmd.Flags().Uint32Var(&sliceZ, "z", 0, "Slice depth inside the chunk")
	cmd.Flags().IntVar(&sliceScale, "scale", 8, "Pixels per voxel")
	cmd.Flags().StringVarP(&sliceOut, "out", "o", "slice.png", "Output PNG path")
	rootCmd.AddCommand(cmd)
}

func newSliceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slice",
		Short: "Render one Z slice of a built chunk to PNG",
		Long: `The slice command builds one chunk, downloads its atlas region and
writes a Z slice of it as a PNG image.

Example:
  voxbuild slice --key 1,0,0 --z 16 -o chunk.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlice(cmd)
		},
	}
}

func parseKey(s string) (core.UVec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return core.UVec3{}, fmt.Errorf("chunk key %q must be x,y,z", s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return core.UVec3{}, fmt.Errorf("chunk key %q: %w", s, err)
		}
		v[i] = uint32(n)
	}
	return core.UVec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func runSlice(cmd *cobra.Command) error {
	key, err := parseKey(sliceKey)
	if err != nil {
		return err
	}
	e, release, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer release()

	content := app.SphereContent(e.Config().ChunkDim)
	if _, err := e.BuildChunk(key, content(key)); err != nil {
		return err
	}
	g, err := e.Region(key)
	if err != nil {
		return err
	}
	img, err := app.SliceImage(g, sliceZ, sliceScale)
	if err != nil {
		return err
	}

	f, err := os.Create(sliceOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", sliceOut, err)
	}
	defer f.Close()
	if err := app.WritePNG(f, img); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{"key": key, "z": sliceZ, "path": sliceOut, "bounds": img.Bounds().Size()})
	}
	fmt.Printf("wrote %s (%dx%d)\n", sliceOut, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}
