package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gekko3d/voxbuild/voxelrt/rt/alloc"
)

var allocTotal uint64

func init() {
	cmd := newAllocCmd()
	cmd.Flags().Uint64Var(&allocTotal, "total", 1024, "Pool size in bytes")
	rootCmd.AddCommand(cmd)
}

func newAllocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alloc <op>...",
		Short: "Replay allocator operations and show the pool",
		Long: `The alloc command runs a sequence of operations against a linear pool
allocator and prints the resulting allocations and free blocks.

Operations:
  a:<size>        allocate
  d:<id>          deallocate
  r:<id>:<size>   resize
  c               cleanup (compact)

Example:
  voxbuild alloc --strategy best_fit a:100 a:200 a:50 d:2 r:3:120 c`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlloc(args)
		},
	}
}

type allocState struct {
	Strategy    alloc.Kind         `json:"strategy"`
	Total       uint64             `json:"total"`
	Free        uint64             `json:"free"`
	Allocations []alloc.Allocation `json:"allocations"`
	FreeBlocks  []alloc.FreeBlock  `json:"free_blocks"`
}

func applyOp(s alloc.Strategy, op string) (string, error) {
	parts := strings.Split(op, ":")
	nums := make([]uint64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad operation %q: %w", op, err)
		}
		nums = append(nums, n)
	}
	switch {
	case parts[0] == "a" && len(nums) == 1:
		a, err := s.Allocate(nums[0])
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Sprintf("allocated id %d at [%d,%d)", a.ID, a.Offset, a.End()), nil
	case parts[0] == "d" && len(nums) == 1:
		if err := s.Deallocate(nums[0]); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Sprintf("freed id %d", nums[0]), nil
	case parts[0] == "r" && len(nums) == 2:
		a, err := s.Resize(nums[0], nums[1])
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Sprintf("resized id %d to [%d,%d)", a.ID, a.Offset, a.End()), nil
	case parts[0] == "c" && len(nums) == 0:
		s.Cleanup()
		return "compacted", nil
	}
	return "", fmt.Errorf("unknown operation %q", op)
}

func runAlloc(args []string) error {
	kind := alloc.Kind(strategy)
	s, err := alloc.New(kind, allocTotal)
	if err != nil {
		return err
	}
	for _, op := range args {
		msg, err := applyOp(s, op)
		if err != nil {
			return err
		}
		if !jsonOut {
			fmt.Println(msg)
		}
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("pool is inconsistent: %w", err)
	}

	state := allocState{
		Strategy:    kind,
		Total:       s.TotalSize(),
		Free:        s.FreeSize(),
		Allocations: s.Allocations(),
		FreeBlocks:  s.FreeBlocks(),
	}
	if jsonOut {
		return printJSON(state)
	}
	fmt.Printf("%s: %d/%d bytes free\n", kind, state.Free, state.Total)
	for _, a := range state.Allocations {
		fmt.Printf("  id %-4d [%d,%d)\n", a.ID, a.Offset, a.End())
	}
	for _, b := range state.FreeBlocks {
		fmt.Printf("  free    [%d,%d)\n", b.Offset, b.End())
	}
	return nil
}
