// Package builder turns atlas regions into sparse voxel trees on a
// gpu.Device and places the results in shared node and leaf pools.
package builder

import "errors"

var (
	ErrInvalidDim      = errors.New("invalid voxel dimension")
	ErrOutOfBounds     = errors.New("region exceeds atlas bounds")
	ErrRegionTooLarge  = errors.New("region exceeds builder capacity")
	ErrScratchOverflow = errors.New("build exceeded scratch capacity")
)
