package gpu

import (
	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
)

// BlockWidth is the number of threads per block. It must not exceed the
// kernel's shared array size.
const BlockWidth = kernels.BlockLimit

// Dim3 is a three-dimensional launch extent.
type Dim3 = driver.Dim3

// LaunchGeometry partitions a launch into blocks.
type LaunchGeometry = driver.Geometry

// DeviceBuffer is device memory allocated for one comparison.
type DeviceBuffer = driver.Buffer

// ComputeGeometry returns the launch covering n elements exactly once:
// block (BlockWidth,1,1), grid (ceil(n/BlockWidth),1,1). The last block may
// be partial; the kernel skips indices >= n.
func ComputeGeometry(n int) LaunchGeometry {
	if n < 0 {
		n = 0
	}
	return LaunchGeometry{
		Block: Dim3{X: BlockWidth, Y: 1, Z: 1},
		Grid:  Dim3{X: uint32((n + BlockWidth - 1) / BlockWidth), Y: 1, Z: 1},
	}
}
