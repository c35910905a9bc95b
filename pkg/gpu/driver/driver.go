// Package driver defines the contract between the accelerator pipeline in
// pkg/gpu and the device drivers that implement it (cuda, opencl, emulator).
//
// Drivers know nothing about cosine similarity beyond the reduction kernel's
// parameter list. The pipeline in pkg/gpu owns ordering, error staging and
// resource release; a driver only has to move bytes and launch kernels.
package driver

import "fmt"

// Dim3 is a three-dimensional launch extent.
type Dim3 struct {
	X, Y, Z uint32
}

// Count returns X*Y*Z.
func (d Dim3) Count() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

// Geometry describes how a kernel launch is partitioned into blocks.
type Geometry struct {
	Block Dim3
	Grid  Dim3
}

// Threads returns the total number of threads launched.
func (g Geometry) Threads() uint64 {
	return g.Block.Count() * g.Grid.Count()
}

func (g Geometry) String() string {
	return fmt.Sprintf("grid=%s block=%s", g.Grid, g.Block)
}

// Buffer is device-resident float32 memory.
type Buffer interface {
	// Len returns the number of float32 elements.
	Len() int
	// Release frees the device memory. Safe to call twice.
	Release()
}

// Kernel is a loaded kernel entry point.
type Kernel interface {
	Entry() string
	Release()
}

// ReductionArgs is the fixed parameter list of the cosine reduction kernel:
// (ptrA, ptrB, ptrDot, ptrMagA, ptrMagB, n int32).
type ReductionArgs struct {
	A, B            Buffer
	Dot, MagA, MagB Buffer
	N               int32
}

// Context is an initialised device context.
//
// A Context is not required to be safe for concurrent use; pkg/gpu
// serialises every call made against one context.
type Context interface {
	// Name returns a human-readable device name.
	Name() string

	// MemoryBytes returns total device memory, or 0 if unknown.
	MemoryBytes() uint64

	// Upload allocates a buffer of exactly len(data) elements and copies
	// data into it.
	Upload(data []float32) (Buffer, error)

	// Download copies len(dst) elements from buf into dst.
	Download(buf Buffer, dst []float32) error

	// LoadKernel loads entry from a compiled kernel artifact.
	LoadKernel(artifact []byte, entry string) (Kernel, error)

	// Launch runs the reduction kernel and blocks until the device reports
	// completion.
	Launch(k Kernel, g Geometry, args ReductionArgs) error

	// Release destroys the context and anything still allocated in it.
	Release()
}
