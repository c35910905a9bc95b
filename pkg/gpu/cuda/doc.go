// Package cuda runs the cosine reduction kernel on NVIDIA GPUs through the
// CUDA driver API.
//
// This package requires:
//   - NVIDIA GPU with compute capability 5.2+ (float atomicAdd on global memory)
//   - CUDA driver (libcuda) and headers from the CUDA Toolkit 11.0+
//
// The kernel is not compiled at build time. The PTX artifact embedded in
// pkg/gpu/kernels is JIT-compiled by the driver when LoadKernel is called, so
// the binary runs on any architecture newer than the PTX target.
//
// Build Requirements:
//
// On Linux:
//   - Install CUDA Toolkit: https://developer.nvidia.com/cuda-downloads
//   - Set environment: export CUDA_HOME=/usr/local/cuda
//   - Ensure libcuda.so is in LD_LIBRARY_PATH
//
// On Windows:
//   - Install CUDA Toolkit from NVIDIA
//   - CUDA_PATH environment variable set
//
// Build tags:
//   - Build with: go build -tags cuda
//   - Without CUDA: builds with stub implementations
//
// The driver is initialised once per process (cuInit); every Device owns its
// own CUDA context and pushes it around each call, so a Device may be used
// from any goroutine as long as calls are not concurrent.
//
// Example usage:
//
//	if cuda.IsAvailable() {
//	    dev, err := cuda.Open(0)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer dev.Release()
//
//	    k, _ := dev.LoadKernel(kernels.PTX(), kernels.Entry)
//	    defer k.Release()
//	}
package cuda
