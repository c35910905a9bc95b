// Package opencl runs the cosine reduction kernel on any GPU with an OpenCL
// 1.2 runtime.
//
// This is the cross-vendor alternative to the cuda package, covering AMD,
// Intel and NVIDIA devices.
//
// # Requirements
//
// For AMD GPUs on Linux:
//   - ROCm (Radeon Open Compute): https://rocm.docs.amd.com/
//   - Or AMD GPU drivers with OpenCL support
//
// For Intel GPUs:
//   - Intel oneAPI or Intel OpenCL runtime
//
// For NVIDIA GPUs (alternative to CUDA):
//   - NVIDIA drivers with OpenCL support
//
// # Build Tags
//
// This package is only compiled when the "opencl" build tag is present:
//
//	go build -tags opencl
//
// Linux (AMD ROCm):
//
//	export LD_LIBRARY_PATH=/opt/rocm/opencl/lib:$LD_LIBRARY_PATH
//
// # Kernels
//
// The driver receives OpenCL C source (kernels.OpenCL) and compiles it with
// clBuildProgram when LoadKernel is called. Launch geometry is given in
// blocks like the CUDA driver; it is converted to a global work size of
// grid.X * block.X work items.
//
// # Example
//
//	device, err := opencl.Open(0) // First OpenCL GPU
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer device.Release()
//
//	k, err := device.LoadKernel(kernels.OpenCL(), kernels.Entry)
package opencl
