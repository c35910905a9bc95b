//go:build !cuda || !(linux || windows)
// +build !cuda !linux,!windows

// Package cuda provides NVIDIA GPU acceleration using CUDA.
// This is a stub implementation for systems without CUDA support.
package cuda

import (
	"errors"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
)

// Errors
var (
	ErrCUDANotAvailable = errors.New("cuda: CUDA is not available (build without cuda tag or unsupported platform)")
	ErrDeviceCreation   = errors.New("cuda: failed to create CUDA context")
	ErrBufferCreation   = errors.New("cuda: failed to create buffer")
	ErrTransfer         = errors.New("cuda: memory transfer failed")
	ErrKernelLoad       = errors.New("cuda: failed to load kernel")
	ErrKernelExecution  = errors.New("cuda: kernel execution failed")
	ErrInvalidBuffer    = errors.New("cuda: invalid buffer")
)

// Device represents a CUDA GPU device (stub).
type Device struct{}

// IsAvailable returns false on systems without CUDA.
func IsAvailable() bool {
	return false
}

// DeviceCount returns 0 on systems without CUDA.
func DeviceCount() int {
	return 0
}

// Open returns an error on systems without CUDA.
func Open(deviceID int) (*Device, error) {
	return nil, ErrCUDANotAvailable
}

// Release is a no-op stub.
func (d *Device) Release() {}

// Name returns empty string.
func (d *Device) Name() string { return "" }

// MemoryBytes returns 0.
func (d *Device) MemoryBytes() uint64 { return 0 }

// ComputeCapability returns 0, 0.
func (d *Device) ComputeCapability() (int, int) { return 0, 0 }

// Upload returns an error.
func (d *Device) Upload(data []float32) (driver.Buffer, error) {
	return nil, ErrCUDANotAvailable
}

// Download returns an error.
func (d *Device) Download(buf driver.Buffer, dst []float32) error {
	return ErrCUDANotAvailable
}

// LoadKernel returns an error.
func (d *Device) LoadKernel(artifact []byte, entry string) (driver.Kernel, error) {
	return nil, ErrCUDANotAvailable
}

// Launch returns an error.
func (d *Device) Launch(k driver.Kernel, g driver.Geometry, args driver.ReductionArgs) error {
	return ErrCUDANotAvailable
}
