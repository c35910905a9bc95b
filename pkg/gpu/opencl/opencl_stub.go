//go:build !opencl || !(linux || windows || darwin)
// +build !opencl !linux,!windows,!darwin

// Package opencl provides cross-platform GPU acceleration using OpenCL.
// This is a stub implementation for systems without OpenCL support.
package opencl

import (
	"errors"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
)

// Errors
var (
	ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available (build without opencl tag)")
	ErrDeviceCreation     = errors.New("opencl: failed to create OpenCL device")
	ErrBufferCreation     = errors.New("opencl: failed to create buffer")
	ErrTransfer           = errors.New("opencl: memory transfer failed")
	ErrKernelLoad         = errors.New("opencl: failed to build kernel")
	ErrKernelExecution    = errors.New("opencl: kernel execution failed")
	ErrInvalidBuffer      = errors.New("opencl: invalid buffer")
)

// Device represents an OpenCL GPU device (stub).
type Device struct{}

// IsAvailable returns false on systems without OpenCL.
func IsAvailable() bool {
	return false
}

// DeviceCount returns 0 on systems without OpenCL.
func DeviceCount() int {
	return 0
}

// Open returns an error on systems without OpenCL.
func Open(deviceID int) (*Device, error) {
	return nil, ErrOpenCLNotAvailable
}

// Release is a no-op stub.
func (d *Device) Release() {}

// ID returns 0.
func (d *Device) ID() int { return 0 }

// Name returns empty string.
func (d *Device) Name() string { return "" }

// Vendor returns empty string.
func (d *Device) Vendor() string { return "" }

// MemoryBytes returns 0.
func (d *Device) MemoryBytes() uint64 { return 0 }

// Upload returns an error.
func (d *Device) Upload(data []float32) (driver.Buffer, error) {
	return nil, ErrOpenCLNotAvailable
}

// Download returns an error.
func (d *Device) Download(buf driver.Buffer, dst []float32) error {
	return ErrOpenCLNotAvailable
}

// LoadKernel returns an error.
func (d *Device) LoadKernel(artifact []byte, entry string) (driver.Kernel, error) {
	return nil, ErrOpenCLNotAvailable
}

// Launch returns an error.
func (d *Device) Launch(k driver.Kernel, g driver.Geometry, args driver.ReductionArgs) error {
	return ErrOpenCLNotAvailable
}
