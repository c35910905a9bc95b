//go:build !opencl || !(linux || windows || darwin)
// +build !opencl !linux,!windows,!darwin

package opencl

import (
	"testing"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
)

func TestIsAvailableStub(t *testing.T) {
	if IsAvailable() {
		t.Error("IsAvailable() should return false on stub")
	}
}

func TestDeviceCountStub(t *testing.T) {
	if DeviceCount() != 0 {
		t.Error("DeviceCount() should return 0 on stub")
	}
}

func TestOpenStub(t *testing.T) {
	device, err := Open(0)
	if err != ErrOpenCLNotAvailable {
		t.Errorf("Open() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if device != nil {
		t.Error("Open() should return nil device on stub")
	}
}

func TestDeviceMethodsStub(t *testing.T) {
	var device Device

	device.Release()

	if device.ID() != 0 {
		t.Error("ID() should return 0")
	}
	if device.Name() != "" {
		t.Error("Name() should return empty string")
	}
	if device.Vendor() != "" {
		t.Error("Vendor() should return empty string")
	}
	if device.MemoryBytes() != 0 {
		t.Error("MemoryBytes() should return 0")
	}
}

func TestDeviceOperationsStub(t *testing.T) {
	var device Device

	if _, err := device.Upload([]float32{1.0}); err != ErrOpenCLNotAvailable {
		t.Errorf("Upload() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if err := device.Download(nil, nil); err != ErrOpenCLNotAvailable {
		t.Errorf("Download() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if _, err := device.LoadKernel([]byte("__kernel void k() {}"), "k"); err != ErrOpenCLNotAvailable {
		t.Errorf("LoadKernel() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if err := device.Launch(nil, driver.Geometry{}, driver.ReductionArgs{}); err != ErrOpenCLNotAvailable {
		t.Errorf("Launch() error = %v, want ErrOpenCLNotAvailable", err)
	}
}

func TestStubSatisfiesDriverContext(t *testing.T) {
	var _ driver.Context = (*Device)(nil)
}
