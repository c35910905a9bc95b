//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

package opencl

import (
	"testing"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
)

func TestDeviceCount(t *testing.T) {
	count := DeviceCount()
	t.Logf("OpenCL device count: %d", count)

	if IsAvailable() && count == 0 {
		t.Error("OpenCL is available but device count is 0")
	}
}

func TestReduction(t *testing.T) {
	if !IsAvailable() {
		t.Skip("OpenCL not available")
	}

	device, err := Open(0)
	if err != nil {
		t.Fatalf("Open(0) failed: %v", err)
	}
	defer device.Release()
	t.Logf("Device: %s (%s)", device.Name(), device.Vendor())

	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	bufA, err := device.Upload(a)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer bufA.Release()
	bufB, err := device.Upload(b)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer bufB.Release()

	acc := make([]driver.Buffer, 3)
	for i := range acc {
		acc[i], err = device.Upload([]float32{0})
		if err != nil {
			t.Fatalf("Upload accumulator failed: %v", err)
		}
		defer acc[i].Release()
	}

	k, err := device.LoadKernel(kernels.OpenCL(), kernels.Entry)
	if err != nil {
		t.Fatalf("LoadKernel failed: %v", err)
	}
	defer k.Release()

	geom := driver.Geometry{
		Block: driver.Dim3{X: 256, Y: 1, Z: 1},
		Grid:  driver.Dim3{X: 1, Y: 1, Z: 1},
	}
	err = device.Launch(k, geom, driver.ReductionArgs{
		A: bufA, B: bufB, Dot: acc[0], MagA: acc[1], MagB: acc[2], N: 3,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	want := []float32{32, 14, 77}
	out := make([]float32, 1)
	for i, buf := range acc {
		if err := device.Download(buf, out); err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		if out[0] != want[i] {
			t.Errorf("accumulator %d = %v, want %v", i, out[0], want[i])
		}
	}
}
