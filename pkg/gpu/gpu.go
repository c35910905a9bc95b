// Package gpu offloads cosine similarity of two vectors to an accelerator.
//
// The package owns the device pipeline: lazy initialisation of one device
// context, per-call buffer allocation, kernel loading, launch and readback,
// and release of every resource on every exit path. The actual device work
// is delegated to a driver (cuda, opencl or the pure-Go emulator) behind
// the driver.Context interface.
//
// ELI12: the CPU adds up a thousand multiplications one after another. A GPU
// hands the multiplications to hundreds of tiny workers at once, has each
// group of 256 add up its own share, and then only the group totals are
// added together. The answer is the same up to rounding, because floating
// point addition done in a different order can differ in the last bits.
//
// Example:
//
//	accel := gpu.NewAccelerator(&gpu.Config{
//		Enabled:          true,
//		PreferredBackend: gpu.BackendAuto,
//	})
//	defer accel.Release()
//
//	score, err := accel.CosineSimilarity(a, b)
//	if errors.Is(err, gpu.ErrInitFailed) {
//		// no usable device
//	}
package gpu

import (
	"fmt"
	"strings"
)

// Backend identifies a device driver.
type Backend string

const (
	// BackendNone means no accelerator is in use.
	BackendNone Backend = "none"
	// BackendAuto picks the first available hardware driver for the platform.
	BackendAuto Backend = "auto"
	// BackendCUDA runs on NVIDIA GPUs through the CUDA driver API.
	BackendCUDA Backend = "cuda"
	// BackendOpenCL runs on any OpenCL 1.2 GPU.
	BackendOpenCL Backend = "opencl"
	// BackendEmulator runs the kernel on goroutines. Never auto-selected.
	BackendEmulator Backend = "emulator"
)

func (b Backend) String() string { return string(b) }

// ParseBackend parses a backend name. The empty string means auto.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendNone:
		return BackendNone, nil
	case BackendCUDA:
		return BackendCUDA, nil
	case BackendOpenCL:
		return BackendOpenCL, nil
	case BackendEmulator:
		return BackendEmulator, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Config configures accelerator selection.
type Config struct {
	// Enabled gates all device access. A disabled accelerator fails every
	// call at the init stage.
	Enabled bool

	// PreferredBackend selects the driver. BackendAuto tries the hardware
	// drivers in platform order.
	PreferredBackend Backend

	// DeviceID selects the device within the driver.
	DeviceID int

	// EmulatorMemoryMB caps emulated device memory. 0 uses the emulator
	// default.
	EmulatorMemoryMB int
}

// DefaultConfig returns an enabled config with auto-detection.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		PreferredBackend: BackendAuto,
	}
}
