package gpu

import (
	"fmt"
	"runtime"

	"github.com/orneryd/vecrank/pkg/gpu/cuda"
	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/emulator"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
	"github.com/orneryd/vecrank/pkg/gpu/opencl"
)

// Driver opens device contexts for one backend.
type Driver interface {
	Backend() Backend

	// Available reports whether the driver was built in and sees a device.
	Available() bool

	// DeviceCount returns the number of devices the driver can open.
	DeviceCount() int

	// Open creates a context on cfg.DeviceID.
	Open(cfg *Config) (driver.Context, error)

	// Artifact returns the kernel artifact in the format this driver loads.
	Artifact() []byte
}

type funcDriver struct {
	backend  Backend
	avail    func() bool
	count    func() int
	open     func(cfg *Config) (driver.Context, error)
	artifact func() []byte
}

func (d *funcDriver) Backend() Backend { return d.backend }
func (d *funcDriver) Available() bool  { return d.avail() }
func (d *funcDriver) DeviceCount() int { return d.count() }
func (d *funcDriver) Artifact() []byte { return d.artifact() }
func (d *funcDriver) String() string   { return string(d.backend) }
func (d *funcDriver) Open(cfg *Config) (driver.Context, error) {
	ctx, err := d.open(cfg)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errNilDriverContext
	}
	return ctx, nil
}

// NewDriver builds a Driver from an open function. It is how callers plug
// in a preconfigured device, e.g. an emulator with fault injection:
//
//	drv := gpu.NewDriver(gpu.BackendEmulator, func(*gpu.Config) (driver.Context, error) {
//		return emulator.New(emulator.Options{Fail: failures}), nil
//	}, kernels.PTX())
func NewDriver(backend Backend, open func(cfg *Config) (driver.Context, error), artifact []byte) Driver {
	return &funcDriver{
		backend:  backend,
		avail:    func() bool { return true },
		count:    func() int { return 1 },
		open:     open,
		artifact: func() []byte { return artifact },
	}
}

var cudaDriver = &funcDriver{
	backend: BackendCUDA,
	avail:   cuda.IsAvailable,
	count:   cuda.DeviceCount,
	open: func(cfg *Config) (driver.Context, error) {
		dev, err := cuda.Open(cfg.DeviceID)
		if err != nil {
			return nil, err
		}
		return dev, nil
	},
	artifact: kernels.PTX,
}

var openclDriver = &funcDriver{
	backend: BackendOpenCL,
	avail:   opencl.IsAvailable,
	count:   opencl.DeviceCount,
	open: func(cfg *Config) (driver.Context, error) {
		dev, err := opencl.Open(cfg.DeviceID)
		if err != nil {
			return nil, err
		}
		return dev, nil
	},
	artifact: kernels.OpenCL,
}

var emulatorDriver = &funcDriver{
	backend: BackendEmulator,
	avail:   emulator.IsAvailable,
	count:   func() int { return 1 },
	open: func(cfg *Config) (driver.Context, error) {
		dev, err := emulator.Open(cfg.DeviceID, emulator.Options{
			MemoryBytes: uint64(cfg.EmulatorMemoryMB) << 20,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	},
	artifact: kernels.PTX,
}

// Drivers returns every driver compiled into this binary, hardware first.
func Drivers() []Driver {
	return []Driver{cudaDriver, openclDriver, emulatorDriver}
}

// LookupDriver returns the driver for a concrete backend.
func LookupDriver(b Backend) (Driver, error) {
	switch b {
	case BackendCUDA:
		return cudaDriver, nil
	case BackendOpenCL:
		return openclDriver, nil
	case BackendEmulator:
		return emulatorDriver, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b)
}

// autoOrder is the hardware probe order for BackendAuto. The emulator is
// never part of it.
func autoOrder() []Backend {
	switch runtime.GOOS {
	case "linux", "windows":
		return []Backend{BackendCUDA, BackendOpenCL}
	case "darwin":
		return []Backend{BackendOpenCL}
	}
	return nil
}

// selectDriver resolves cfg to the driver that init will open.
func selectDriver(cfg *Config) (Driver, error) {
	if !cfg.Enabled || cfg.PreferredBackend == BackendNone {
		return nil, ErrGPUDisabled
	}

	if cfg.PreferredBackend != BackendAuto && cfg.PreferredBackend != "" {
		drv, err := LookupDriver(cfg.PreferredBackend)
		if err != nil {
			return nil, err
		}
		if !drv.Available() {
			return nil, fmt.Errorf("%w: %s driver not available", ErrGPUNotAvailable, drv.Backend())
		}
		return drv, nil
	}

	for _, b := range autoOrder() {
		drv, _ := LookupDriver(b)
		if drv.Available() {
			return drv, nil
		}
	}
	return nil, ErrGPUNotAvailable
}
