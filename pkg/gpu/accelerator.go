package gpu

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
	"github.com/orneryd/vecrank/pkg/metrics"
	"github.com/orneryd/vecrank/pkg/vector"
)

// Accelerator computes cosine similarity on a device.
//
// The device context is created on first use, not by NewAccelerator, and
// is shared by every later call until Release. Calls are serialised per
// accelerator; every device buffer and kernel handle a call acquires is
// released before it returns, successfully or not.
//
// Usage:
//
//	accel := gpu.NewAccelerator(nil)
//	defer accel.Release()
//
//	if err := accel.Init(); err != nil {
//		// no device: the caller decides, there is no CPU fallback here
//	}
//	score, err := accel.CosineSimilarity(a, b)
type Accelerator struct {
	config  *Config
	drv     Driver // forced driver, nil means select from config
	logger  *log.Logger
	metrics metrics.Collector

	// initMu guards the lazily created context. Success is sticky; a
	// failed init is retried by the next call.
	initMu   sync.Mutex
	dev      driver.Context
	backend  Backend
	artifact []byte
	released bool

	// callMu serialises pipeline runs against dev.
	callMu sync.Mutex

	// Stats
	mu    sync.RWMutex
	stats AcceleratorStats
}

// AcceleratorStats tracks device usage.
type AcceleratorStats struct {
	Comparisons        int64
	KernelExecutions   int64
	BytesUploaded      int64
	BytesDownloaded    int64
	InitFailures       int64
	TransferFailures   int64
	KernelLoadFailures int64
	LaunchFailures     int64
}

// Option configures an Accelerator.
type Option func(*Accelerator)

// WithDriver forces a driver instead of selecting one from Config.
func WithDriver(d Driver) Option {
	return func(a *Accelerator) { a.drv = d }
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(a *Accelerator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(a *Accelerator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAccelerator creates an accelerator. No device is touched until Init
// or the first comparison.
func NewAccelerator(config *Config, opts ...Option) *Accelerator {
	if config == nil {
		config = DefaultConfig()
	}
	a := &Accelerator{
		config:  config,
		backend: BackendNone,
		logger:  log.Default(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init creates the device context if it does not exist yet. It is safe to
// call from several goroutines; exactly one of them opens the device.
func (a *Accelerator) Init() error {
	_, _, err := a.context()
	return err
}

func (a *Accelerator) context() (driver.Context, []byte, error) {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	if a.released {
		return nil, nil, a.fail(StageInit, "", ErrReleased)
	}
	if a.dev != nil {
		return a.dev, a.artifact, nil
	}

	start := time.Now()
	drv := a.drv
	if drv == nil {
		var err error
		if drv, err = selectDriver(a.config); err != nil {
			return nil, nil, a.fail(StageInit, "select driver", err)
		}
	}

	dev, err := drv.Open(a.config)
	if err != nil {
		return nil, nil, a.fail(StageInit, fmt.Sprintf("open %s device %d", drv.Backend(), a.config.DeviceID), err)
	}

	a.dev = dev
	a.backend = drv.Backend()
	a.artifact = drv.Artifact()
	a.stage(StageInit, start)
	a.logger.Printf("[GPU] ✅ %s device ready: %s (%d MB)", a.backend, dev.Name(), dev.MemoryBytes()>>20)
	return a.dev, a.artifact, nil
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|) computed on the device.
//
// The per-element products and the three sums are computed by the kernel;
// the final division runs on the host. Results can differ from
// vector.CosineSimilarity in the low-order bits because the device sums in
// a different order. Empty vectors score NaN without touching the device,
// as on the CPU. Vectors of different length fail with
// vector.ErrDimensionMismatch before any device work. Device failures
// return *AcceleratorError.
func (a *Accelerator) CosineSimilarity(x, y []float32) (score float32, err error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d != %d", vector.ErrDimensionMismatch, len(x), len(y))
	}

	dev, artifact, err := a.context()
	if err != nil {
		return 0, err
	}

	a.callMu.Lock()
	defer a.callMu.Unlock()
	// Release holds both locks when it sets released.
	if a.released {
		return 0, a.fail(StageInit, "", ErrReleased)
	}

	start := time.Now()
	defer func() {
		a.metrics.RecordOperation(context.Background(), "accelerator", metrics.Status(err), time.Since(start).Milliseconds())
	}()

	n := len(x)
	if n == 0 {
		// Nothing to upload; both magnitudes are zero.
		a.count(func(s *AcceleratorStats) { s.Comparisons++ })
		return vector.Combine(0, 0, 0), nil
	}
	if n > math.MaxInt32 {
		return 0, a.fail(StageLaunch, "", fmt.Errorf("%w: %d", ErrVectorTooLong, n))
	}

	// Transfer in.
	t := time.Now()
	bufA, err := dev.Upload(x)
	if err != nil {
		return 0, a.fail(StageTransfer, "upload a", err)
	}
	defer bufA.Release()
	bufB, err := dev.Upload(y)
	if err != nil {
		return 0, a.fail(StageTransfer, "upload b", err)
	}
	defer bufB.Release()

	var acc [3]driver.Buffer
	for i, name := range accumulatorNames {
		buf, err := dev.Upload([]float32{0})
		if err != nil {
			return 0, a.fail(StageTransfer, "allocate "+name, err)
		}
		defer buf.Release()
		acc[i] = buf
	}
	a.count(func(s *AcceleratorStats) { s.BytesUploaded += int64(2*n+len(acc)) * 4 })
	a.stage(StageTransfer, t)

	// Kernel load.
	t = time.Now()
	k, err := dev.LoadKernel(artifact, kernels.Entry)
	if err != nil {
		return 0, a.fail(StageKernelLoad, kernels.Entry, err)
	}
	defer k.Release()
	a.stage(StageKernelLoad, t)

	// Launch; returns after the device completes.
	t = time.Now()
	geom := ComputeGeometry(n)
	err = dev.Launch(k, geom, driver.ReductionArgs{
		A: bufA, B: bufB,
		Dot: acc[0], MagA: acc[1], MagB: acc[2],
		N: int32(n),
	})
	if err != nil {
		return 0, a.fail(StageLaunch, geom.String(), err)
	}
	a.count(func(s *AcceleratorStats) { s.KernelExecutions++ })
	a.stage(StageLaunch, t)

	// Transfer out.
	t = time.Now()
	var sums [3]float32
	out := make([]float32, 1)
	for i, buf := range acc {
		if err := dev.Download(buf, out); err != nil {
			return 0, a.fail(StageTransfer, "download "+accumulatorNames[i], err)
		}
		sums[i] = out[0]
	}
	a.count(func(s *AcceleratorStats) {
		s.BytesDownloaded += int64(len(sums)) * 4
		s.Comparisons++
	})
	a.stage(StageTransfer, t)

	return vector.Combine(sums[0], sums[1], sums[2]), nil
}

var accumulatorNames = [3]string{"dot", "magA", "magB"}

// fail records and wraps a stage failure.
func (a *Accelerator) fail(stage Stage, op string, err error) error {
	a.count(func(s *AcceleratorStats) {
		switch stage {
		case StageInit:
			s.InitFailures++
		case StageTransfer:
			s.TransferFailures++
		case StageKernelLoad:
			s.KernelLoadFailures++
		case StageLaunch:
			s.LaunchFailures++
		}
	})
	a.metrics.RecordError(context.Background(), "accelerator", string(stage))
	if stage == StageInit {
		a.logger.Printf("[GPU] ⚠️ init failed: %v", err)
	}
	return &AcceleratorError{Stage: stage, Op: op, Err: err}
}

func (a *Accelerator) stage(stage Stage, start time.Time) {
	a.metrics.RecordStage(context.Background(), "accelerator", string(stage), time.Since(start).Milliseconds())
}

func (a *Accelerator) count(fn func(*AcceleratorStats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}

// Release destroys the device context. Later calls fail with ErrReleased.
func (a *Accelerator) Release() {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	// Wait for an in-flight comparison to finish with the context.
	a.callMu.Lock()
	defer a.callMu.Unlock()

	if a.dev != nil {
		a.dev.Release()
		a.dev = nil
	}
	a.backend = BackendNone
	a.released = true
}

// IsEnabled returns whether a device context is live.
func (a *Accelerator) IsEnabled() bool {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.dev != nil
}

// Backend returns the active backend, or BackendNone before init.
func (a *Accelerator) Backend() Backend {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.backend
}

// DeviceName returns the device name, or "CPU" before init.
func (a *Accelerator) DeviceName() string {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.dev == nil {
		return "CPU"
	}
	return a.dev.Name()
}

// DeviceMemoryMB returns device memory in megabytes.
func (a *Accelerator) DeviceMemoryMB() int {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.dev == nil {
		return 0
	}
	return int(a.dev.MemoryBytes() >> 20)
}

// Stats returns device usage statistics.
func (a *Accelerator) Stats() AcceleratorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}
