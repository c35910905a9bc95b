// Package emulator is a software device that executes the cosine reduction
// kernel on goroutines.
//
// It implements the same driver contract as the CUDA and OpenCL drivers and
// runs the same algorithm as cosine_similarity.cu: one goroutine per block,
// a shared-memory style tree reduction inside the block, and an atomic float
// add of each block's partial sums into the global accumulators. Blocks run
// concurrently, so accumulation order differs from call to call just as it
// does on real hardware.
//
// The emulator is never picked by auto-detection. Select it explicitly with
// the "emulator" backend. It exists for parity testing on machines without a
// GPU and for exercising every failure path of the pipeline: memory limits
// and per-operation fault injection are configurable through Options.
//
// Example:
//
//	dev := emulator.New(emulator.Options{MemoryBytes: 64 << 20})
//	defer dev.Release()
//
//	buf, err := dev.Upload([]float32{1, 2, 3})
package emulator

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
)

// Errors
var (
	ErrBufferCreation  = errors.New("emulator: failed to create buffer")
	ErrOutOfMemory     = errors.New("emulator: out of device memory")
	ErrInvalidBuffer   = errors.New("emulator: invalid buffer")
	ErrKernelLoad      = errors.New("emulator: failed to load kernel")
	ErrKernelExecution = errors.New("emulator: kernel execution failed")
	ErrInvalidLaunch   = errors.New("emulator: invalid launch configuration")
	ErrReleased        = errors.New("emulator: device released")
	ErrNoDevice        = errors.New("emulator: no such device")
	ErrInjected        = errors.New("emulator: injected fault")
)

// Limits mirror a typical compute capability 5.x device.
const (
	MaxThreadsPerBlock = 1024
	MaxGridX           = math.MaxInt32
	MaxGridYZ          = 65535
)

// Op names a device operation for fault injection.
type Op string

const (
	OpUpload   Op = "upload"
	OpDownload Op = "download"
	OpLoad     Op = "load"
	OpLaunch   Op = "launch"
)

// Options configures an emulated device.
type Options struct {
	// Name is reported by Name(). Defaults to "vecrank emulator".
	Name string

	// MemoryBytes caps live allocations. 0 means 1 GiB.
	MemoryBytes uint64

	// Workers bounds how many blocks execute at once. 0 means GOMAXPROCS.
	Workers int

	// Fail makes the named operation fail with ErrInjected. The count is
	// the number of successful calls allowed before failing; use 0 to fail
	// the first call.
	Fail map[Op]int
}

// Device is an emulated accelerator context.
type Device struct {
	name     string
	capacity uint64
	workers  int

	mu       sync.Mutex
	used     uint64
	live     int
	released bool
	calls    map[Op]int
	fail     map[Op]int
}

// New creates an emulated device.
func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "vecrank emulator"
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = 1 << 30
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	fail := make(map[Op]int, len(opts.Fail))
	for op, n := range opts.Fail {
		fail[op] = n
	}
	return &Device{
		name:     opts.Name,
		capacity: opts.MemoryBytes,
		workers:  opts.Workers,
		calls:    make(map[Op]int),
		fail:     fail,
	}
}

// IsAvailable reports true: the emulator needs no hardware.
func IsAvailable() bool {
	return true
}

// Open returns a new emulated device. deviceID is accepted for symmetry
// with the hardware drivers; only 0 exists.
func Open(deviceID int, opts Options) (*Device, error) {
	if deviceID != 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, deviceID)
	}
	return New(opts), nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// MemoryBytes returns the emulated memory capacity.
func (d *Device) MemoryBytes() uint64 { return d.capacity }

// LiveAllocations returns the number of buffers and kernels not yet
// released.
func (d *Device) LiveAllocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// UsedBytes returns bytes held by live buffers.
func (d *Device) UsedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// check counts a call to op and reports an injected fault or a released
// device. Must be called with d.mu held.
func (d *Device) check(op Op) error {
	if d.released {
		return ErrReleased
	}
	n := d.calls[op]
	d.calls[op] = n + 1
	if limit, ok := d.fail[op]; ok && n >= limit {
		return fmt.Errorf("%w: %s", ErrInjected, op)
	}
	return nil
}

// Buffer is emulated device memory. Values are held as IEEE 754 bits so
// accumulators can be updated with compare-and-swap.
type Buffer struct {
	dev  *Device
	data []uint32
	once sync.Once
}

// Len returns the element count.
func (b *Buffer) Len() int { return len(b.data) }

// Release frees the buffer. Safe to call twice.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.dev.mu.Lock()
		b.dev.used -= uint64(len(b.data)) * 4
		b.dev.live--
		b.dev.mu.Unlock()
		b.data = nil
	})
}

// Upload allocates a buffer sized to data and copies data into it.
func (d *Device) Upload(data []float32) (driver.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}

	size := uint64(len(data)) * 4

	d.mu.Lock()
	if err := d.check(OpUpload); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrBufferCreation, err)
	}
	if d.used+size > d.capacity {
		used := d.used
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %w: %d bytes requested, %d of %d in use",
			ErrBufferCreation, ErrOutOfMemory, size, used, d.capacity)
	}
	d.used += size
	d.live++
	d.mu.Unlock()

	buf := &Buffer{dev: d, data: make([]uint32, len(data))}
	for i, v := range data {
		buf.data[i] = math.Float32bits(v)
	}
	return buf, nil
}

// Download copies len(dst) elements of buf into dst.
func (d *Device) Download(buf driver.Buffer, dst []float32) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}

	d.mu.Lock()
	err = d.check(OpDownload)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if len(dst) > len(b.data) {
		return fmt.Errorf("%w: read of %d elements from buffer of %d", ErrInvalidBuffer, len(dst), len(b.data))
	}
	for i := range dst {
		dst[i] = math.Float32frombits(atomic.LoadUint32(&b.data[i]))
	}
	return nil
}

func (d *Device) own(buf driver.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.dev != d {
		return nil, fmt.Errorf("%w: buffer does not belong to this device", ErrInvalidBuffer)
	}
	if b.data == nil {
		return nil, fmt.Errorf("%w: buffer already released", ErrInvalidBuffer)
	}
	return b, nil
}

// Kernel is a loaded entry point.
type Kernel struct {
	dev   *Device
	entry string
	once  sync.Once
	dead  atomic.Bool
}

// Entry returns the entry point name.
func (k *Kernel) Entry() string { return k.entry }

// Release unloads the kernel. Safe to call twice.
func (k *Kernel) Release() {
	k.once.Do(func() {
		k.dead.Store(true)
		k.dev.mu.Lock()
		k.dev.live--
		k.dev.mu.Unlock()
	})
}

// LoadKernel validates a PTX artifact and binds entry to the emulated
// reduction. The artifact must contain entry with the reduction signature.
func (d *Device) LoadKernel(artifact []byte, entry string) (driver.Kernel, error) {
	d.mu.Lock()
	err := d.check(OpLoad)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}

	mod, err := kernels.ParsePTX(artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}
	e, err := mod.Lookup(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}
	if err := kernels.CheckReduction(e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}

	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	return &Kernel{dev: d, entry: entry}, nil
}

func validateGeometry(g driver.Geometry) error {
	b, gr := g.Block, g.Grid
	switch {
	case b.X == 0 || b.Y == 0 || b.Z == 0 || gr.X == 0 || gr.Y == 0 || gr.Z == 0:
		return fmt.Errorf("%w: zero extent in %s", ErrInvalidLaunch, g)
	case b.Count() > MaxThreadsPerBlock:
		return fmt.Errorf("%w: %d threads per block exceeds %d", ErrInvalidLaunch, b.Count(), MaxThreadsPerBlock)
	case uint64(gr.X) > MaxGridX || gr.Y > MaxGridYZ || gr.Z > MaxGridYZ:
		return fmt.Errorf("%w: grid %s exceeds device limits", ErrInvalidLaunch, gr)
	case b.Y != 1 || b.Z != 1 || gr.Y != 1 || gr.Z != 1:
		return fmt.Errorf("%w: reduction kernel is 1-D, got %s", ErrInvalidLaunch, g)
	case b.X > kernels.BlockLimit || bits.OnesCount32(b.X) != 1:
		return fmt.Errorf("%w: block width %d must be a power of two <= %d",
			ErrInvalidLaunch, b.X, kernels.BlockLimit)
	}
	return nil
}

// Launch runs the reduction kernel and returns when every block finished.
func (d *Device) Launch(k driver.Kernel, g driver.Geometry, args driver.ReductionArgs) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil || kern.dev != d || kern.dead.Load() {
		return fmt.Errorf("%w: invalid kernel handle", ErrKernelExecution)
	}

	d.mu.Lock()
	err := d.check(OpLaunch)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKernelExecution, err)
	}

	if err := validateGeometry(g); err != nil {
		return err
	}
	if args.N < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidLaunch, args.N)
	}

	var bufs [5]*Buffer
	for i, buf := range []driver.Buffer{args.A, args.B, args.Dot, args.MagA, args.MagB} {
		b, err := d.own(buf)
		if err != nil {
			return fmt.Errorf("%w: param %d: %v", ErrKernelExecution, i, err)
		}
		bufs[i] = b
	}
	a, b, dot, magA, magB := bufs[0], bufs[1], bufs[2], bufs[3], bufs[4]

	n := int(args.N)
	// Out-of-bounds reads would be a device fault on real hardware.
	if len(a.data) < n || len(b.data) < n {
		return fmt.Errorf("%w: length %d exceeds input buffers (%d, %d)",
			ErrKernelExecution, n, len(a.data), len(b.data))
	}

	width := int(g.Block.X)
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for block := 0; block < int(g.Grid.X); block++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(block int) {
			defer wg.Done()
			defer func() { <-sem }()
			runBlock(block, width, n, a.data, b.data, dot.data, magA.data, magB.data)
		}(block)
	}
	wg.Wait()
	return nil
}

// runBlock executes one thread block of cosine_similarity.cu.
func runBlock(block, width, n int, a, b, dot, magA, magB []uint32) {
	var sDot, sA, sB [kernels.BlockLimit]float32

	for tid := 0; tid < width; tid++ {
		idx := block*width + tid
		var x, y float32
		if idx < n {
			x = math.Float32frombits(a[idx])
			y = math.Float32frombits(b[idx])
		}
		sDot[tid] = x * y
		sA[tid] = x * x
		sB[tid] = y * y
	}

	for s := width >> 1; s > 0; s >>= 1 {
		for tid := 0; tid < s; tid++ {
			sDot[tid] += sDot[tid+s]
			sA[tid] += sA[tid+s]
			sB[tid] += sB[tid+s]
		}
	}

	atomicAddFloat32(&dot[0], sDot[0])
	atomicAddFloat32(&magA[0], sA[0])
	atomicAddFloat32(&magB[0], sB[0])
}

func atomicAddFloat32(addr *uint32, v float32) {
	for {
		old := atomic.LoadUint32(addr)
		next := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(addr, old, next) {
			return
		}
	}
}

// Release marks the device released. Outstanding buffers and kernels stay
// valid Go objects but every further device call fails with ErrReleased.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}
