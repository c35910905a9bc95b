//go:build cuda && (linux || windows)
// +build cuda
// +build linux windows

// Package cuda provides NVIDIA GPU acceleration using the CUDA driver API.
package cuda

/*
#cgo linux CFLAGS: -I/usr/local/cuda/include -I/usr/include
#cgo linux LDFLAGS: -L/usr/local/cuda/lib64 -L/usr/lib/x86_64-linux-gnu -lcuda
#cgo windows CFLAGS: -I"C:/Program Files/NVIDIA GPU Computing Toolkit/CUDA/v12.0/include"
#cgo windows LDFLAGS: -L"C:/Program Files/NVIDIA GPU Computing Toolkit/CUDA/v12.0/lib/x64" -lcuda

#include <cuda.h>
#include <stdlib.h>
#include <string.h>
#include <stdio.h>

static char cuda_last_error[512] = {0};

static void cuda_set_error(const char* what, CUresult res) {
    const char* name = NULL;
    cuGetErrorName(res, &name);
    snprintf(cuda_last_error, sizeof(cuda_last_error), "%s: %s", what, name ? name : "unknown");
}

const char* cuda_get_last_error() {
    return cuda_last_error;
}

void cuda_clear_error() {
    cuda_last_error[0] = 0;
}

int cuda_init() {
    CUresult res = cuInit(0);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuInit", res);
        return -1;
    }
    return 0;
}

int cuda_device_count() {
    int count = 0;
    if (cuDeviceGetCount(&count) != CUDA_SUCCESS) {
        return 0;
    }
    return count;
}

typedef struct {
    CUdevice device;
    CUcontext context;
    char name[256];
    size_t memory;
    int major;
    int minor;
} CUDADevice;

CUDADevice* cuda_create_device(int index) {
    CUDADevice* dev = (CUDADevice*)calloc(1, sizeof(CUDADevice));
    if (!dev) {
        snprintf(cuda_last_error, sizeof(cuda_last_error), "out of host memory");
        return NULL;
    }

    CUresult res = cuDeviceGet(&dev->device, index);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuDeviceGet", res);
        free(dev);
        return NULL;
    }

    res = cuCtxCreate(&dev->context, 0, dev->device);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuCtxCreate", res);
        free(dev);
        return NULL;
    }
    cuCtxPopCurrent(NULL);

    if (cuDeviceGetName(dev->name, sizeof(dev->name), dev->device) != CUDA_SUCCESS) {
        strncpy(dev->name, "Unknown", sizeof(dev->name) - 1);
    }
    cuDeviceTotalMem(&dev->memory, dev->device);
    cuDeviceGetAttribute(&dev->major, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MAJOR, dev->device);
    cuDeviceGetAttribute(&dev->minor, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MINOR, dev->device);
    return dev;
}

void cuda_release_device(CUDADevice* dev) {
    if (dev) {
        if (dev->context) cuCtxDestroy(dev->context);
        free(dev);
    }
}

int cuda_push(CUDADevice* dev) {
    CUresult res = cuCtxPushCurrent(dev->context);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuCtxPushCurrent", res);
        return -1;
    }
    return 0;
}

void cuda_pop() {
    cuCtxPopCurrent(NULL);
}

// Memory. Callers hold the context.
int cuda_upload(const float* host, size_t count, CUdeviceptr* out) {
    CUresult res = cuMemAlloc(out, count * sizeof(float));
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuMemAlloc", res);
        return -1;
    }
    res = cuMemcpyHtoD(*out, host, count * sizeof(float));
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuMemcpyHtoD", res);
        cuMemFree(*out);
        *out = 0;
        return -2;
    }
    return 0;
}

int cuda_download(CUdeviceptr src, float* host, size_t count) {
    CUresult res = cuMemcpyDtoH(host, src, count * sizeof(float));
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuMemcpyDtoH", res);
        return -1;
    }
    return 0;
}

void cuda_free(CUdeviceptr ptr) {
    if (ptr) cuMemFree(ptr);
}

// Modules. image must be NUL-terminated PTX.
int cuda_load(const char* image, const char* entry, CUmodule* mod, CUfunction* fn) {
    CUresult res = cuModuleLoadData(mod, image);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuModuleLoadData", res);
        return -1;
    }
    res = cuModuleGetFunction(fn, *mod, entry);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuModuleGetFunction", res);
        cuModuleUnload(*mod);
        *mod = NULL;
        return -2;
    }
    return 0;
}

void cuda_unload(CUmodule mod) {
    if (mod) cuModuleUnload(mod);
}

int cuda_launch_reduction(CUfunction fn,
                          unsigned int gx, unsigned int gy, unsigned int gz,
                          unsigned int bx, unsigned int by, unsigned int bz,
                          CUdeviceptr a, CUdeviceptr b,
                          CUdeviceptr dot, CUdeviceptr mag_a, CUdeviceptr mag_b,
                          int n) {
    void* params[] = { &a, &b, &dot, &mag_a, &mag_b, &n };
    CUresult res = cuLaunchKernel(fn, gx, gy, gz, bx, by, bz, 0, NULL, params, NULL);
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuLaunchKernel", res);
        return -1;
    }
    res = cuCtxSynchronize();
    if (res != CUDA_SUCCESS) {
        cuda_set_error("cuCtxSynchronize", res);
        return -2;
    }
    return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
)

// Errors
var (
	ErrCUDANotAvailable = errors.New("cuda: CUDA is not available on this system")
	ErrDeviceCreation   = errors.New("cuda: failed to create CUDA context")
	ErrBufferCreation   = errors.New("cuda: failed to create buffer")
	ErrTransfer         = errors.New("cuda: memory transfer failed")
	ErrKernelLoad       = errors.New("cuda: failed to load kernel")
	ErrKernelExecution  = errors.New("cuda: kernel execution failed")
	ErrInvalidBuffer    = errors.New("cuda: invalid buffer")
)

var (
	initOnce sync.Once
	initErr  error
)

// initDriver calls cuInit exactly once per process.
func initDriver() error {
	initOnce.Do(func() {
		if C.cuda_init() != 0 {
			initErr = fmt.Errorf("%w: %s", ErrCUDANotAvailable, lastError())
		}
	})
	return initErr
}

func lastError() string {
	msg := C.GoString(C.cuda_get_last_error())
	C.cuda_clear_error()
	return msg
}

// Device is a CUDA context on one GPU.
type Device struct {
	ptr    *C.CUDADevice
	id     int
	name   string
	memory uint64
	major  int
	minor  int
	mu     sync.Mutex
}

// Buffer is device memory holding float32 values.
type Buffer struct {
	ptr    C.CUdeviceptr
	count  int
	device *Device
	once   sync.Once
}

// Kernel is a loaded module and its entry point.
type Kernel struct {
	mod    C.CUmodule
	fn     C.CUfunction
	entry  string
	device *Device
	once   sync.Once
}

// IsAvailable reports whether the driver initialises and sees a GPU.
func IsAvailable() bool {
	return initDriver() == nil && C.cuda_device_count() > 0
}

// DeviceCount returns the number of CUDA devices.
func DeviceCount() int {
	if initDriver() != nil {
		return 0
	}
	return int(C.cuda_device_count())
}

// Open creates a context on the given device.
func Open(deviceID int) (*Device, error) {
	if err := initDriver(); err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= DeviceCount() {
		return nil, fmt.Errorf("%w: no device %d", ErrCUDANotAvailable, deviceID)
	}

	ptr := C.cuda_create_device(C.int(deviceID))
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceCreation, lastError())
	}

	return &Device{
		ptr:    ptr,
		id:     deviceID,
		name:   C.GoString(&ptr.name[0]),
		memory: uint64(ptr.memory),
		major:  int(ptr.major),
		minor:  int(ptr.minor),
	}, nil
}

// Release destroys the context. Buffers and kernels must be released first.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ptr != nil {
		C.cuda_release_device(d.ptr)
		d.ptr = nil
	}
}

// Name returns the GPU name.
func (d *Device) Name() string { return d.name }

// MemoryBytes returns total device memory.
func (d *Device) MemoryBytes() uint64 { return d.memory }

// ComputeCapability returns the major and minor compute capability.
func (d *Device) ComputeCapability() (int, int) { return d.major, d.minor }

// with runs fn with this device's context current on a locked OS thread.
func (d *Device) with(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ptr == nil {
		return fmt.Errorf("%w: device released", ErrDeviceCreation)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if C.cuda_push(d.ptr) != 0 {
		return fmt.Errorf("%w: %s", ErrDeviceCreation, lastError())
	}
	defer C.cuda_pop()
	return fn()
}

// Upload allocates device memory and copies data into it.
func (d *Device) Upload(data []float32) (driver.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}

	buf := &Buffer{count: len(data), device: d}
	err := d.with(func() error {
		rc := C.cuda_upload((*C.float)(unsafe.Pointer(&data[0])), C.size_t(len(data)), &buf.ptr)
		switch rc {
		case 0:
			return nil
		case -1:
			return fmt.Errorf("%w: %s", ErrBufferCreation, lastError())
		default:
			return fmt.Errorf("%w: %s", ErrTransfer, lastError())
		}
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Download copies len(dst) elements of buf into dst.
func (d *Device) Download(buf driver.Buffer, dst []float32) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if len(dst) > b.count {
		return fmt.Errorf("%w: read of %d elements from buffer of %d", ErrInvalidBuffer, len(dst), b.count)
	}
	return d.with(func() error {
		if C.cuda_download(b.ptr, (*C.float)(unsafe.Pointer(&dst[0])), C.size_t(len(dst))) != 0 {
			return fmt.Errorf("%w: %s", ErrTransfer, lastError())
		}
		return nil
	})
}

func (d *Device) own(buf driver.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.device != d || b.ptr == 0 {
		return nil, ErrInvalidBuffer
	}
	return b, nil
}

// Len returns the element count.
func (b *Buffer) Len() int { return b.count }

// Release frees device memory.
func (b *Buffer) Release() {
	b.once.Do(func() {
		_ = b.device.with(func() error {
			C.cuda_free(b.ptr)
			return nil
		})
		b.ptr = 0
	})
}

// LoadKernel JIT-compiles a PTX artifact and resolves entry.
func (d *Device) LoadKernel(artifact []byte, entry string) (driver.Kernel, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrKernelLoad)
	}

	// cuModuleLoadData expects a NUL-terminated image.
	image := C.CString(string(artifact))
	defer C.free(unsafe.Pointer(image))
	cEntry := C.CString(entry)
	defer C.free(unsafe.Pointer(cEntry))

	k := &Kernel{entry: entry, device: d}
	err := d.with(func() error {
		if C.cuda_load(image, cEntry, &k.mod, &k.fn) != 0 {
			return fmt.Errorf("%w: %s", ErrKernelLoad, lastError())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Entry returns the entry point name.
func (k *Kernel) Entry() string { return k.entry }

// Release unloads the module.
func (k *Kernel) Release() {
	k.once.Do(func() {
		_ = k.device.with(func() error {
			C.cuda_unload(k.mod)
			return nil
		})
		k.mod = nil
	})
}

// Launch runs the reduction kernel and waits for it to finish.
func (d *Device) Launch(k driver.Kernel, g driver.Geometry, args driver.ReductionArgs) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil || kern.device != d || kern.mod == nil {
		return fmt.Errorf("%w: invalid kernel handle", ErrKernelExecution)
	}

	var ptrs [5]C.CUdeviceptr
	for i, buf := range []driver.Buffer{args.A, args.B, args.Dot, args.MagA, args.MagB} {
		b, err := d.own(buf)
		if err != nil {
			return fmt.Errorf("%w: param %d: %v", ErrKernelExecution, i, err)
		}
		ptrs[i] = b.ptr
	}

	return d.with(func() error {
		rc := C.cuda_launch_reduction(kern.fn,
			C.uint(g.Grid.X), C.uint(g.Grid.Y), C.uint(g.Grid.Z),
			C.uint(g.Block.X), C.uint(g.Block.Y), C.uint(g.Block.Z),
			ptrs[0], ptrs[1], ptrs[2], ptrs[3], ptrs[4], C.int(args.N))
		if rc != 0 {
			return fmt.Errorf("%w: %s", ErrKernelExecution, lastError())
		}
		return nil
	})
}
