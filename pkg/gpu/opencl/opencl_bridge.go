//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

// Package opencl provides cross-platform GPU acceleration using OpenCL.
package opencl

/*
#cgo linux CFLAGS: -I/opt/rocm/include -I/usr/include
#cgo linux LDFLAGS: -L/opt/rocm/lib -L/usr/lib/x86_64-linux-gnu -lOpenCL
#cgo darwin CFLAGS: -framework OpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL

#define CL_TARGET_OPENCL_VERSION 120
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
#include <string.h>
#include <stdio.h>

// Error handling
static char opencl_last_error[512] = {0};

void opencl_set_error(const char* msg) {
    strncpy(opencl_last_error, msg, sizeof(opencl_last_error) - 1);
}

const char* opencl_get_last_error() {
    return opencl_last_error;
}

void opencl_clear_error() {
    opencl_last_error[0] = 0;
}

const char* opencl_error_string(cl_int error) {
    switch (error) {
        case CL_SUCCESS: return "CL_SUCCESS";
        case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
        case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
        case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
        case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
        case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
        case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
        case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
        case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
        case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
        case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
        case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
        case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
        case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
        case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
        case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
        case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
        case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
        case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
        case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
        case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
        case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
        case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
        case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
        case CL_INVALID_WORK_ITEM_SIZE: return "CL_INVALID_WORK_ITEM_SIZE";
        default: return "Unknown OpenCL error";
    }
}

static void opencl_fail(const char* what, cl_int err) {
    char msg[256];
    snprintf(msg, sizeof(msg), "%s: %s", what, opencl_error_string(err));
    opencl_set_error(msg);
}

typedef struct {
    cl_platform_id platform;
    cl_device_id device;
    cl_context context;
    cl_command_queue queue;
    int device_id;
} OpenCLDevice;

// Get number of GPU devices across all platforms
int opencl_get_device_count() {
    cl_uint num_platforms;
    cl_int err = clGetPlatformIDs(0, NULL, &num_platforms);
    if (err != CL_SUCCESS || num_platforms == 0) {
        return 0;
    }

    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int total_devices = 0;
    for (cl_uint i = 0; i < num_platforms; i++) {
        cl_uint num_devices;
        err = clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, 0, NULL, &num_devices);
        if (err == CL_SUCCESS) {
            total_devices += num_devices;
        }
    }

    free(platforms);
    return total_devices;
}

int opencl_is_available() {
    return opencl_get_device_count() > 0 ? 1 : 0;
}

// Get Nth GPU device across all platforms
int opencl_get_device_by_index(int index, cl_platform_id* out_platform, cl_device_id* out_device) {
    cl_uint num_platforms;
    cl_int err = clGetPlatformIDs(0, NULL, &num_platforms);
    if (err != CL_SUCCESS || num_platforms == 0) {
        return -1;
    }

    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int current_index = 0;
    for (cl_uint i = 0; i < num_platforms; i++) {
        cl_uint num_devices;
        err = clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, 0, NULL, &num_devices);
        if (err != CL_SUCCESS) continue;

        if (index < current_index + (int)num_devices) {
            cl_device_id* devices = (cl_device_id*)malloc(num_devices * sizeof(cl_device_id));
            clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, num_devices, devices, NULL);
            *out_platform = platforms[i];
            *out_device = devices[index - current_index];
            free(devices);
            free(platforms);
            return 0;
        }
        current_index += num_devices;
    }

    free(platforms);
    return -1;
}

OpenCLDevice* opencl_create_device(int device_id) {
    OpenCLDevice* dev = (OpenCLDevice*)calloc(1, sizeof(OpenCLDevice));
    if (!dev) {
        opencl_set_error("Failed to allocate device structure");
        return NULL;
    }
    dev->device_id = device_id;

    if (opencl_get_device_by_index(device_id, &dev->platform, &dev->device) != 0) {
        opencl_set_error("Device not found");
        free(dev);
        return NULL;
    }

    cl_int err;
    dev->context = clCreateContext(NULL, 1, &dev->device, NULL, NULL, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("clCreateContext", err);
        free(dev);
        return NULL;
    }

    dev->queue = clCreateCommandQueue(dev->context, dev->device, 0, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("clCreateCommandQueue", err);
        clReleaseContext(dev->context);
        free(dev);
        return NULL;
    }

    return dev;
}

void opencl_release_device(OpenCLDevice* dev) {
    if (dev) {
        if (dev->queue) clReleaseCommandQueue(dev->queue);
        if (dev->context) clReleaseContext(dev->context);
        free(dev);
    }
}

const char* opencl_device_name(OpenCLDevice* dev) {
    static char name[256];
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_NAME, sizeof(name), name, NULL);
    if (err != CL_SUCCESS) {
        return "Unknown";
    }
    return name;
}

const char* opencl_device_vendor(OpenCLDevice* dev) {
    static char vendor[256];
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_VENDOR, sizeof(vendor), vendor, NULL);
    if (err != CL_SUCCESS) {
        return "Unknown";
    }
    return vendor;
}

size_t opencl_device_memory(OpenCLDevice* dev) {
    cl_ulong mem_size;
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_GLOBAL_MEM_SIZE, sizeof(mem_size), &mem_size, NULL);
    if (err != CL_SUCCESS) {
        return 0;
    }
    return (size_t)mem_size;
}

// Buffers
cl_mem opencl_upload(OpenCLDevice* dev, const float* data, size_t count) {
    cl_int err;
    cl_mem mem = clCreateBuffer(dev->context, CL_MEM_READ_WRITE | CL_MEM_COPY_HOST_PTR,
                                count * sizeof(float), (void*)data, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("clCreateBuffer", err);
        return NULL;
    }
    return mem;
}

int opencl_download(OpenCLDevice* dev, cl_mem mem, float* out, size_t count) {
    cl_int err = clEnqueueReadBuffer(dev->queue, mem, CL_TRUE, 0, count * sizeof(float), out, 0, NULL, NULL);
    if (err != CL_SUCCESS) {
        opencl_fail("clEnqueueReadBuffer", err);
        return -1;
    }
    return 0;
}

void opencl_release_buffer(cl_mem mem) {
    if (mem) clReleaseMemObject(mem);
}

// Programs
int opencl_build(OpenCLDevice* dev, const char* source, const char* entry,
                 cl_program* out_program, cl_kernel* out_kernel) {
    cl_int err;
    cl_program program = clCreateProgramWithSource(dev->context, 1, &source, NULL, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("clCreateProgramWithSource", err);
        return -1;
    }

    err = clBuildProgram(program, 1, &dev->device, "-cl-std=CL1.2", NULL, NULL);
    if (err != CL_SUCCESS) {
        size_t log_size = 0;
        clGetProgramBuildInfo(program, dev->device, CL_PROGRAM_BUILD_LOG, 0, NULL, &log_size);
        char* log = (char*)malloc(log_size + 1);
        clGetProgramBuildInfo(program, dev->device, CL_PROGRAM_BUILD_LOG, log_size, log, NULL);
        log[log_size] = '\0';

        char msg[256];
        snprintf(msg, sizeof(msg), "Failed to build program: %s", log);
        opencl_set_error(msg);

        free(log);
        clReleaseProgram(program);
        return -1;
    }

    cl_kernel kernel = clCreateKernel(program, entry, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("clCreateKernel", err);
        clReleaseProgram(program);
        return -1;
    }

    *out_program = program;
    *out_kernel = kernel;
    return 0;
}

void opencl_release_program(cl_program program, cl_kernel kernel) {
    if (kernel) clReleaseKernel(kernel);
    if (program) clReleaseProgram(program);
}

int opencl_launch_reduction(OpenCLDevice* dev, cl_kernel kernel,
                            size_t global_size, size_t local_size,
                            cl_mem a, cl_mem b, cl_mem dot, cl_mem mag_a, cl_mem mag_b,
                            int n) {
    cl_int err = 0;
    err |= clSetKernelArg(kernel, 0, sizeof(cl_mem), &a);
    err |= clSetKernelArg(kernel, 1, sizeof(cl_mem), &b);
    err |= clSetKernelArg(kernel, 2, sizeof(cl_mem), &dot);
    err |= clSetKernelArg(kernel, 3, sizeof(cl_mem), &mag_a);
    err |= clSetKernelArg(kernel, 4, sizeof(cl_mem), &mag_b);
    err |= clSetKernelArg(kernel, 5, sizeof(int), &n);
    if (err != CL_SUCCESS) {
        opencl_set_error("Failed to set kernel arguments");
        return -1;
    }

    err = clEnqueueNDRangeKernel(dev->queue, kernel, 1, NULL, &global_size, &local_size, 0, NULL, NULL);
    if (err != CL_SUCCESS) {
        opencl_fail("clEnqueueNDRangeKernel", err);
        return -1;
    }

    err = clFinish(dev->queue);
    if (err != CL_SUCCESS) {
        opencl_fail("clFinish", err);
        return -1;
    }
    return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/orneryd/vecrank/pkg/gpu/driver"
)

// Errors
var (
	ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available on this system")
	ErrDeviceCreation     = errors.New("opencl: failed to create OpenCL device")
	ErrBufferCreation     = errors.New("opencl: failed to create buffer")
	ErrTransfer           = errors.New("opencl: memory transfer failed")
	ErrKernelLoad         = errors.New("opencl: failed to build kernel")
	ErrKernelExecution    = errors.New("opencl: kernel execution failed")
	ErrInvalidBuffer      = errors.New("opencl: invalid buffer")
)

// Device represents an OpenCL GPU device.
type Device struct {
	ptr    *C.OpenCLDevice
	id     int
	name   string
	vendor string
	memory uint64
	mu     sync.Mutex
}

// Buffer represents an OpenCL memory buffer.
type Buffer struct {
	mem    C.cl_mem
	count  int
	device *Device
	once   sync.Once
}

// Kernel is a built program and its kernel object.
type Kernel struct {
	program C.cl_program
	kernel  C.cl_kernel
	entry   string
	device  *Device
	once    sync.Once
}

func lastError() string {
	msg := C.GoString(C.opencl_get_last_error())
	C.opencl_clear_error()
	return msg
}

// IsAvailable checks if OpenCL is available on this system.
func IsAvailable() bool {
	return C.opencl_is_available() != 0
}

// DeviceCount returns the number of OpenCL GPU devices.
func DeviceCount() int {
	count := C.opencl_get_device_count()
	if count < 0 {
		return 0
	}
	return int(count)
}

// Open creates a context and command queue on the given device.
func Open(deviceID int) (*Device, error) {
	if !IsAvailable() {
		return nil, ErrOpenCLNotAvailable
	}

	ptr := C.opencl_create_device(C.int(deviceID))
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceCreation, lastError())
	}

	return &Device{
		ptr:    ptr,
		id:     deviceID,
		name:   C.GoString(C.opencl_device_name(ptr)),
		vendor: C.GoString(C.opencl_device_vendor(ptr)),
		memory: uint64(C.opencl_device_memory(ptr)),
	}, nil
}

// Release frees the OpenCL device resources.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ptr != nil {
		C.opencl_release_device(d.ptr)
		d.ptr = nil
	}
}

// ID returns the device ID.
func (d *Device) ID() int {
	return d.id
}

// Name returns the GPU device name.
func (d *Device) Name() string {
	return d.name
}

// Vendor returns the GPU vendor name.
func (d *Device) Vendor() string {
	return d.vendor
}

// MemoryBytes returns the GPU memory size in bytes.
func (d *Device) MemoryBytes() uint64 {
	return d.memory
}

func (d *Device) handle() (*C.OpenCLDevice, error) {
	if d.ptr == nil {
		return nil, fmt.Errorf("%w: device released", ErrDeviceCreation)
	}
	return d.ptr, nil
}

// Upload creates a buffer initialised with data.
func (d *Device) Upload(data []float32) (driver.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ptr, err := d.handle()
	if err != nil {
		return nil, err
	}

	mem := C.opencl_upload(ptr, (*C.float)(unsafe.Pointer(&data[0])), C.size_t(len(data)))
	if mem == nil {
		return nil, fmt.Errorf("%w: %s", ErrBufferCreation, lastError())
	}
	return &Buffer{mem: mem, count: len(data), device: d}, nil
}

// Download blocks until len(dst) elements of buf are read into dst.
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

	d.mu.Lock()
	defer d.mu.Unlock()
	ptr, err := d.handle()
	if err != nil {
		return err
	}
	if C.opencl_download(ptr, b.mem, (*C.float)(unsafe.Pointer(&dst[0])), C.size_t(len(dst))) != 0 {
		return fmt.Errorf("%w: %s", ErrTransfer, lastError())
	}
	return nil
}

func (d *Device) own(buf driver.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.device != d || b.mem == nil {
		return nil, ErrInvalidBuffer
	}
	return b, nil
}

// Len returns the element count.
func (b *Buffer) Len() int { return b.count }

// Release frees the buffer memory.
func (b *Buffer) Release() {
	b.once.Do(func() {
		C.opencl_release_buffer(b.mem)
		b.mem = nil
	})
}

// LoadKernel compiles OpenCL C source and creates the entry kernel.
func (d *Device) LoadKernel(artifact []byte, entry string) (driver.Kernel, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrKernelLoad)
	}

	src := C.CString(string(artifact))
	defer C.free(unsafe.Pointer(src))
	cEntry := C.CString(entry)
	defer C.free(unsafe.Pointer(cEntry))

	d.mu.Lock()
	defer d.mu.Unlock()
	ptr, err := d.handle()
	if err != nil {
		return nil, err
	}

	k := &Kernel{entry: entry, device: d}
	if C.opencl_build(ptr, src, cEntry, &k.program, &k.kernel) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrKernelLoad, lastError())
	}
	return k, nil
}

// Entry returns the kernel name.
func (k *Kernel) Entry() string { return k.entry }

// Release frees the kernel and its program.
func (k *Kernel) Release() {
	k.once.Do(func() {
		C.opencl_release_program(k.program, k.kernel)
		k.program = nil
		k.kernel = nil
	})
}

// Launch enqueues the reduction kernel and waits for the queue to drain.
func (d *Device) Launch(k driver.Kernel, g driver.Geometry, args driver.ReductionArgs) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil || kern.device != d || kern.kernel == nil {
		return fmt.Errorf("%w: invalid kernel handle", ErrKernelExecution)
	}
	if g.Block.Y != 1 || g.Block.Z != 1 || g.Grid.Y != 1 || g.Grid.Z != 1 {
		return fmt.Errorf("%w: reduction kernel is 1-D, got %s", ErrKernelExecution, g)
	}

	var mems [5]C.cl_mem
	for i, buf := range []driver.Buffer{args.A, args.B, args.Dot, args.MagA, args.MagB} {
		b, err := d.own(buf)
		if err != nil {
			return fmt.Errorf("%w: param %d: %v", ErrKernelExecution, i, err)
		}
		mems[i] = b.mem
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ptr, err := d.handle()
	if err != nil {
		return err
	}

	// OpenCL sizes the NDRange in work items, not groups.
	global := C.size_t(g.Threads())
	local := C.size_t(g.Block.X)
	rc := C.opencl_launch_reduction(ptr, kern.kernel, global, local,
		mems[0], mems[1], mems[2], mems[3], mems[4], C.int(args.N))
	if rc != 0 {
		return fmt.Errorf("%w: %s", ErrKernelExecution, lastError())
	}
	return nil
}
