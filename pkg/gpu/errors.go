package gpu

import (
	"errors"
	"fmt"
)

// Stage is the pipeline step an accelerator failure happened in.
type Stage string

const (
	StageInit       Stage = "init"
	StageTransfer   Stage = "transfer"
	StageKernelLoad Stage = "kernel_load"
	StageLaunch     Stage = "launch"
)

// Stage sentinels. An *AcceleratorError matches exactly one of them with
// errors.Is.
var (
	ErrInitFailed       = errors.New("gpu: accelerator initialisation failed")
	ErrTransferFailed   = errors.New("gpu: device transfer failed")
	ErrKernelLoadFailed = errors.New("gpu: kernel load failed")
	ErrLaunchFailed     = errors.New("gpu: kernel launch failed")
)

// Init causes.
var (
	ErrGPUDisabled      = errors.New("gpu: acceleration disabled")
	ErrGPUNotAvailable  = errors.New("gpu: no accelerator available")
	ErrReleased         = errors.New("gpu: accelerator released")
	ErrVectorTooLong    = errors.New("gpu: vector length exceeds int32")
	ErrUnknownBackend   = errors.New("gpu: unknown backend")
	errNilDriverContext = errors.New("gpu: driver returned nil context")
)

func (s Stage) sentinel() error {
	switch s {
	case StageInit:
		return ErrInitFailed
	case StageTransfer:
		return ErrTransferFailed
	case StageKernelLoad:
		return ErrKernelLoadFailed
	case StageLaunch:
		return ErrLaunchFailed
	}
	return nil
}

// AcceleratorError is returned by every failing accelerator call.
//
// errors.Is matches the stage sentinel (ErrTransferFailed etc.) as well as
// anything in the driver's cause chain.
type AcceleratorError struct {
	Stage Stage
	Op    string // e.g. "upload a", "download dot"
	Err   error
}

func (e *AcceleratorError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Stage.sentinel(), e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", e.Stage.sentinel(), e.Op, e.Err)
}

func (e *AcceleratorError) Unwrap() error { return e.Err }

// Is reports whether target is this error's stage sentinel.
func (e *AcceleratorError) Is(target error) bool {
	return target != nil && target == e.Stage.sentinel()
}

// StageOf returns the stage of an accelerator error anywhere in err's chain.
func StageOf(err error) (Stage, bool) {
	var ae *AcceleratorError
	if errors.As(err, &ae) {
		return ae.Stage, true
	}
	return "", false
}
