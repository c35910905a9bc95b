package similarity

import (
	"fmt"
	"strings"

	"github.com/orneryd/vecrank/pkg/gpu"
	"github.com/orneryd/vecrank/pkg/vector"
)

// Kind selects where scores are computed.
type Kind string

const (
	KindCPU         Kind = "cpu"
	KindAccelerator Kind = "accelerator"
)

// ParseKind parses a backend kind. "gpu" is accepted for accelerator.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return KindCPU, nil
	case "accelerator", "gpu":
		return KindAccelerator, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Backend computes one similarity score.
type Backend interface {
	Kind() Kind

	// Prepare is called once per request before any Score. An error fails
	// the whole request.
	Prepare() error

	// Score returns the cosine similarity of a and b.
	Score(a, b vector.Vector) (float32, error)
}

// CPUBackend scores with vector.CosineSimilarity. Safe for concurrent use.
type CPUBackend struct{}

func (CPUBackend) Kind() Kind     { return KindCPU }
func (CPUBackend) Prepare() error { return nil }

func (CPUBackend) Score(a, b vector.Vector) (float32, error) {
	return vector.CosineSimilarity(a, b)
}

// AcceleratorBackend scores on a gpu.Accelerator.
type AcceleratorBackend struct {
	accel *gpu.Accelerator
}

// NewAcceleratorBackend wraps accel.
func NewAcceleratorBackend(accel *gpu.Accelerator) *AcceleratorBackend {
	return &AcceleratorBackend{accel: accel}
}

func (b *AcceleratorBackend) Kind() Kind { return KindAccelerator }

// Prepare initialises the device so an unavailable accelerator fails the
// request before any candidate is scored.
func (b *AcceleratorBackend) Prepare() error {
	return b.accel.Init()
}

func (b *AcceleratorBackend) Score(x, y vector.Vector) (float32, error) {
	return b.accel.CosineSimilarity(x, y)
}

// Accelerator returns the wrapped accelerator.
func (b *AcceleratorBackend) Accelerator() *gpu.Accelerator {
	return b.accel
}
