package dsp

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	dspfft "github.com/mjibson/go-dsp/fft"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

// BackendChoice identifies one of the interchangeable transform implementations.
type BackendChoice int

// All backend choices.
const (
	Reference BackendChoice = iota
	Planner
	Offload
)

// BackendChoices returns all backend choices.
func BackendChoices() []BackendChoice {
	return []BackendChoice{Reference, Planner, Offload}
}

func (b BackendChoice) String() string {
	switch b {
	case Reference:
		return "reference"
	case Planner:
		return "planner"
	case Offload:
		return "offload"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Transformer computes the forward complex transform of a block of samples.
type Transformer interface {
	// Prepare the transformer for blocks of n samples. An error means the transformer cannot handle this size.
	Prepare(n int) error
	// Forward writes the spectrum of src into dst. Both have the prepared length.
	Forward(dst, src []complex128) error
}

// Backends maps each available backend to its implementation. Missing entries are unavailable.
type Backends map[BackendChoice]Transformer

// DefaultBackends returns all backends that are built into this binary.
func DefaultBackends() Backends {
	return Backends{
		Reference: new(referenceFFT),
		Planner:   new(plannerFFT),
		Offload:   new(offloadFFT),
	}
}

// ErrSizeMismatch is returned when a transform is called with blocks that do not match the prepared size.
var ErrSizeMismatch = errors.New("block size does not match the prepared size")

// referenceFFT is always available and handles any size.
type referenceFFT struct {
	n int
}

func (f *referenceFFT) Prepare(n int) error {
	if n <= 0 {
		return errors.Errorf("invalid size %d", n)
	}
	f.n = n
	return nil
}

func (f *referenceFFT) Forward(dst, src []complex128) error {
	if len(src) != f.n || len(dst) != f.n {
		return ErrSizeMismatch
	}
	copy(dst, dspfft.FFT(src))
	return nil
}

// plannerFFT precomputes the twiddle factors for the prepared size.
type plannerFFT struct {
	plan *fourier.CmplxFFT
}

func (f *plannerFFT) Prepare(n int) error {
	if n <= 0 {
		return errors.Errorf("invalid size %d", n)
	}
	if f.plan != nil && f.plan.Len() == n {
		return nil
	}
	f.plan = fourier.NewCmplxFFT(n)
	return nil
}

func (f *plannerFFT) Forward(dst, src []complex128) error {
	if f.plan == nil || len(src) != f.plan.Len() || len(dst) != f.plan.Len() {
		return ErrSizeMismatch
	}
	f.plan.Coefficients(dst, src)
	return nil
}

type forwardPlan interface {
	Forward(dst, src []complex128) error
}

// offloadFFT hands the transform to the accelerated kernels of algo-fft.
type offloadFFT struct {
	n    int
	plan forwardPlan
}

func (f *offloadFFT) Prepare(n int) error {
	if f.plan != nil && f.n == n {
		return nil
	}
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		f.plan = nil
		f.n = 0
		return errors.Wrapf(err, "cannot plan offload transform of size %d", n)
	}
	f.plan = plan
	f.n = n
	return nil
}

func (f *offloadFFT) Forward(dst, src []complex128) error {
	if f.plan == nil || len(src) != f.n || len(dst) != f.n {
		return ErrSizeMismatch
	}
	return f.plan.Forward(dst, src)
}
