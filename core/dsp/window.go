package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/window"

	"github.com/ftl/panaweb/core"
)

const kaiserBeta = 16.0

// WindowVector holds the coefficients of a window function.
type WindowVector []float64

// Window generates the coefficients of the given window kind for n samples.
// Unknown kinds generate a Hamming window.
func Window(kind core.WindowKind, n int) WindowVector {
	if n <= 0 {
		return WindowVector{}
	}
	if n == 1 {
		return WindowVector{1}
	}
	switch kind {
	case core.Hamming:
		return window.Hamming(n)
	case core.Hanning:
		return window.Hann(n)
	case core.Blackman:
		return window.Blackman(n)
	case core.Kaiser16:
		return kaiser(n, kaiserBeta)
	case core.Bartlett:
		return window.Bartlett(n)
	case core.Rectangular:
		return window.Rectangular(n)
	default:
		return window.Hamming(n)
	}
}

func kaiser(n int, beta float64) WindowVector {
	result := make(WindowVector, n)
	denominator := besselI0(beta)
	m := float64(n - 1)
	for i := range result {
		x := 2*float64(i)/m - 1
		result[i] = besselI0(beta*math.Sqrt(1-x*x)) / denominator
	}
	return result
}

// besselI0 is the modified Bessel function of the first kind, order zero, evaluated as power series.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 500; k++ {
		f := halfX / float64(k)
		term *= f * f
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}

// WindowTable caches the window vector for the current kind and size.
type WindowTable struct {
	kind   core.WindowKind
	vector WindowVector
}

// Get returns the window vector for the given kind and size, regenerating it if either changed.
func (t *WindowTable) Get(kind core.WindowKind, n int) WindowVector {
	if t.vector != nil && t.kind == kind && len(t.vector) == n {
		return t.vector
	}
	t.kind = kind
	t.vector = Window(kind, n)
	return t.vector
}
