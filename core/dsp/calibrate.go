package dsp

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultCalibrationIterations is the number of transforms per backend used to measure its speed.
const DefaultCalibrationIterations = 500

// Unavailable is the score of a backend that is missing or cannot handle the size.
const Unavailable = time.Duration(math.MaxInt64)

// Timings holds the mean duration of one transform per backend.
type Timings map[BackendChoice]time.Duration

func (t Timings) String() string {
	return fmt.Sprintf("reference:%s planner:%s offload:%s",
		formatTiming(t.of(Reference)), formatTiming(t.of(Planner)), formatTiming(t.of(Offload)))
}

func (t Timings) of(b BackendChoice) time.Duration {
	d, ok := t[b]
	if !ok {
		return Unavailable
	}
	return d
}

func formatTiming(d time.Duration) string {
	if d == Unavailable {
		return "n/a"
	}
	return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
}

// Calibrate measures every available backend for blocks of n samples and selects the fastest.
// The reference backend is always available. Calibration never fails, a backend that cannot
// handle n is scored as Unavailable and is never selected.
func Calibrate(n int, iterations int, backends Backends) (BackendChoice, Timings) {
	if iterations <= 0 {
		iterations = 1
	}
	available := make(Backends, len(backends)+1)
	for choice, backend := range backends {
		if backend != nil {
			available[choice] = backend
		}
	}
	if available[Reference] == nil {
		available[Reference] = new(referenceFFT)
	}

	data := testData(n)
	timings := make(Timings, 3)
	for _, choice := range []BackendChoice{Reference, Planner, Offload} {
		backend, ok := available[choice]
		if !ok {
			timings[choice] = Unavailable
			continue
		}
		timings[choice] = measure(backend, data, iterations)
	}

	return selectBackend(timings), timings
}

// selectBackend picks reference or offload only if strictly faster than both others, otherwise the planner.
func selectBackend(t Timings) BackendChoice {
	reference, planner, offload := t.of(Reference), t.of(Planner), t.of(Offload)
	switch {
	case offload < reference && offload < planner:
		return Offload
	case reference < offload && reference < planner:
		return Reference
	case planner != Unavailable:
		return Planner
	case offload < reference:
		return Offload
	default:
		return Reference
	}
}

func measure(backend Transformer, data []complex128, iterations int) (result time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			result = Unavailable
		}
	}()

	if err := backend.Prepare(len(data)); err != nil {
		return Unavailable
	}
	out := make([]complex128, len(data))
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if err := backend.Forward(out, data); err != nil {
			return Unavailable
		}
	}
	elapsed := time.Since(start)

	result = elapsed / time.Duration(iterations)
	if result <= 0 {
		result = 1
	}
	return result
}

func testData(n int) []complex128 {
	if n < 0 {
		n = 0
	}
	rnd := rand.New(rand.NewSource(int64(n)))
	result := make([]complex128, n)
	for i := range result {
		result[i] = complex(rnd.Float64(), rnd.Float64())
	}
	return result
}
