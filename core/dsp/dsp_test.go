package dsp

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ftl/panaweb/core"
)

func TestWindowLengthAndPurity(t *testing.T) {
	for _, kind := range core.WindowKinds() {
		for _, n := range []int{1, 2, 15, 16, 1024} {
			t.Run(fmt.Sprintf("%s/%d", kind, n), func(t *testing.T) {
				first := Window(kind, n)
				second := Window(kind, n)

				assert.Len(t, first, n)
				assert.Equal(t, first, second)
			})
		}
	}
}

func TestWindowShapes(t *testing.T) {
	n := 33
	for _, kind := range core.WindowKinds() {
		t.Run(string(kind), func(t *testing.T) {
			w := Window(kind, n)
			for i := 0; i < n/2; i++ {
				assert.InDelta(t, w[i], w[n-1-i], 1e-12, "window must be symmetric")
			}
			assert.InDelta(t, 1.0, w[n/2], 1e-9, "window must peak at the center")
		})
	}

	rectangular := Window(core.Rectangular, 8)
	for _, v := range rectangular {
		assert.Equal(t, 1.0, v)
	}

	kaiser := Window(core.Kaiser16, 64)
	assert.True(t, kaiser[0] < 1e-5, "kaiser 16 edges are close to zero: %g", kaiser[0])
}

func TestWindowUnknownKind(t *testing.T) {
	assert.Equal(t, Window(core.Hamming, 16), Window(core.WindowKind("nonsense"), 16))
	assert.Len(t, Window(core.Hamming, 0), 0)
}

func TestBesselI0(t *testing.T) {
	assert.InDelta(t, 1.0, besselI0(0), 1e-15)
	assert.InDelta(t, 1.2660658777520082, besselI0(1), 1e-12)
	assert.InDelta(t, 893446.2279201052, besselI0(16), 1e-6)
}

func TestWindowTable(t *testing.T) {
	var table WindowTable
	first := table.Get(core.Blackman, 16)
	assert.Len(t, first, 16)

	same := table.Get(core.Blackman, 16)
	assert.True(t, &first[0] == &same[0], "unchanged parameters must reuse the vector")

	resized := table.Get(core.Blackman, 32)
	assert.Len(t, resized, 32)

	changed := table.Get(core.Hanning, 32)
	assert.Equal(t, Window(core.Hanning, 32), changed)
}

func newTestEngine(n int, kind core.WindowKind, opts ...Option) *Engine {
	return NewEngine(n, kind, append([]Option{WithIterations(2)}, opts...)...)
}

func TestEngine_SetWindow(t *testing.T) {
	engine := newTestEngine(64, core.Blackman)
	assert.Equal(t, core.Blackman, engine.Window())

	engine.SetWindow(core.Kaiser16)
	assert.Equal(t, core.Kaiser16, engine.Window())
	assert.Equal(t, Window(core.Kaiser16, 64), engine.WindowVector())

	for _, name := range []string{"", "hamming", "Flattop", "Kaiser"} {
		engine.SetWindow(core.Kaiser16)
		engine.SetWindow(core.WindowKind(name))
		assert.Equal(t, core.Hamming, engine.Window(), name)
		assert.Len(t, engine.WindowVector(), 64)
	}

	assert.Equal(t, core.Hamming, newTestEngine(16, "unknown").Window())
}

func TestEngine_ZeroInput(t *testing.T) {
	for _, n := range []int{16, 1024} {
		engine := newTestEngine(n, core.Hamming)
		result := engine.MagnitudeSpectrum(make([]complex128, n), true)

		require.Len(t, result, n)
		for _, v := range result {
			assert.InDelta(t, 0, v, 1e-20)
		}
	}
}

func TestEngine_EmptyInput(t *testing.T) {
	engine := newTestEngine(16, core.Hamming)
	assert.Len(t, engine.MagnitudeSpectrum(nil, true), 0)
	assert.Equal(t, 16, engine.Size())
}

func TestEngine_ReorderIsCircularShift(t *testing.T) {
	for _, n := range []int{16, 15, 64} {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			engine := newTestEngine(n, core.Hanning)
			samples := randomSamples(n, 1)

			plain := engine.MagnitudeSpectrum(samples, false)
			reordered := engine.MagnitudeSpectrum(samples, true)

			for k := 0; k < n; k++ {
				assert.InDelta(t, plain[k], reordered[(n/2+k)%n], 1e-9, "bin %d", k)
			}
		})
	}
}

func TestEngine_ResizeRecalibrates(t *testing.T) {
	var calibrations []int
	observer := func(n int, _ BackendChoice, _ Timings, _ time.Duration) {
		calibrations = append(calibrations, n)
	}
	engine := newTestEngine(16, core.Hamming, WithCalibrationObserver(observer))

	engine.MagnitudeSpectrum(make([]complex128, 16), true)
	engine.MagnitudeSpectrum(make([]complex128, 32), true)
	engine.MagnitudeSpectrum(make([]complex128, 32), true)
	engine.Resize(32)

	assert.Equal(t, []int{16, 32}, calibrations)
	assert.Equal(t, 32, engine.Size())
	assert.Len(t, engine.WindowVector(), 32)
}

func TestEngine_TonePeak(t *testing.T) {
	const (
		sampleRate = 2000000.0
		fftSize    = 1024
	)
	binWidth := sampleRate / fftSize

	for _, offset := range []float64{0, 123456, -250000, 731000, -990000} {
		t.Run(fmt.Sprintf("%.0f", offset), func(t *testing.T) {
			engine := newTestEngine(fftSize, core.Hamming)
			samples := tone(fftSize, offset/sampleRate)

			magnitudes := engine.MagnitudeSpectrum(samples, true)
			peak := PeakBin(magnitudes)
			frequencies := BinsToFrequencies([]int{peak}, sampleRate, fftSize)

			assert.InDelta(t, offset, float64(frequencies[0]), binWidth/2)
		})
	}
}

func TestEngine_BackendsAgree(t *testing.T) {
	n := 64
	samples := randomSamples(n, 7)
	var expected []float64
	for _, choice := range []BackendChoice{Reference, Planner, Offload} {
		t.Run(choice.String(), func(t *testing.T) {
			backend := DefaultBackends()[choice]
			if err := backend.Prepare(n); err != nil {
				t.Skipf("backend %s not available: %v", choice, err)
			}
			engine := newTestEngine(n, core.Hamming, WithBackends(Backends{Reference: new(referenceFFT), choice: backend}))
			engine.backend = choice

			actual := engine.MagnitudeSpectrum(samples, true)
			if expected == nil {
				expected = actual
				return
			}
			for i := range expected {
				assert.InDelta(t, expected[i], actual[i], 1e-6*math.Max(1, expected[i]), "bin %d", i)
			}
		})
	}
}

func TestEngine_FailingBackendFallsBackToReference(t *testing.T) {
	engine := newTestEngine(16, core.Hamming, WithBackends(Backends{Planner: &fakeTransformer{forwardErr: errors.New("broken")}}))
	engine.backend = Planner

	result := engine.MagnitudeSpectrum(tone(16, 0), false)

	assert.Equal(t, Reference, engine.Backend())
	assert.Equal(t, 0, PeakBin(result))
}

func TestEngine_ReferencePrepareFailureIsLogged(t *testing.T) {
	observed, logs := observer.New(zap.DebugLevel)
	broken := errors.New("broken")
	engine := newTestEngine(16, core.Hamming,
		WithLogger(zap.New(observed)),
		WithBackends(Backends{
			Reference: &fakeTransformer{prepareErr: broken, forwardErr: broken},
			Planner:   &fakeTransformer{forwardErr: broken},
			Offload:   &fakeTransformer{forwardErr: broken},
		}))
	assert.Equal(t, 1, logs.FilterMessage("reference backend cannot be prepared").Len(), "after calibration")

	logs.TakeAll()
	engine.backend = Planner
	result := engine.MagnitudeSpectrum(tone(16, 0), false)

	assert.Equal(t, make([]float64, 16), result)
	assert.Equal(t, 1, logs.FilterMessage("reference backend cannot be prepared").Len(), "after transform")
}

func TestCalibrate_NeverFails(t *testing.T) {
	tt := []struct {
		name     string
		backends Backends
		expected BackendChoice
	}{
		{"nil", nil, Reference},
		{"empty", Backends{}, Reference},
		{"only planner", Backends{Planner: new(plannerFFT)}, -1},
		{"failing prepare", Backends{Planner: &fakeTransformer{prepareErr: errors.New("no")}, Offload: &fakeTransformer{prepareErr: errors.New("no")}}, Reference},
		{"panicking", Backends{Planner: &fakeTransformer{panics: true}}, Reference},
		{"nil entry", Backends{Offload: nil}, Reference},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			choice, timings := Calibrate(32, 3, tc.backends)

			assert.Len(t, timings, 3)
			assert.NotEqual(t, Unavailable, timings[choice], "selected backend must be available")
			if tc.expected >= 0 {
				assert.Equal(t, tc.expected, choice)
			}
		})
	}
}

func TestCalibrate_ZeroSize(t *testing.T) {
	choice, _ := Calibrate(0, 3, DefaultBackends())
	assert.Equal(t, Reference, choice)
}

func TestCalibrate_PicksFastest(t *testing.T) {
	slow := &fakeTransformer{delay: 2 * time.Millisecond}
	fast := &fakeTransformer{}

	choice, timings := Calibrate(16, 3, Backends{Reference: slow, Planner: slow, Offload: fast})
	assert.Equal(t, Offload, choice, timings.String())

	choice, timings = Calibrate(16, 3, Backends{Reference: fast, Planner: slow, Offload: &fakeTransformer{delay: 2 * time.Millisecond}})
	assert.Equal(t, Reference, choice, timings.String())
}

func TestSelectBackend(t *testing.T) {
	tt := []struct {
		reference, planner, offload time.Duration
		expected                    BackendChoice
	}{
		{1, 2, 3, Reference},
		{3, 2, 1, Offload},
		{2, 1, 3, Planner},
		{1, 1, 1, Planner},
		{1, 2, 1, Planner},
		{1, 1, 2, Planner},
		{2, 2, 1, Offload},
		{1, Unavailable, 1, Reference},
		{2, Unavailable, 1, Offload},
		{Unavailable, Unavailable, Unavailable, Reference},
	}

	for i, tc := range tt {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			actual := selectBackend(Timings{Reference: tc.reference, Planner: tc.planner, Offload: tc.offload})
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestBinsToFrequencies(t *testing.T) {
	const s = 2000000.0
	const n = 1024

	assert.Equal(t, []core.Frequency{0}, BinsToFrequencies([]int{n / 2}, s, n))
	assert.Equal(t, []core.Frequency{-s / 2}, BinsToFrequencies([]int{0}, s, n))
	assert.Equal(t, []core.Frequency{s/2 - s/n}, BinsToFrequencies([]int{n - 1}, s, n))
	assert.Len(t, BinsToFrequencies([]int{}, s, n), 0)
	assert.Equal(t, []core.Frequency{0}, BinsToFrequencies([]int{1}, s, 0))
}

func TestMagnitudeSquaredToDB(t *testing.T) {
	values := []float64{4, 4, 4, 4}
	for _, v := range MagnitudeSquaredToDB(values) {
		assert.InDelta(t, 0, float64(v), 1e-12)
	}

	result := MagnitudeSquaredToDB([]float64{1000, 1})
	assert.InDelta(t, 30-10*math.Log10(2), float64(result[0]), 1e-12)
	assert.InDelta(t, -10*math.Log10(2), float64(result[1]), 1e-12)
	assert.True(t, math.IsInf(float64(MagnitudeSquaredToDB([]float64{0})[0]), -1))
}

func TestReorder(t *testing.T) {
	assert.Equal(t, []complex128{3, 4, 1, 2}, Reorder([]complex128{1, 2, 3, 4}))
	assert.Equal(t, []complex128{4, 5, 1, 2, 3}, Reorder([]complex128{1, 2, 3, 4, 5}))
	assert.Len(t, Reorder(nil), 0)
}

func BenchmarkMagnitudeSpectrum(b *testing.B) {
	for _, n := range []int{1024, 16384} {
		b.Run(fmt.Sprintf("%d", n), func(b *testing.B) {
			engine := newTestEngine(n, core.Hamming)
			samples := randomSamples(n, 3)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				engine.MagnitudeSpectrum(samples, true)
			}
		})
	}
}

type fakeTransformer struct {
	delay      time.Duration
	prepareErr error
	forwardErr error
	panics     bool
}

func (f *fakeTransformer) Prepare(n int) error {
	return f.prepareErr
}

func (f *fakeTransformer) Forward(dst, src []complex128) error {
	if f.panics {
		panic("fake transformer")
	}
	if f.forwardErr != nil {
		return f.forwardErr
	}
	time.Sleep(f.delay)
	copy(dst, src)
	return nil
}

func randomSamples(n int, seed int64) []complex128 {
	rnd := rand.New(rand.NewSource(seed))
	result := make([]complex128, n)
	for i := range result {
		result[i] = complex(rnd.Float64()-0.5, rnd.Float64()-0.5)
	}
	return result
}

func tone(blockSize int, frequencyRate float64) []complex128 {
	result := make([]complex128, blockSize)

	ω := 2 * math.Pi * frequencyRate
	for i := range result {
		t := float64(i)
		result[i] = complex(math.Cos(ω*t), math.Sin(ω*t))
	}

	return result
}
