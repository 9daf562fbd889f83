package dsp

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
)

// CalibrationObserver is notified after each calibration.
type CalibrationObserver func(n int, choice BackendChoice, timings Timings, elapsed time.Duration)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIterations sets the number of transforms per backend used for calibration.
func WithIterations(iterations int) Option {
	return func(e *Engine) {
		if iterations > 0 {
			e.iterations = iterations
		}
	}
}

// WithBackends replaces the default backend set.
func WithBackends(backends Backends) Option {
	return func(e *Engine) {
		e.backends = make(Backends, len(backends))
		for choice, backend := range backends {
			if backend != nil {
				e.backends[choice] = backend
			}
		}
	}
}

// WithCalibrationObserver registers a callback that is notified after each calibration.
func WithCalibrationObserver(observer CalibrationObserver) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, observer)
	}
}

// Engine computes windowed magnitude spectra. The engine is not safe for concurrent use,
// it is owned by the goroutine that processes the sample blocks.
type Engine struct {
	logger     *zap.Logger
	iterations int
	backends   Backends
	observers  []CalibrationObserver

	size       int
	windowKind core.WindowKind
	window     WindowTable
	backend    BackendChoice
	timings    Timings

	windowed []complex128
	spectrum []complex128
}

// NewEngine returns a new engine for blocks of the given size. The backend is calibrated immediately,
// which may take a while for large sizes.
func NewEngine(fftSize int, kind core.WindowKind, opts ...Option) *Engine {
	result := &Engine{
		logger:     zap.NewNop(),
		iterations: DefaultCalibrationIterations,
		backends:   DefaultBackends(),
	}
	for _, opt := range opts {
		opt(result)
	}
	if result.backends[Reference] == nil {
		result.backends[Reference] = new(referenceFFT)
	}

	result.windowKind, _ = core.ParseWindowKind(string(kind))
	result.resize(fftSize)
	return result
}

// SetWindow sets the window function. Unknown kinds silently resolve to Hamming.
func (e *Engine) SetWindow(kind core.WindowKind) {
	resolved, ok := core.ParseWindowKind(string(kind))
	if !ok {
		e.logger.Debug("unknown window, using default", zap.String("window", string(kind)), zap.String("default", string(resolved)))
	}
	e.windowKind = resolved
	e.window.Get(e.windowKind, e.size)
}

// Window returns the current window kind.
func (e *Engine) Window() core.WindowKind {
	return e.windowKind
}

// WindowVector returns the current window coefficients.
func (e *Engine) WindowVector() WindowVector {
	return e.window.Get(e.windowKind, e.size)
}

// Size returns the current block size.
func (e *Engine) Size() int {
	return e.size
}

// Backend returns the backend selected by the last calibration.
func (e *Engine) Backend() BackendChoice {
	return e.backend
}

// Timings returns the measurements of the last calibration.
func (e *Engine) Timings() Timings {
	result := make(Timings, len(e.timings))
	for k, v := range e.timings {
		result[k] = v
	}
	return result
}

// Resize changes the block size, regenerates the window and recalibrates the backend.
// This is expensive and must not be called for every block.
func (e *Engine) Resize(n int) {
	if n == e.size {
		return
	}
	e.resize(n)
}

func (e *Engine) resize(n int) {
	if n < 0 {
		n = 0
	}
	e.size = n
	e.window.Get(e.windowKind, n)
	e.windowed = make([]complex128, n)
	e.spectrum = make([]complex128, n)
	e.calibrate()
}

func (e *Engine) calibrate() {
	start := time.Now()
	choice, timings := Calibrate(e.size, e.iterations, e.backends)
	elapsed := time.Since(start)

	if err := e.backends[choice].Prepare(e.size); err != nil && e.size > 0 {
		e.logger.Warn("selected backend cannot be prepared, using reference", zap.Stringer("backend", choice), zap.Error(err))
		choice = Reference
		if err := e.backends[Reference].Prepare(e.size); err != nil {
			e.logger.Error("reference backend cannot be prepared", zap.Int("size", e.size), zap.Error(err))
		}
	}
	e.backend = choice
	e.timings = timings

	e.logger.Debug("fft calibrated",
		zap.Int("size", e.size),
		zap.Stringer("timings", timings),
		zap.Stringer("backend", choice),
		zap.Duration("elapsed", elapsed))
	for _, observer := range e.observers {
		observer(e.size, choice, timings, elapsed)
	}
}

// MagnitudeSpectrum applies the window to the samples, transforms them and returns the squared magnitude
// of each bin. If reorder is true, the result is shifted so that the DC bin is in the middle.
// The result is not normalized to the block size. If the number of samples does not match the
// current size, the engine is resized first.
func (e *Engine) MagnitudeSpectrum(samples []complex128, reorder bool) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	if len(samples) != e.size {
		e.logger.Info("block size changed, recalibrating", zap.Int("from", e.size), zap.Int("to", len(samples)))
		e.resize(len(samples))
	}

	window := e.window.Get(e.windowKind, e.size)
	for i, s := range samples {
		e.windowed[i] = s * complex(window[i], 0)
	}

	if err := e.backends[e.backend].Forward(e.spectrum, e.windowed); err != nil {
		e.logger.Warn("transform failed, falling back to reference", zap.Stringer("backend", e.backend), zap.Error(err))
		e.backend = Reference
		reference := e.backends[Reference]
		if err := reference.Prepare(e.size); err != nil {
			e.logger.Error("reference backend cannot be prepared", zap.Int("size", e.size), zap.Error(err))
		}
		if err := reference.Forward(e.spectrum, e.windowed); err != nil {
			e.logger.Error("reference transform failed", zap.Error(err))
			return make([]float64, e.size)
		}
	}

	spectrum := e.spectrum
	if reorder {
		spectrum = Reorder(spectrum)
	}

	result := make([]float64, len(spectrum))
	for i, v := range spectrum {
		result[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return result
}

// Reorder returns a copy of the spectrum, circularly shifted by n/2 so that the DC bin is in the middle.
func Reorder(spectrum []complex128) []complex128 {
	n := len(spectrum)
	result := make([]complex128, n)
	center := n / 2
	for i, v := range spectrum {
		result[(i+center)%n] = v
	}
	return result
}

// BinsToFrequencies maps bin indices of a reordered spectrum to frequency offsets around zero.
func BinsToFrequencies(bins []int, sampleRateHz float64, fftSize int) []core.Frequency {
	result := make([]core.Frequency, len(bins))
	if fftSize <= 0 {
		return result
	}
	hzPerBin := sampleRateHz / float64(fftSize)
	center := fftSize / 2
	for i, bin := range bins {
		result[i] = core.Frequency(float64(bin-center) * hzPerBin)
	}
	return result
}

// MagnitudeSquaredToDB converts squared magnitudes to dB (10·log10), normalized to the number of values.
func MagnitudeSquaredToDB(values []float64) []core.DB {
	result := make([]core.DB, len(values))
	if len(values) == 0 {
		return result
	}
	scale := 10 * math.Log10(float64(len(values)))
	for i, v := range values {
		result[i] = core.DB(10*math.Log10(v) - scale)
	}
	return result
}

// PeakBin returns the index of the largest value.
func PeakBin(values []float64) int {
	peak := 0
	for i, v := range values {
		if v > values[peak] {
			peak = i
		}
	}
	return peak
}
