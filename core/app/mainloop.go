package app

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/dsp"
	"github.com/ftl/panaweb/core/metrics"
	"github.com/ftl/panaweb/core/reconcile"
	"github.com/ftl/panaweb/core/source"
)

// Timing of the main loop.
const (
	DefaultReadTimeout     = 100 * time.Millisecond
	DefaultRefreshInterval = time.Second
)

// ErrStopped is returned when the main loop does not run anymore.
var ErrStopped = errors.New("main loop stopped")

func newMainLoop(initial core.SourceConfig, reconciler *reconcile.Reconciler, engine *dsp.Engine, peaks *dsp.PeakHold, publisher framePublisher, logger *zap.Logger, m *metrics.Metrics) *mainLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &mainLoop{
		logger:     logger,
		metrics:    m,
		reconciler: reconciler,
		engine:     engine,
		peaks:      peaks,
		publisher:  publisher,

		config: initial.Clone(),

		readTimeout:     DefaultReadTimeout,
		refreshInterval: DefaultRefreshInterval,
		command:         make(chan command, 1),
		stopped:         make(chan struct{}),
	}

	return result
}

type command func()

// mainLoop owns the signal source. Reconfiguration commands and the production of spectrum frames
// are interleaved on the same goroutine, so the device and the configuration need no locking.
type mainLoop struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	reconciler *reconcile.Reconciler
	engine     *dsp.Engine
	peaks      *dsp.PeakHold
	publisher  framePublisher

	device source.Device
	config core.SourceConfig

	readTimeout     time.Duration
	refreshInterval time.Duration
	command         chan command
	stopped         chan struct{}

	configChangedCallbacks []ConfigChanged
}

type framePublisher interface {
	Publish(ctx context.Context, frame *core.SpectrumFrame) error
}

// ConfigChanged is called on the main loop with a copy of the configuration after it changed.
// Callbacks must not block.
type ConfigChanged func(core.SourceConfig)

// Run opens the source and produces spectrum frames until the context is done.
func (m *mainLoop) Run(ctx context.Context) error {
	defer close(m.stopped)
	defer m.shutdown()

	m.device = m.reconciler.UpdateSource(&m.config)
	m.logger.Info("source ready",
		zap.String("source", m.config.SourceID),
		zap.Bool("connected", m.config.Connected),
		zap.Stringer("backend", m.engine.Backend()))
	m.notifyConfigChange()

	refreshTick := time.NewTicker(m.refreshInterval)
	defer refreshTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case command := <-m.command:
			command()
		case <-refreshTick.C:
			if m.reconciler.RefreshDriftedFields(&m.config, m.device) {
				m.notifyConfigChange()
			}
		default:
			m.produce(ctx)
		}
	}
}

func (m *mainLoop) shutdown() {
	if m.device != nil {
		if err := m.device.Close(); err != nil {
			m.logger.Warn("closing the source failed", zap.Error(err))
		}
	}
	m.logger.Info("main loop shutdown")
}

// produce reads one block from the source and publishes its spectrum. Reading gives up after the
// read timeout, so that pending commands are not delayed for long.
func (m *mainLoop) produce(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	windowStart := time.Now()
	block, err := m.device.NextSampleBlock(readCtx, m.config.FFTSize)
	if err != nil {
		if readCtx.Err() == nil {
			m.logger.Debug("reading samples failed", zap.Error(err))
			m.idle(ctx)
		}
		return
	}
	if len(block) == 0 {
		return
	}
	windowEnd := time.Now()

	frame := m.spectrum(block)
	frame.WindowStart = windowStart
	frame.WindowEnd = windowEnd
	m.metrics.RecordFrame(time.Since(windowEnd))

	if err := m.publisher.Publish(ctx, frame); err != nil && ctx.Err() == nil {
		m.logger.Warn("publishing spectrum failed", zap.Error(err))
	}
}

func (m *mainLoop) spectrum(block core.SampleBlock) *core.SpectrumFrame {
	powers := dsp.MagnitudeSquaredToDB(m.engine.MagnitudeSpectrum(block, true))

	row := make([]float64, len(powers))
	magnitudes := make([]float32, len(powers))
	for i, p := range powers {
		row[i] = float64(p)
		magnitudes[i] = toFloat32(p)
	}
	peaks := m.peaks.Put(row)
	peakHold := make([]float32, len(peaks))
	for i, p := range peaks {
		peakHold[i] = toFloat32(core.DB(p))
	}

	return &core.SpectrumFrame{
		SampleRateHz: m.config.SampleRateHz,
		CentreFreqHz: m.config.CentreFreqHz,
		Magnitudes:   magnitudes,
		PeakHold:     peakHold,
	}
}

// toFloat32 clamps silence to the lowest finite value, the viewers cannot plot infinity.
func toFloat32(v core.DB) float32 {
	if math.IsInf(float64(v), -1) || math.IsNaN(float64(v)) {
		return -math.MaxFloat32
	}
	return float32(v)
}

// idle waits for the read timeout, commands are handled on the next iteration.
func (m *mainLoop) idle(ctx context.Context) {
	timer := time.NewTimer(m.readTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (m *mainLoop) notifyConfigChange() {
	m.metrics.SetSourceConnected(m.config.Connected)
	for _, configChanged := range m.configChangedCallbacks {
		configChanged(m.config.Clone())
	}
}

// q enqueues the command without waiting for its execution.
func (m *mainLoop) q(cmd command) {
	select {
	case m.command <- cmd:
	case <-m.stopped:
	default:
		m.logger.Warn("main loop hangs, command dropped")
	}
}

// do executes the command on the main loop and waits until it is done.
func (m *mainLoop) do(ctx context.Context, cmd command) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		cmd()
	}

	select {
	case m.command <- wrapped:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyConfig validates the request and applies it on the main loop. It returns the resulting configuration.
func (m *mainLoop) ApplyConfig(ctx context.Context, req core.ConfigRequest) (core.SourceConfig, error) {
	if err := req.Validate(); err != nil {
		return core.SourceConfig{}, err
	}

	var result core.SourceConfig
	err := m.do(ctx, func() {
		before := m.config.Clone()
		m.device = m.reconciler.ApplyConfig(&m.config, req, m.device)
		if spectrumChanged(before, m.config) {
			m.peaks.Reset()
		}
		m.notifyConfigChange()
		result = m.config.Clone()
	})
	return result, err
}

func spectrumChanged(before, after core.SourceConfig) bool {
	return before.SourceID != after.SourceID ||
		before.CentreFreqHz != after.CentreFreqHz ||
		before.SampleRateHz != after.SampleRateHz ||
		before.FFTSize != after.FFTSize ||
		before.Window != after.Window ||
		before.Gain != after.Gain
}

// Config returns the current configuration and the transform backend in use. If drainErrors is true,
// the accumulated errors are cleared.
func (m *mainLoop) Config(ctx context.Context, drainErrors bool) (core.SourceConfig, dsp.BackendChoice, error) {
	var result core.SourceConfig
	var backend dsp.BackendChoice
	err := m.do(ctx, func() {
		result = m.config.Clone()
		backend = m.engine.Backend()
		if drainErrors {
			m.config.DrainErrors()
		}
	})
	return result, backend, err
}

// SetRealCentreFrequency sets the display-only centre frequency, as reported by the rig.
func (m *mainLoop) SetRealCentreFrequency(f core.Frequency) {
	m.q(func() {
		hz := int(f)
		if hz == m.config.RealCentreFreqHz {
			return
		}
		m.config.RealCentreFreqHz = hz
		m.notifyConfigChange()
	})
}

// OnConfigChange registers the given callback. Must be called before Run.
func (m *mainLoop) OnConfigChange(f ConfigChanged) {
	m.configChangedCallbacks = append(m.configChangedCallbacks, f)
}
