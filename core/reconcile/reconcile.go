// Package reconcile keeps the desired source configuration and the actual signal source in step.
//
// All functions mutate the given SourceConfig and call the given device. They must only be called by the
// goroutine that owns the device.
package reconcile

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/metrics"
	"github.com/ftl/panaweb/core/source"
)

// Kinds of reconfiguration.
const (
	IdentityChange  = "identity"
	ParameterChange = "parameters"
)

// WindowSetter receives window changes. This is usually the spectral engine.
type WindowSetter interface {
	SetWindow(core.WindowKind)
	Window() core.WindowKind
}

// Reconciler applies configuration requests to the signal source.
type Reconciler struct {
	factory source.Factory
	windows WindowSetter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a new reconciler. logger and m may be nil.
func New(factory source.Factory, windows WindowSetter, logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		factory: factory,
		windows: windows,
		logger:  logger,
		metrics: m,
	}
}

// ApplyConfig applies the request to the current configuration and the device and returns the device
// that is in use afterwards. This is either dev or a new device, if the identity of the source changed.
func (r *Reconciler) ApplyConfig(current *core.SourceConfig, req core.ConfigRequest, dev source.Device) source.Device {
	if identityChanged(current, req) {
		dev = r.changeIdentity(current, req, dev)
	} else {
		r.changeParameters(current, req, dev)
	}

	current.UUID = req.UUID
	return dev
}

func identityChanged(current *core.SourceConfig, req core.ConfigRequest) bool {
	return req.Source != current.SourceID ||
		req.SourceParams != current.SourceParams ||
		req.DataFormat != current.SampleFormat
}

func (r *Reconciler) changeIdentity(current *core.SourceConfig, req core.ConfigRequest, dev source.Device) source.Device {
	if !req.HasIdentity() {
		r.logger.Error("attempt to use empty source parameter",
			zap.String("source", req.Source),
			zap.String("params", req.SourceParams),
			zap.String("format", req.DataFormat))
		return dev
	}
	r.metrics.RecordReconfiguration(IdentityChange)

	current.SourceID = req.Source
	current.SourceParams = req.SourceParams
	current.SampleFormat = req.DataFormat
	current.CentreFreqHz = req.CentreFrequencyHz
	r.logger.Info("changing source",
		zap.String("source", current.SourceID),
		zap.String("params", current.SourceParams),
		zap.String("format", current.SampleFormat))

	if dev != nil {
		r.check(current, "close", dev.Close(), dev)
	}
	return r.UpdateSource(current)
}

func (r *Reconciler) changeParameters(current *core.SourceConfig, req core.ConfigRequest, dev source.Device) {
	changed := false
	mark := func() { changed = true }

	if req.CentreFrequencyHz != current.CentreFreqHz {
		mark()
		r.check(current, "centre frequency", dev.SetCentreFrequency(req.CentreFrequencyHz), dev)
		current.CentreFreqHz = dev.CentreFrequency()
	}
	if req.RealCentreFrequencyHz != current.RealCentreFreqHz {
		mark()
		current.RealCentreFreqHz = req.RealCentreFrequencyHz
	}
	if req.SdrBwHz != current.BandwidthHz {
		mark()
		r.check(current, "bandwidth", dev.SetBandwidth(req.SdrBwHz), dev)
		current.BandwidthHz = dev.Bandwidth()
	}
	if req.PPMError != current.PPMError {
		mark()
		r.check(current, "ppm", dev.SetPPM(req.PPMError), dev)
		current.PPMError = dev.PPM()
	}
	if core.WindowKind(req.Window) != current.Window {
		mark()
		r.windows.SetWindow(core.WindowKind(req.Window))
		current.Window = r.windows.Window()
	}
	if req.Sps != current.SampleRateHz {
		mark()
		r.check(current, "sample rate", dev.SetSampleRate(req.Sps), dev)
		current.SampleRateHz = dev.SampleRate()
	}
	if req.FFTSize != current.FFTSize {
		mark()
		current.FFTSize = req.FFTSize
	}
	if req.Gain != current.Gain {
		mark()
		r.check(current, "gain", dev.SetGain(req.Gain), dev)
		current.Gain = dev.Gain()
	}
	if req.GainMode != current.GainMode {
		mark()
		r.check(current, "gain mode", dev.SetGainMode(req.GainMode), dev)
		current.GainMode = dev.GainMode()
	}

	if changed {
		r.metrics.RecordReconfiguration(ParameterChange)
	}
}

// CreateSource creates the device described by the current configuration. The device is not opened.
func (r *Reconciler) CreateSource(current *core.SourceConfig) source.Device {
	return r.factory.Create(current.SourceID, current.SourceParams, current.SampleFormat,
		current.SampleRateHz, current.CentreFreqHz, current.BandwidthHz)
}

// OpenSource opens the device and adopts the attributes the device settled on.
func (r *Reconciler) OpenSource(current *core.SourceConfig, dev source.Device) error {
	if current.GainMode != "" {
		r.check(current, "gain mode", dev.SetGainMode(current.GainMode), dev)
	}
	r.check(current, "gain", dev.SetGain(current.Gain), dev)

	if err := dev.Open(); err != nil {
		current.AddError(dev.GetAndResetError())
		return err
	}

	current.SampleFormat = dev.SampleType()
	current.SampleRateHz = dev.SampleRate()
	current.CentreFreqHz = dev.CentreFrequency()
	current.Gain = dev.Gain()
	current.GainModes = dev.GainModes()
	current.GainMode = dev.GainMode()
	current.BandwidthHz = dev.Bandwidth()
	if ppm := dev.PPM(); ppm == 0 {
		r.check(current, "ppm", dev.SetPPM(current.PPMError), dev)
	} else {
		current.PPMError = ppm
	}
	current.Connected = dev.Connected()

	current.AddError(dev.GetAndResetError())
	return nil
}

// UpdateSource creates and opens the device described by the current configuration. If the device cannot
// be opened, the null source is used instead. The returned device is never nil.
func (r *Reconciler) UpdateSource(current *core.SourceConfig) source.Device {
	dev := r.CreateSource(current)

	gainMode := current.GainMode
	gain := current.Gain
	err := r.OpenSource(current, dev)
	if err == nil {
		// the device may have been recreated for the same receiver, keep the gain the user chose
		if gainMode != "" {
			r.check(current, "gain mode", dev.SetGainMode(gainMode), dev)
		}
		r.check(current, "gain", dev.SetGain(gain), dev)
		current.GainMode = dev.GainMode()
		current.Gain = dev.Gain()
		r.logger.Info("source open", zap.String("source", current.SourceID))
	} else {
		r.logger.Error("problem with new configuration",
			zap.Error(err),
			zap.String("source", current.SourceID),
			zap.Int("centre", current.CentreFreqHz),
			zap.Int("sps", current.SampleRateHz),
			zap.Int("fftSize", current.FFTSize))
		r.metrics.RecordReconcileError("open")
		current.AddError(errors.Wrapf(err, "source %q rejected, using the %s source", current.SourceID, core.NullSourceID).Error())

		current.SourceID = core.NullSourceID
		dev = r.CreateSource(current)
		if err := r.OpenSource(current, dev); err != nil {
			r.logger.Error("cannot open the null source", zap.Error(err))
			current.AddError(err.Error())
		}
	}

	current.Connected = dev.Connected()
	r.metrics.SetSourceConnected(current.Connected)
	return dev
}

// RefreshDriftedFields reads back the attributes the device may change on its own. It reports whether
// any of them changed.
func (r *Reconciler) RefreshDriftedFields(current *core.SourceConfig, dev source.Device) bool {
	if dev == nil {
		return false
	}
	gain := dev.Gain()
	sampleRate := dev.SampleRate()
	centre := dev.CentreFrequency()

	changed := gain != current.Gain || sampleRate != current.SampleRateHz || centre != current.CentreFreqHz
	current.Gain = gain
	current.SampleRateHz = sampleRate
	current.CentreFreqHz = centre
	return changed
}

// check accumulates the error and the device's error text in the configuration.
func (r *Reconciler) check(current *core.SourceConfig, operation string, err error, dev source.Device) {
	if err != nil {
		r.logger.Warn("device operation failed", zap.String("operation", operation), zap.Error(err))
		r.metrics.RecordReconcileError(operation)
		current.AddError(err.Error())
	}
	current.AddError(dev.GetAndResetError())
}
