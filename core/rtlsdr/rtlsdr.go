//go:build rtlsdr

// Package rtlsdr provides an RTL-SDR dongle as signal source. It needs librtlsdr and cgo, build with -tags rtlsdr.
package rtlsdr

import (
	"context"
	"strings"
	"sync"

	rtl "github.com/jpoirier/gortlsdr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/source"
)

// ID of the RTL-SDR source.
const ID = "rtlsdr"

const (
	maxSampleRate  = 3200000
	chunkQueueSize = 64
)

// Constructor returns a source.Constructor for dongles that logs to the given logger.
func Constructor(logger *zap.Logger) source.Constructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(p source.Parameters) source.Device {
		return &Dongle{
			logger:     logger.With(zap.String("source", ID)),
			params:     p,
			gainMode:   source.GainModeAuto,
			readerDone: new(sync.WaitGroup),
		}
	}
}

// Dongle represents the RTL-SDR dongle. The params select the device index, default is 0.
type Dongle struct {
	logger *zap.Logger
	device *rtl.Context
	params source.Parameters

	ppm      float64
	gain     float64
	gainMode string
	problems []string

	chunks     chan []byte
	pending    []byte
	readerDone *sync.WaitGroup
}

// Open the dongle and start reading samples.
func (d *Dongle) Open() error {
	if d.device != nil {
		return nil
	}
	if d.params.SampleRate <= 0 || d.params.SampleRate > maxSampleRate {
		return errors.Wrapf(source.ErrInvalidConfiguration, "sample rate %d out of range", d.params.SampleRate)
	}
	if d.params.CentreFreq <= 0 {
		return errors.Wrapf(source.ErrInvalidConfiguration, "centre frequency %d out of range", d.params.CentreFreq)
	}
	index, err := deviceIndex(d.params.Params)
	if err != nil {
		return errors.Wrap(source.ErrInvalidConfiguration, err.Error())
	}
	if index >= rtl.GetDeviceCount() {
		return errors.Errorf("no RTL-SDR device with index %d", index)
	}

	device, err := rtl.Open(index)
	if err != nil {
		return errors.Wrap(err, "cannot open RTL-SDR device")
	}
	steps := []struct {
		name string
		do   func() error
	}{
		{"SetSampleRate", func() error { return device.SetSampleRate(d.params.SampleRate) }},
		{"SetCenterFreq", func() error { return device.SetCenterFreq(d.params.CentreFreq) }},
		{"SetTunerBw", func() error { return device.SetTunerBw(d.params.Bandwidth) }},
		{"ResetBuffer", device.ResetBuffer},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			device.Close()
			return errors.Wrap(source.ErrInvalidConfiguration, step.name+": "+err.Error())
		}
	}
	d.device = device
	d.applyPPM()
	d.applyGain()

	d.chunks = make(chan []byte, chunkQueueSize)
	d.pending = nil
	d.readerDone.Add(1)
	go func() {
		defer d.readerDone.Done()
		if err := device.ReadAsync(d.incomingData, nil, 0, 0); err != nil {
			d.logger.Error("reading from the dongle failed", zap.Error(err))
		}
	}()
	d.logger.Info("dongle open", zap.Int("index", index), zap.Int("sps", device.GetSampleRate()))
	return nil
}

// Close the dongle.
func (d *Dongle) Close() error {
	if d.device == nil {
		return nil
	}
	d.device.CancelAsync()
	d.readerDone.Wait()
	err := d.device.Close()
	d.device = nil
	return err
}

func (d *Dongle) incomingData(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	select {
	case d.chunks <- chunk:
	default:
		d.logger.Debug("sample chunk dropped")
	}
}

// NextSampleBlock collects 2n bytes from the dongle and converts them into n samples.
func (d *Dongle) NextSampleBlock(ctx context.Context, n int) (core.SampleBlock, error) {
	if d.device == nil {
		return nil, source.ErrNotOpen
	}
	for len(d.pending) < 2*n {
		select {
		case chunk := <-d.chunks:
			d.pending = append(d.pending, chunk...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	block := make(core.SampleBlock, n)
	if err := convertIQ8(d.pending[:2*n], block); err != nil {
		return nil, err
	}
	d.pending = append(d.pending[:0], d.pending[2*n:]...)
	return block, nil
}

func (d *Dongle) Connected() bool {
	return d.device != nil
}

func (d *Dongle) GetAndResetError() string {
	result := strings.Join(d.problems, "\n")
	d.problems = nil
	return result
}

func (d *Dongle) problem(err error) {
	if err != nil {
		d.problems = append(d.problems, err.Error())
	}
}

func (d *Dongle) CentreFrequency() int {
	if d.device != nil {
		return d.device.GetCenterFreq()
	}
	return d.params.CentreFreq
}

func (d *Dongle) SetCentreFrequency(hz int) error {
	if d.device != nil {
		if err := d.device.SetCenterFreq(hz); err != nil {
			return errors.Wrap(err, "cannot set centre frequency")
		}
	}
	d.params.CentreFreq = hz
	return nil
}

func (d *Dongle) Bandwidth() int {
	return d.params.Bandwidth
}

func (d *Dongle) SetBandwidth(hz int) error {
	if d.device != nil {
		if err := d.device.SetTunerBw(hz); err != nil {
			return errors.Wrap(err, "cannot set bandwidth")
		}
	}
	d.params.Bandwidth = hz
	return nil
}

func (d *Dongle) SampleRate() int {
	if d.device != nil {
		return d.device.GetSampleRate()
	}
	return d.params.SampleRate
}

func (d *Dongle) SetSampleRate(sps int) error {
	if sps <= 0 || sps > maxSampleRate {
		return errors.Errorf("sample rate %d out of range", sps)
	}
	if d.device != nil {
		if err := d.device.SetSampleRate(sps); err != nil {
			return errors.Wrap(err, "cannot set sample rate")
		}
	}
	d.params.SampleRate = sps
	return nil
}

// PPM of the dongle. The dongle only supports whole numbers.
func (d *Dongle) PPM() float64 {
	if d.device != nil {
		return float64(d.device.GetFreqCorrection())
	}
	return d.ppm
}

func (d *Dongle) SetPPM(ppm float64) error {
	d.ppm = ppm
	if d.device == nil {
		return nil
	}
	return d.applyPPM()
}

func (d *Dongle) applyPPM() error {
	return applyPPM(d.device, d.ppm)
}

// Gain in dB.
func (d *Dongle) Gain() float64 {
	if d.device != nil {
		return float64(d.device.GetTunerGain()) / 10
	}
	return d.gain
}

func (d *Dongle) SetGain(gain float64) error {
	d.gain = gain
	if d.device == nil {
		return nil
	}
	return d.applyGain()
}

func (d *Dongle) GainMode() string {
	return d.gainMode
}

func (d *Dongle) SetGainMode(mode string) error {
	if mode != source.GainModeAuto && mode != source.GainModeManual {
		return errors.Errorf("unknown gain mode %q", mode)
	}
	d.gainMode = mode
	if d.device == nil {
		return nil
	}
	return d.applyGain()
}

func (d *Dongle) GainModes() []string {
	return []string{source.GainModeAuto, source.GainModeManual}
}

func (d *Dongle) applyGain() error {
	return applyGain(d.device, d.gainMode, d.gain, d.problem)
}

func (d *Dongle) SampleType() string {
	return SampleFormat
}
