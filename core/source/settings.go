package source

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Limits of the built-in sources.
const (
	MaxSampleRate = 10000000
	MaxGain       = 49.6
	AutoGainValue = 20.0
)

// Gain modes of the built-in sources.
const (
	GainModeAuto   = "auto"
	GainModeManual = "manual"
)

// settings holds the tunable state that all built-in sources share.
type settings struct {
	params    Parameters
	ppm       float64
	gain      float64
	gainMode  string
	connected bool
	problems  []string
}

func newSettings(p Parameters) settings {
	return settings{
		params:   p,
		gainMode: GainModeAuto,
	}
}

func (s *settings) validate() error {
	switch {
	case s.params.SampleRate <= 0 || s.params.SampleRate > MaxSampleRate:
		return errors.Wrapf(ErrInvalidConfiguration, "sample rate %d out of range", s.params.SampleRate)
	case s.params.CentreFreq < 0:
		return errors.Wrapf(ErrInvalidConfiguration, "centre frequency %d out of range", s.params.CentreFreq)
	case s.params.Bandwidth < 0:
		return errors.Wrapf(ErrInvalidConfiguration, "bandwidth %d out of range", s.params.Bandwidth)
	}
	return nil
}

func (s *settings) problem(format string, args ...interface{}) {
	s.problems = append(s.problems, fmt.Sprintf(format, args...))
}

func (s *settings) Connected() bool {
	return s.connected
}

func (s *settings) GetAndResetError() string {
	result := strings.Join(s.problems, "\n")
	s.problems = nil
	return result
}

func (s *settings) CentreFrequency() int {
	return s.params.CentreFreq
}

func (s *settings) SetCentreFrequency(hz int) error {
	if hz < 0 {
		return errors.Errorf("centre frequency %d out of range", hz)
	}
	s.params.CentreFreq = hz
	return nil
}

func (s *settings) Bandwidth() int {
	return s.params.Bandwidth
}

func (s *settings) SetBandwidth(hz int) error {
	if hz < 0 {
		return errors.Errorf("bandwidth %d out of range", hz)
	}
	s.params.Bandwidth = hz
	return nil
}

func (s *settings) SampleRate() int {
	return s.params.SampleRate
}

func (s *settings) SetSampleRate(sps int) error {
	if sps <= 0 || sps > MaxSampleRate {
		return errors.Errorf("sample rate %d out of range", sps)
	}
	s.params.SampleRate = sps
	return nil
}

func (s *settings) PPM() float64 {
	return s.ppm
}

func (s *settings) SetPPM(ppm float64) error {
	if math.Abs(ppm) > 1000 {
		return errors.Errorf("ppm %g out of range", ppm)
	}
	s.ppm = ppm
	return nil
}

// Gain in auto mode is chosen by the source itself.
func (s *settings) Gain() float64 {
	if s.gainMode == GainModeAuto {
		return AutoGainValue
	}
	return s.gain
}

// SetGain clamps the gain to the supported range and rounds it to 0.1dB steps.
func (s *settings) SetGain(gain float64) error {
	if gain < 0 || gain > MaxGain {
		s.problem("gain %g clamped to [0,%g]", gain, MaxGain)
	}
	gain = math.Max(0, math.Min(MaxGain, gain))
	s.gain = math.Round(gain*10) / 10
	return nil
}

func (s *settings) GainMode() string {
	return s.gainMode
}

func (s *settings) SetGainMode(mode string) error {
	for _, m := range s.GainModes() {
		if m == mode {
			s.gainMode = mode
			return nil
		}
	}
	return errors.Errorf("unknown gain mode %q", mode)
}

func (s *settings) GainModes() []string {
	return []string{GainModeAuto, GainModeManual}
}

func (s *settings) SampleType() string {
	return s.params.Format
}
