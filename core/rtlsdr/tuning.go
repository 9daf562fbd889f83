package rtlsdr

import (
	"math"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core/source"
)

// tuner is the part of the dongle that controls gain and frequency correction.
type tuner interface {
	GetFreqCorrection() int
	SetFreqCorrection(ppm int) error
	SetTunerGainMode(manual bool) error
	GetTunerGains() ([]int, error)
	SetTunerGain(gain int) error
}

// applyPPM sets the frequency correction, rounded to whole ppm.
func applyPPM(t tuner, ppm float64) error {
	rounded := int(math.Round(ppm))
	if rounded == t.GetFreqCorrection() {
		return nil
	}
	return errors.Wrap(t.SetFreqCorrection(rounded), "cannot set frequency correction")
}

// applyGain sets the gain mode and, in manual mode, the supported gain nearest to the given gain in dB.
// Problems that do not prevent setting the gain are passed to report.
func applyGain(t tuner, mode string, gain float64, report func(error)) error {
	manual := mode == source.GainModeManual
	if err := t.SetTunerGainMode(manual); err != nil {
		return errors.Wrap(err, "cannot set gain mode")
	}
	if !manual {
		return nil
	}

	gains, err := t.GetTunerGains()
	if err != nil {
		report(errors.Wrap(err, "cannot read the supported gains"))
	}
	return errors.Wrap(t.SetTunerGain(nearestGain(gains, int(math.Round(gain*10)))), "cannot set gain")
}
