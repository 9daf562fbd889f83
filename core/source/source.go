// Package source defines the capability of a signal source as it is used by the reconciler and
// the producer loop, and provides the built-in sources.
package source

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// Device is a signal source. A device is owned by exactly one goroutine at a time.
// Setters report device failures as error values, the device never panics.
type Device interface {
	// Open the device. An error wrapping ErrInvalidConfiguration indicates an invalid combination of parameters.
	Open() error
	Close() error
	Connected() bool
	// GetAndResetError returns the text of all problems the device noticed since the last call.
	GetAndResetError() string

	CentreFrequency() int
	SetCentreFrequency(hz int) error
	Bandwidth() int
	SetBandwidth(hz int) error
	SampleRate() int
	SetSampleRate(sps int) error
	PPM() float64
	SetPPM(ppm float64) error
	Gain() float64
	SetGain(gain float64) error
	GainMode() string
	SetGainMode(mode string) error
	GainModes() []string
	SampleType() string

	// NextSampleBlock blocks until n samples are available or the context is done.
	NextSampleBlock(ctx context.Context, n int) (core.SampleBlock, error)
}

// Factory creates devices. Creating a device never fails, only opening it may fail.
type Factory interface {
	Create(id, params, format string, sampleRate, centreFreq, bandwidth int) Device
}

// Parameters are the construction parameters of a device.
type Parameters struct {
	ID         string
	Params     string
	Format     string
	SampleRate int
	CentreFreq int
	Bandwidth  int
}

// ErrInvalidConfiguration is returned by Open for invalid combinations of frequency, rate or size.
var ErrInvalidConfiguration = errors.New("invalid source configuration")

// ErrNotOpen is returned when a device is used before it was opened.
var ErrNotOpen = errors.New("source is not open")

// IsInvalidConfiguration reports whether the given error was caused by an invalid configuration.
func IsInvalidConfiguration(err error) bool {
	return errors.Cause(err) == ErrInvalidConfiguration
}
