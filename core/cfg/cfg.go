// Package cfg provides the configuration defaults of panaweb. Station specific defaults are read from the
// shared hamradio configuration file (~/.config/hamradio/conf.json), section "panaweb".
package cfg

import (
	"time"

	"github.com/ftl/hamradio/cfg"

	"github.com/ftl/panaweb/core"
)

const (
	listenAddress cfg.Key = "panaweb.listenAddress"
	source        cfg.Key = "panaweb.source"
	sourceParams  cfg.Key = "panaweb.sourceParams"
	sampleFormat  cfg.Key = "panaweb.sampleFormat"
	sampleRate    cfg.Key = "panaweb.sampleRate"
	centreFreq    cfg.Key = "panaweb.centreFrequency"
	bandwidth     cfg.Key = "panaweb.bandwidth"
	ppmError      cfg.Key = "panaweb.frequencyCorrection"
	gain          cfg.Key = "panaweb.gain"
	gainMode      cfg.Key = "panaweb.gainMode"
	fftSize       cfg.Key = "panaweb.fftSize"
	window        cfg.Key = "panaweb.window"
	fftPerSecond  cfg.Key = "panaweb.fftPerSecond"
	vfoHost       cfg.Key = "panaweb.vfoHost"
	mqttBroker    cfg.Key = "panaweb.mqtt.broker"
	mqttTopic     cfg.Key = "panaweb.mqtt.topic"
)

// getter is the read access to the hamradio configuration.
type getter interface {
	Get(key cfg.Key, defaultValue interface{}) interface{}
}

// Load the station defaults on top of the static defaults.
func Load() (core.Configuration, error) {
	configuration, err := cfg.LoadDefault()
	if err != nil {
		return core.Configuration{}, err
	}
	return fromStation(configuration), nil
}

func fromStation(configuration getter) core.Configuration {
	result := Static()

	str := func(key cfg.Key, value *string) {
		if s, ok := configuration.Get(key, *value).(string); ok {
			*value = s
		}
	}
	// numbers in JSON are always float64
	num := func(key cfg.Key, value *float64) {
		if f, ok := configuration.Get(key, *value).(float64); ok {
			*value = f
		}
	}
	integer := func(key cfg.Key, value *int) {
		f := float64(*value)
		num(key, &f)
		*value = int(f)
	}

	str(listenAddress, &result.ListenAddress)
	str(source, &result.Source)
	str(sourceParams, &result.SourceParams)
	str(sampleFormat, &result.SampleFormat)
	integer(sampleRate, &result.SampleRate)
	integer(centreFreq, &result.CentreFreq)
	integer(bandwidth, &result.Bandwidth)
	num(ppmError, &result.PPMError)
	num(gain, &result.Gain)
	str(gainMode, &result.GainMode)
	integer(fftSize, &result.FFTSize)
	windowName := string(result.Window)
	str(window, &windowName)
	result.Window, _ = core.ParseWindowKind(windowName)
	integer(fftPerSecond, &result.FramesPerSecond)
	str(vfoHost, &result.VFOHost)
	str(mqttBroker, &result.MQTTBroker)
	str(mqttTopic, &result.MQTTTopic)

	return result
}

// Static returns the built-in defaults.
func Static() core.Configuration {
	return core.Configuration{
		ListenAddress: ":5555",

		Source:       "noise",
		SourceParams: "0",
		SampleFormat: "CF64",
		SampleRate:   2048000,
		CentreFreq:   145500000,
		Bandwidth:    0,
		PPMError:     0,
		Gain:         20,
		GainMode:     "auto",
		FFTSize:      2048,
		Window:       core.Hamming,

		FramesPerSecond:       20,
		QueueDepth:            10,
		StallTimeout:          500 * time.Millisecond,
		CalibrationIterations: 500,
		PeakHoldFrames:        40,

		MQTTTopic: "panaweb/status",
	}
}
