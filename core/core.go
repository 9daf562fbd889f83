package core

import (
	"fmt"
	"strings"
	"time"
)

// Frequency represents a frequency in Hz.
type Frequency float64

func (f Frequency) String() string {
	return fmt.Sprintf("%.2fHz", f)
}

// FrequencyRange represents a range of frequencies.
type FrequencyRange struct {
	From, To Frequency
}

func (r FrequencyRange) String() string {
	return fmt.Sprintf("[%v,%v]", r.From, r.To)
}

// Center frequency of this range.
func (r FrequencyRange) Center() Frequency {
	return r.From + (r.To-r.From)/2
}

// Width of the frequency range.
func (r FrequencyRange) Width() Frequency {
	return r.To - r.From
}

// Contains the given frequency.
func (r FrequencyRange) Contains(f Frequency) bool {
	return f >= r.From && f <= r.To
}

// DB represents decibel (dB).
type DB float64

func (f DB) String() string {
	return fmt.Sprintf("%.2fdB", f)
}

// SampleBlock is one block of complex I/Q samples, len == FFT size.
type SampleBlock []complex128

// WindowKind names a window function. The values are the names used by the web UI.
type WindowKind string

// All supported window kinds.
const (
	Hamming     WindowKind = "Hamming"
	Hanning     WindowKind = "Hanning"
	Blackman    WindowKind = "Blackman"
	Kaiser16    WindowKind = "Kaiser_16"
	Bartlett    WindowKind = "Bartlett"
	Rectangular WindowKind = "rectangular"
)

// DefaultWindow is used whenever a window name is not recognized.
const DefaultWindow = Hamming

// WindowKinds returns all supported window kinds in UI order.
func WindowKinds() []WindowKind {
	return []WindowKind{Hamming, Hanning, Blackman, Kaiser16, Bartlett, Rectangular}
}

// ParseWindowKind resolves the given name to a window kind. Unknown names resolve to Hamming, ok is false then.
func ParseWindowKind(name string) (kind WindowKind, ok bool) {
	for _, k := range WindowKinds() {
		if string(k) == name {
			return k, true
		}
	}
	return DefaultWindow, false
}

// SpectrumFrame is the result of processing one sample block. It is never modified after it was published.
type SpectrumFrame struct {
	SampleRateHz int
	CentreFreqHz int
	Magnitudes   []float32
	PeakHold     []float32
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Bins of this frame.
func (f *SpectrumFrame) Bins() int {
	return len(f.Magnitudes)
}

// NullSourceID is the identity of the sentinel source that is used when no real source could be opened.
const NullSourceID = "null"

// SourceConfig is the authoritative configuration of the signal source, as shown to the UI.
type SourceConfig struct {
	SourceID         string     `json:"source" yaml:"source"`
	SourceParams     string     `json:"sourceParams" yaml:"sourceParams"`
	SampleFormat     string     `json:"dataFormat" yaml:"dataFormat"`
	SampleRateHz     int        `json:"sps" yaml:"sps"`
	CentreFreqHz     int        `json:"centreFrequencyHz" yaml:"centreFrequencyHz"`
	RealCentreFreqHz int        `json:"realCentreFrequencyHz" yaml:"realCentreFrequencyHz"`
	BandwidthHz      int        `json:"sdrBwHz" yaml:"sdrBwHz"`
	PPMError         float64    `json:"ppmError" yaml:"ppmError"`
	Gain             float64    `json:"gain" yaml:"gain"`
	GainMode         string     `json:"gainMode" yaml:"gainMode"`
	GainModes        []string   `json:"gainModes" yaml:"gainModes"`
	FFTSize          int        `json:"fftSize" yaml:"fftSize"`
	Window           WindowKind `json:"window" yaml:"window"`
	Connected        bool       `json:"sourceConnected" yaml:"sourceConnected"`
	Errors           string     `json:"errors" yaml:"errors"`
	UUID             string     `json:"uuid" yaml:"uuid"`
}

// AddError appends the given text to the accumulated error text. Empty text is ignored.
func (c *SourceConfig) AddError(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.Errors == "" {
		c.Errors = text
		return
	}
	c.Errors = c.Errors + "\n" + text
}

// DrainErrors returns the accumulated error text and clears it.
func (c *SourceConfig) DrainErrors() string {
	result := c.Errors
	c.Errors = ""
	return result
}

// Span is the frequency range covered by the current sample rate around the centre frequency.
func (c SourceConfig) Span() FrequencyRange {
	half := Frequency(c.SampleRateHz) / 2
	centre := Frequency(c.CentreFreqHz)
	return FrequencyRange{From: centre - half, To: centre + half}
}

// Clone returns a deep copy of this configuration.
func (c SourceConfig) Clone() SourceConfig {
	result := c
	if c.GainModes != nil {
		result.GainModes = append([]string(nil), c.GainModes...)
	}
	return result
}

// Request returns a reconfiguration request that matches this configuration in every field.
func (c SourceConfig) Request() ConfigRequest {
	return ConfigRequest{
		Source:                c.SourceID,
		SourceParams:          c.SourceParams,
		DataFormat:            c.SampleFormat,
		CentreFrequencyHz:     c.CentreFreqHz,
		RealCentreFrequencyHz: c.RealCentreFreqHz,
		SdrBwHz:               c.BandwidthHz,
		PPMError:              c.PPMError,
		Window:                string(c.Window),
		Sps:                   c.SampleRateHz,
		FFTSize:               c.FFTSize,
		Gain:                  c.Gain,
		GainMode:              c.GainMode,
		UUID:                  c.UUID,
	}
}

// Configuration parameters of the application.
type Configuration struct {
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address"`

	Source       string     `yaml:"source" mapstructure:"source"`
	SourceParams string     `yaml:"source_params" mapstructure:"source_params"`
	SampleFormat string     `yaml:"sample_format" mapstructure:"sample_format"`
	SampleRate   int        `yaml:"sample_rate" mapstructure:"sample_rate"`
	CentreFreq   int        `yaml:"centre_frequency" mapstructure:"centre_frequency"`
	Bandwidth    int        `yaml:"bandwidth" mapstructure:"bandwidth"`
	PPMError     float64    `yaml:"ppm_error" mapstructure:"ppm_error"`
	Gain         float64    `yaml:"gain" mapstructure:"gain"`
	GainMode     string     `yaml:"gain_mode" mapstructure:"gain_mode"`
	FFTSize      int        `yaml:"fft_size" mapstructure:"fft_size"`
	Window       WindowKind `yaml:"window" mapstructure:"window"`

	FramesPerSecond       int           `yaml:"frames_per_second" mapstructure:"frames_per_second"`
	QueueDepth            int           `yaml:"queue_depth" mapstructure:"queue_depth"`
	StallTimeout          time.Duration `yaml:"stall_timeout" mapstructure:"stall_timeout"`
	CalibrationIterations int           `yaml:"calibration_iterations" mapstructure:"calibration_iterations"`
	PeakHoldFrames        int           `yaml:"peak_hold_frames" mapstructure:"peak_hold_frames"`

	VFOHost string `yaml:"vfo_host" mapstructure:"vfo_host"`

	MQTTBroker string `yaml:"mqtt_broker" mapstructure:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic" mapstructure:"mqtt_topic"`
}

// SourceConfig returns the initial source configuration derived from the application configuration.
func (c Configuration) SourceConfig() SourceConfig {
	return SourceConfig{
		SourceID:         c.Source,
		SourceParams:     c.SourceParams,
		SampleFormat:     c.SampleFormat,
		SampleRateHz:     c.SampleRate,
		CentreFreqHz:     c.CentreFreq,
		RealCentreFreqHz: c.CentreFreq,
		BandwidthHz:      c.Bandwidth,
		PPMError:         c.PPMError,
		Gain:             c.Gain,
		GainMode:         c.GainMode,
		FFTSize:          c.FFTSize,
		Window:           c.Window,
	}
}
