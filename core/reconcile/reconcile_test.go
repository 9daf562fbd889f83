package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/source"
)

func TestApplyConfig_IdenticalRequestDoesNotTouchTheDevice(t *testing.T) {
	r, _, windows := setupReconciler()
	current := openConfig()
	dev := newFakeDevice(source.Parameters{ID: current.SourceID})
	req := current.Request()
	req.UUID = "new-uuid"

	result := r.ApplyConfig(&current, req, dev)

	assert.True(t, result == dev)
	assert.Empty(t, dev.calls)
	assert.Equal(t, 0, windows.calls)
	assert.Equal(t, "new-uuid", current.UUID)
}

func TestApplyConfig_EachChangedFieldIsSetAndReadBackOnce(t *testing.T) {
	tt := []struct {
		name   string
		change func(*core.ConfigRequest)
		set    string
		get    string
		check  func(*testing.T, core.SourceConfig)
	}{
		{"centre", func(r *core.ConfigRequest) { r.CentreFrequencyHz = 7100123 }, "SetCentreFrequency", "CentreFrequency",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, 7100000, c.CentreFreqHz) }},
		{"bandwidth", func(r *core.ConfigRequest) { r.SdrBwHz = 300000 }, "SetBandwidth", "Bandwidth",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, 300000, c.BandwidthHz) }},
		{"ppm", func(r *core.ConfigRequest) { r.PPMError = 3.5 }, "SetPPM", "PPM",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, 3.5, c.PPMError) }},
		{"sps", func(r *core.ConfigRequest) { r.Sps = 96000 }, "SetSampleRate", "SampleRate",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, 96000, c.SampleRateHz) }},
		{"gain", func(r *core.ConfigRequest) { r.Gain = 33.33 }, "SetGain", "Gain",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, 33.3, c.Gain) }},
		{"gainMode", func(r *core.ConfigRequest) { r.GainMode = source.GainModeAuto }, "SetGainMode", "GainMode",
			func(t *testing.T, c core.SourceConfig) { assert.Equal(t, source.GainModeAuto, c.GainMode) }},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			r, _, _ := setupReconciler()
			current := openConfig()
			dev := newFakeDevice(source.Parameters{ID: current.SourceID})
			req := current.Request()
			tc.change(&req)

			result := r.ApplyConfig(&current, req, dev)

			assert.True(t, result == dev)
			assert.Equal(t, 1, dev.count(tc.set))
			assert.Equal(t, 1, dev.count(tc.get))
			assert.Equal(t, 2, len(dev.calls)-dev.count("GetAndResetError"), "%v", dev.calls)
			tc.check(t, current)
		})
	}
}

func TestApplyConfig_LocalFields(t *testing.T) {
	r, _, windows := setupReconciler()
	current := openConfig()
	dev := newFakeDevice(source.Parameters{ID: current.SourceID})
	req := current.Request()
	req.RealCentreFrequencyHz = 145500000
	req.FFTSize = 4096
	req.Window = string(core.Blackman)

	r.ApplyConfig(&current, req, dev)

	assert.Empty(t, dev.calls)
	assert.Equal(t, 145500000, current.RealCentreFreqHz)
	assert.Equal(t, 4096, current.FFTSize)
	assert.Equal(t, core.Blackman, current.Window)
	assert.Equal(t, 1, windows.calls)
}

func TestApplyConfig_UnknownWindowResolvesToHamming(t *testing.T) {
	r, _, _ := setupReconciler()
	current := openConfig()
	current.Window = core.Blackman
	dev := newFakeDevice(source.Parameters{ID: current.SourceID})
	req := current.Request()
	req.Window = "Triangle"

	r.ApplyConfig(&current, req, dev)

	assert.Equal(t, core.Hamming, current.Window)
}

func TestApplyConfig_DeviceErrorsAreAccumulated(t *testing.T) {
	r, _, _ := setupReconciler()
	current := openConfig()
	dev := newFakeDevice(source.Parameters{ID: current.SourceID, CentreFreq: current.CentreFreqHz})
	dev.setErr = errors.New("tuner refused")
	dev.problems = []string{"pll not locked"}
	req := current.Request()
	req.CentreFrequencyHz = 1

	r.ApplyConfig(&current, req, dev)

	assert.Equal(t, 7100000, current.CentreFreqHz)
	assert.Equal(t, "tuner refused\npll not locked", current.Errors)
}

func TestApplyConfig_EmptyIdentityIsRejected(t *testing.T) {
	for _, field := range []string{"source", "sourceParams", "dataFormat"} {
		t.Run(field, func(t *testing.T) {
			r, factory, _ := setupReconciler()
			current := openConfig()
			before := current.Clone()
			dev := newFakeDevice(source.Parameters{ID: current.SourceID})
			req := current.Request()
			req.Source, req.SourceParams, req.DataFormat = "tone", "1000", "CF64"
			switch field {
			case "source":
				req.Source = ""
			case "sourceParams":
				req.SourceParams = ""
			case "dataFormat":
				req.DataFormat = ""
			}
			req.UUID = "x"

			result := r.ApplyConfig(&current, req, dev)

			assert.True(t, result == dev)
			assert.Empty(t, dev.calls)
			assert.Empty(t, factory.created)
			before.UUID = "x"
			assert.Equal(t, before, current)
		})
	}
}

func TestApplyConfig_IdentityChange(t *testing.T) {
	r, factory, _ := setupReconciler()
	current := openConfig()
	old := newFakeDevice(source.Parameters{ID: current.SourceID})
	old.problems = []string{"old problem"}
	req := current.Request()
	req.Source, req.SourceParams, req.DataFormat = "tone", "1000", "CF64"
	req.CentreFrequencyHz = 14074000
	req.Sps = 1

	result := r.ApplyConfig(&current, req, old)

	require.Len(t, factory.created, 1)
	created := factory.created[0]
	assert.True(t, result == created)
	assert.Equal(t, source.Parameters{ID: "tone", Params: "1000", Format: "CF64", SampleRate: 48000, CentreFreq: 14074000}, created.params)
	assert.Equal(t, 1, old.count("Close"))
	assert.Equal(t, 1, created.count("Open"))
	assert.Equal(t, "tone", current.SourceID)
	assert.Equal(t, 14074000, current.CentreFreqHz)
	assert.Equal(t, 48000, current.SampleRateHz, "only identity and centre frequency are taken from the request")
	assert.True(t, current.Connected)
	assert.Equal(t, "old problem", current.Errors)
}

func TestApplyConfig_OpenFailureFallsBackToNull(t *testing.T) {
	r, factory, _ := setupReconciler()
	factory.openErr["broken"] = errors.Wrap(source.ErrInvalidConfiguration, "sample rate too high")
	current := openConfig()
	old := newFakeDevice(source.Parameters{ID: current.SourceID})
	req := current.Request()
	req.Source, req.SourceParams, req.DataFormat = "broken", "0", "CS8"

	result := r.ApplyConfig(&current, req, old)

	require.Len(t, factory.created, 2)
	assert.True(t, result == factory.created[1])
	assert.Equal(t, core.NullSourceID, factory.created[1].params.ID)
	assert.Equal(t, core.NullSourceID, current.SourceID)
	assert.False(t, current.Connected)
	assert.Contains(t, current.Errors, "sample rate too high")
}

func TestApplyConfig_RejectedSourceIsNamedInErrors(t *testing.T) {
	r := New(source.NewRegistry(), &fakeWindows{kind: core.Hamming}, nil, nil)
	current := openConfig()
	req := current.Request()
	req.Source = "nosuchsource"

	dev := r.ApplyConfig(&current, req, nil)

	assert.Equal(t, core.NullSourceID, current.SourceID)
	assert.False(t, dev.Connected())
	errs := current.DrainErrors()
	assert.Contains(t, errs, `source "nosuchsource" rejected, using the null source`)
	assert.Equal(t, 1, strings.Count(errs, "nosuchsource"), errs)
}

func TestOpenSource(t *testing.T) {
	r, _, _ := setupReconciler()
	current := core.SourceConfig{
		SourceID:     "tone",
		SampleFormat: "",
		SampleRateHz: 48000,
		CentreFreqHz: 7100000,
		Gain:         12,
		GainMode:     source.GainModeManual,
		PPMError:     1.5,
	}
	dev := newFakeDevice(source.Parameters{ID: "tone", Format: "CF64", SampleRate: 47999, CentreFreq: 7100000})

	err := r.OpenSource(&current, dev)

	require.NoError(t, err)
	assert.Equal(t, []string{"SetGainMode", "SetGain", "Open"}, dev.without("GetAndResetError")[:3])
	assert.Equal(t, "CF64", current.SampleFormat)
	assert.Equal(t, 47999, current.SampleRateHz)
	assert.Equal(t, []string{source.GainModeAuto, source.GainModeManual}, current.GainModes)
	assert.Equal(t, 1, dev.count("SetPPM"), "zero ppm on the device is replaced by the local value")
	assert.Equal(t, 1.5, dev.ppm)
	assert.True(t, current.Connected)
}

func TestOpenSource_AdoptsDevicePPM(t *testing.T) {
	r, _, _ := setupReconciler()
	current := core.SourceConfig{SourceID: "tone", SampleRateHz: 48000, PPMError: 1.5}
	dev := newFakeDevice(source.Parameters{ID: "tone", SampleRate: 48000})
	dev.ppm = -7

	require.NoError(t, r.OpenSource(&current, dev))

	assert.Equal(t, 0, dev.count("SetPPM"))
	assert.Equal(t, -7.0, current.PPMError)
}

func TestUpdateSource_RestoresGain(t *testing.T) {
	r, factory, _ := setupReconciler()
	factory.openGain["tone"] = 0
	current := openConfig()
	current.SourceID = "tone"
	current.Gain = 25

	dev := r.UpdateSource(&current)

	fake := dev.(*fakeDevice)
	assert.Equal(t, 2, fake.count("SetGain"))
	assert.Equal(t, 25.0, current.Gain)
	assert.True(t, current.Connected)
}

func TestRefreshDriftedFields(t *testing.T) {
	r, _, _ := setupReconciler()
	current := openConfig()
	dev := newFakeDevice(source.Parameters{ID: current.SourceID, SampleRate: current.SampleRateHz, CentreFreq: current.CentreFreqHz})
	dev.gainMode = current.GainMode
	dev.gain = current.Gain

	assert.False(t, r.RefreshDriftedFields(&current, dev))

	dev.gain = 40
	dev.params.SampleRate = 47000
	assert.True(t, r.RefreshDriftedFields(&current, dev))
	assert.Equal(t, 40.0, current.Gain)
	assert.Equal(t, 47000, current.SampleRateHz)
	assert.False(t, r.RefreshDriftedFields(&current, nil))
}

func setupReconciler() (*Reconciler, *fakeFactory, *fakeWindows) {
	factory := &fakeFactory{openErr: make(map[string]error), openGain: make(map[string]float64)}
	windows := &fakeWindows{kind: core.Hamming}
	return New(factory, windows, nil, nil), factory, windows
}

func openConfig() core.SourceConfig {
	return core.SourceConfig{
		SourceID:         "noise",
		SourceParams:     "0",
		SampleFormat:     "CF64",
		SampleRateHz:     48000,
		CentreFreqHz:     7100000,
		RealCentreFreqHz: 7100000,
		BandwidthHz:      0,
		PPMError:         0,
		Gain:             12,
		GainMode:         source.GainModeManual,
		GainModes:        []string{source.GainModeAuto, source.GainModeManual},
		FFTSize:          2048,
		Window:           core.Hamming,
		Connected:        true,
		UUID:             "uuid",
	}
}

type fakeWindows struct {
	kind  core.WindowKind
	calls int
}

func (w *fakeWindows) SetWindow(kind core.WindowKind) {
	w.calls++
	w.kind, _ = core.ParseWindowKind(string(kind))
}

func (w *fakeWindows) Window() core.WindowKind {
	return w.kind
}

type fakeFactory struct {
	created  []*fakeDevice
	openErr  map[string]error
	openGain map[string]float64
}

func (f *fakeFactory) Create(id, params, format string, sampleRate, centreFreq, bandwidth int) source.Device {
	result := newFakeDevice(source.Parameters{ID: id, Params: params, Format: format, SampleRate: sampleRate, CentreFreq: centreFreq, Bandwidth: bandwidth})
	result.openErr = f.openErr[id]
	if gain, ok := f.openGain[id]; ok {
		result.openGain = &gain
	}
	f.created = append(f.created, result)
	return result
}

// fakeDevice records all calls. The centre frequency has a resolution of 100kHz, the gain of 0.1dB.
type fakeDevice struct {
	params    source.Parameters
	calls     []string
	open      bool
	openErr   error
	openGain  *float64
	setErr    error
	problems  []string
	ppm       float64
	gain      float64
	gainMode  string
	connected bool
}

func newFakeDevice(p source.Parameters) *fakeDevice {
	return &fakeDevice{params: p, gainMode: source.GainModeManual}
}

func (d *fakeDevice) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *fakeDevice) count(call string) int {
	result := 0
	for _, c := range d.calls {
		if c == call {
			result++
		}
	}
	return result
}

func (d *fakeDevice) without(call string) []string {
	result := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		if c != call {
			result = append(result, c)
		}
	}
	return result
}

func (d *fakeDevice) Open() error {
	d.record("Open")
	if d.openErr != nil {
		return d.openErr
	}
	if d.openGain != nil {
		d.gain = *d.openGain
	}
	d.open = true
	d.connected = d.params.ID != core.NullSourceID
	return nil
}

func (d *fakeDevice) Close() error {
	d.record("Close")
	d.open = false
	d.connected = false
	return nil
}

func (d *fakeDevice) Connected() bool {
	return d.connected
}

func (d *fakeDevice) GetAndResetError() string {
	d.record("GetAndResetError")
	result := strings.Join(d.problems, "\n")
	d.problems = nil
	return result
}

func (d *fakeDevice) CentreFrequency() int {
	d.record("CentreFrequency")
	return d.params.CentreFreq
}

func (d *fakeDevice) SetCentreFrequency(hz int) error {
	d.record("SetCentreFrequency")
	if d.setErr != nil {
		return d.setErr
	}
	d.params.CentreFreq = (hz / 100000) * 100000
	return nil
}

func (d *fakeDevice) Bandwidth() int {
	d.record("Bandwidth")
	return d.params.Bandwidth
}

func (d *fakeDevice) SetBandwidth(hz int) error {
	d.record("SetBandwidth")
	d.params.Bandwidth = hz
	return d.setErr
}

func (d *fakeDevice) SampleRate() int {
	d.record("SampleRate")
	return d.params.SampleRate
}

func (d *fakeDevice) SetSampleRate(sps int) error {
	d.record("SetSampleRate")
	d.params.SampleRate = sps
	return d.setErr
}

func (d *fakeDevice) PPM() float64 {
	d.record("PPM")
	return d.ppm
}

func (d *fakeDevice) SetPPM(ppm float64) error {
	d.record("SetPPM")
	d.ppm = ppm
	return d.setErr
}

func (d *fakeDevice) Gain() float64 {
	d.record("Gain")
	return d.gain
}

func (d *fakeDevice) SetGain(gain float64) error {
	d.record("SetGain")
	d.gain = float64(int(gain*10)) / 10
	return d.setErr
}

func (d *fakeDevice) GainMode() string {
	d.record("GainMode")
	return d.gainMode
}

func (d *fakeDevice) SetGainMode(mode string) error {
	d.record("SetGainMode")
	if mode != source.GainModeAuto && mode != source.GainModeManual {
		return fmt.Errorf("unknown gain mode %q", mode)
	}
	d.gainMode = mode
	return d.setErr
}

func (d *fakeDevice) GainModes() []string {
	d.record("GainModes")
	return []string{source.GainModeAuto, source.GainModeManual}
}

func (d *fakeDevice) SampleType() string {
	d.record("SampleType")
	return d.params.Format
}

func (d *fakeDevice) NextSampleBlock(ctx context.Context, n int) (core.SampleBlock, error) {
	return make(core.SampleBlock, n), nil
}
