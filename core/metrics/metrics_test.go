package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ftl/panaweb/core/dsp"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordFrame(time.Millisecond)
		m.RecordFrameSent()
		m.RecordFrameDropped()
		m.RecordSendError()
		m.RecordConnect()
		m.RecordDisconnect()
		m.RecordCalibration(1024, dsp.Planner, dsp.Timings{}, time.Second)
		m.RecordReconcileError("open")
		m.RecordReconfiguration("identity")
		m.SetSourceConnected(true)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFrame(time.Millisecond)
	m.RecordFrame(time.Millisecond)
	m.RecordFrameSent()
	m.RecordFrameDropped()
	m.RecordConnect()
	m.RecordConnect()
	m.RecordDisconnect()
	m.SetSourceConnected(true)
	m.RecordReconcileError("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileErrors.WithLabelValues("open")))
}

func TestRecordCalibration(t *testing.T) {
	m := New(prometheus.NewRegistry())
	timings := dsp.Timings{
		dsp.Reference: 2 * time.Millisecond,
		dsp.Planner:   time.Millisecond,
		dsp.Offload:   dsp.Unavailable,
	}

	m.RecordCalibration(1024, dsp.Planner, timings, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectedBackend.WithLabelValues("planner")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.selectedBackend.WithLabelValues("reference")))
	assert.Equal(t, 0.002, testutil.ToFloat64(m.calibrationTime.WithLabelValues("reference")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.calibrationTime), "unavailable backends have no timing")
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
