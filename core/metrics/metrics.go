// Package metrics provides the Prometheus collectors of the spectrum server. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ftl/panaweb/core/dsp"
)

const namespace = "panaweb"

// Metrics holds all collectors.
type Metrics struct {
	framesProduced   prometheus.Counter
	framesSent       prometheus.Counter
	framesDropped    prometheus.Counter
	sendErrors       prometheus.Counter
	connections      prometheus.Gauge
	processing       prometheus.Histogram
	calibrationTime  *prometheus.GaugeVec // per backend, seconds for one transform
	selectedBackend  *prometheus.GaugeVec // 1 for the backend in use
	calibrations     prometheus.Counter
	reconcileErrors  *prometheus.CounterVec // per operation
	reconfigurations *prometheus.CounterVec // identity or parameters
	sourceConnected  prometheus.Gauge
}

// New creates all collectors and registers them with the given registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		framesProduced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_produced_total",
			Help:      "Spectrum frames computed by the producer",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Spectrum frames sent to viewers, summed over all connections",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded for stalled viewers",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed frame sends",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently connected viewers",
		}),
		processing: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Time to compute one spectrum frame",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		calibrationTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_transform_seconds",
			Help:      "Measured time of one transform per backend, at the last calibration",
		}, []string{"backend"}),
		selectedBackend: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_backend",
			Help:      "1 for the transform backend in use",
		}, []string{"backend"}),
		calibrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Backend calibrations",
		}),
		reconcileErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Device errors noticed during reconciliation",
		}, []string{"operation"}),
		reconfigurations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconfigurations_total",
			Help:      "Applied configuration requests",
		}, []string{"kind"}),
		sourceConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_connected",
			Help:      "1 if the signal source is connected",
		}),
	}
}

// RecordFrame records one produced frame and the time it took to compute.
func (m *Metrics) RecordFrame(processing time.Duration) {
	if m == nil {
		return
	}
	m.framesProduced.Inc()
	m.processing.Observe(processing.Seconds())
}

func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// RecordCalibration has the signature of a dsp.CalibrationObserver.
func (m *Metrics) RecordCalibration(_ int, choice dsp.BackendChoice, timings dsp.Timings, _ time.Duration) {
	if m == nil {
		return
	}
	m.calibrations.Inc()
	for _, backend := range dsp.BackendChoices() {
		timing, ok := timings[backend]
		if !ok || timing == dsp.Unavailable {
			m.calibrationTime.DeleteLabelValues(backend.String())
		} else {
			m.calibrationTime.WithLabelValues(backend.String()).Set(timing.Seconds())
		}
		selected := 0.0
		if backend == choice {
			selected = 1
		}
		m.selectedBackend.WithLabelValues(backend.String()).Set(selected)
	}
}

func (m *Metrics) RecordReconcileError(operation string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordReconfiguration(kind string) {
	if m == nil {
		return
	}
	m.reconfigurations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetSourceConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.sourceConnected.Set(1)
	} else {
		m.sourceConnected.Set(0)
	}
}
