package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/dsp"
	"github.com/ftl/panaweb/core/metrics"
	"github.com/ftl/panaweb/core/reconcile"
	"github.com/ftl/panaweb/core/source"
	"github.com/ftl/panaweb/core/status"
	"github.com/ftl/panaweb/core/stream"
	"github.com/ftl/panaweb/core/vfo"
)

const shutdownTimeout = 5 * time.Second

// maxRequestSize limits the body of a configuration request.
const maxRequestSize = 64 * 1024

// NewController returns a new controller for the given configuration. The FFT backend is calibrated
// immediately. registry may be nil, then a private registry is used.
func NewController(configuration core.Configuration, sources *source.Registry, logger *zap.Logger, registry *prometheus.Registry) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.New(registry)

	engine := dsp.NewEngine(configuration.FFTSize, configuration.Window,
		dsp.WithLogger(logger.Named("dsp")),
		dsp.WithIterations(configuration.CalibrationIterations),
		dsp.WithCalibrationObserver(m.RecordCalibration),
	)
	broadcaster := stream.NewBroadcaster(configuration.QueueDepth, configuration.StallTimeout, logger.Named("stream"), m)
	reconciler := reconcile.New(sources, engine, logger.Named("reconcile"), m)

	initial := configuration.SourceConfig()
	initial.Window = engine.Window()
	initial.UUID = uuid.NewString()

	result := &Controller{
		configuration: configuration,
		logger:        logger,
		registry:      registry,
		metrics:       m,
		sources:       sources,
		broadcaster:   broadcaster,
		loop: newMainLoop(initial, reconciler, engine, dsp.NewPeakHold(configuration.PeakHoldFrames),
			broadcaster, logger.Named("loop"), m),
	}
	return result
}

// Controller for the application.
type Controller struct {
	configuration core.Configuration
	logger        *zap.Logger
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	sources       *source.Registry

	broadcaster *stream.Broadcaster
	loop        *mainLoop
	vfo         *vfo.VFO
	status      *status.Publisher
}

// Startup connects to the optional services. A service that cannot be reached is left out.
func (c *Controller) Startup() {
	if c.configuration.VFOHost != "" {
		v, err := vfo.Open(c.configuration.VFOHost, c.logger.Named("vfo"))
		if err != nil {
			c.logger.Warn("no VFO", zap.String("host", c.configuration.VFOHost), zap.Error(err))
		} else {
			v.OnFrequencyChange(c.loop.SetRealCentreFrequency)
			c.vfo = v
		}
	}

	if c.configuration.MQTTBroker != "" {
		publisher, err := status.Connect(c.configuration.MQTTBroker, c.configuration.MQTTTopic, c.logger.Named("status"))
		if err != nil {
			c.logger.Warn("no status publishing", zap.String("broker", c.configuration.MQTTBroker), zap.Error(err))
		} else {
			c.loop.OnConfigChange(publisher.Update)
			c.status = publisher
		}
	}
}

// Run the application until the context is done or one of its parts fails.
func (c *Controller) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.loop.Run(ctx)
	})
	if c.vfo != nil {
		group.Go(func() error {
			return c.vfo.Run(ctx)
		})
	}
	if c.status != nil {
		group.Go(func() error {
			return c.status.Run(ctx)
		})
	}

	server := &http.Server{
		Addr:              c.configuration.ListenAddress,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	group.Go(func() error {
		c.logger.Info("listening", zap.String("address", server.Addr))
		err := server.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrapf(err, "cannot serve on %s", server.Addr)
	})
	group.Go(func() error {
		<-ctx.Done()
		c.broadcaster.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Handler returns the HTTP interface of the application.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", c.serveConfig)
	mux.Handle("/ws", stream.NewHandler(c.broadcaster, c.loop, c.configuration.FramesPerSecond, c.logger.Named("ws"), c.metrics))
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return mux
}

// ConfigResponse describes the current configuration and the available choices.
type ConfigResponse struct {
	core.SourceConfig
	Windows []core.WindowKind `json:"windows"`
	Sources []string          `json:"sources"`
	Backend string            `json:"fftUsed"`
}

func (c *Controller) serveConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		config, backend, err := c.loop.Config(r.Context(), true)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		c.writeConfig(w, config, backend)
	case http.MethodPost:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := core.ParseConfigRequest(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := c.loop.ApplyConfig(r.Context(), req); err == ErrStopped {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config, backend, err := c.loop.Config(r.Context(), true)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		c.writeConfig(w, config, backend)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Controller) writeConfig(w http.ResponseWriter, config core.SourceConfig, backend dsp.BackendChoice) {
	response := ConfigResponse{
		SourceConfig: config,
		Windows:      core.WindowKinds(),
		Sources:      c.sources.IDs(),
		Backend:      backend.String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		c.logger.Debug("cannot write configuration", zap.Error(err))
	}
}
