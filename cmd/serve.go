package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core/app"
	"github.com/ftl/panaweb/core/cfg"
	"github.com/ftl/panaweb/core/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the spectrum server",
	Long: `Run the spectrum server. Viewers connect to /ws and receive binary spectrum frames,
the configuration is available at /api/config and metrics at /metrics.

Examples:
  # synthetic test signal 10 kHz above the centre
  panaweb serve --source tone --source-params 10000

  # RTL-SDR dongle (build with -tags rtlsdr), follow the rig's VFO
  panaweb serve --source rtlsdr --source-params 0 --vfo-host localhost:4532`,
	RunE: runServe,
}

// hardware registers sources that are only available with build tags.
var hardware []func(*source.Registry, *zap.Logger)

func init() {
	defaults := cfg.Static()
	flags := serveCmd.Flags()

	flags.String("listen-address", defaults.ListenAddress, "address of the HTTP server")
	flags.String("source", defaults.Source, "signal source")
	flags.String("source-params", defaults.SourceParams, "parameters of the signal source")
	flags.String("sample-format", defaults.SampleFormat, "sample format of the signal source")
	flags.Int("sample-rate", defaults.SampleRate, "sample rate in samples per second")
	flags.Int("centre-frequency", defaults.CentreFreq, "centre frequency in Hz")
	flags.Int("bandwidth", defaults.Bandwidth, "tuner bandwidth in Hz, 0 is automatic")
	flags.Float64("ppm-error", defaults.PPMError, "frequency correction in ppm")
	flags.Float64("gain", defaults.Gain, "tuner gain in dB")
	flags.String("gain-mode", defaults.GainMode, "gain mode (auto, manual)")
	flags.Int("fft-size", defaults.FFTSize, "number of FFT bins")
	flags.String("window", string(defaults.Window), "window function")
	flags.Int("frames-per-second", defaults.FramesPerSecond, "frames per second sent to each viewer")
	flags.Int("queue-depth", defaults.QueueDepth, "frames buffered per viewer")
	flags.Duration("stall-timeout", defaults.StallTimeout, "time to wait for a stalled viewer before dropping a frame")
	flags.Int("calibration-iterations", defaults.CalibrationIterations, "transforms per backend when calibrating")
	flags.Int("peak-hold-frames", defaults.PeakHoldFrames, "frames over which peaks are held")
	flags.String("vfo-host", defaults.VFOHost, "address of rigctld to follow the VFO frequency")
	flags.String("mqtt-broker", defaults.MQTTBroker, "MQTT broker for status messages, e.g. tcp://localhost:1883")
	flags.String("mqtt-topic", defaults.MQTTTopic, "MQTT topic for status messages")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	configuration, err := loadConfiguration(viper.GetViper())
	if err != nil {
		return err
	}

	sources := source.NewRegistry()
	for _, register := range hardware {
		register(sources, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger.Info("calibrating FFT", zap.Int("fftSize", configuration.FFTSize))
	controller := app.NewController(configuration, sources, logger, registry)
	controller.Startup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = controller.Run(ctx)
	logger.Info("shutdown")
	return err
}
