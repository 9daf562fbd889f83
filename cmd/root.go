// Package cmd provides the command line interface of panaweb.
package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/cfg"
)

const envPrefix = "PANAWEB"

var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "panaweb",
	Short: "Real-time spectrum analyzer for software defined radios",
	Long: `panaweb reads IQ samples from a signal source, computes the spectrum and streams it
to web viewers over WebSocket. The source can be reconfigured at runtime through
the HTTP API or the WebSocket connection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, viper.GetViper())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is $HOME/.config/panaweb/panaweb.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"file with environment variables (default is ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console",
		"log format (console, json)")
}

// initConfig reads the config file and the environment.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("cannot load %s: %v", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "panaweb"))
		}
		viper.AddConfigPath("/etc/panaweb")
		viper.AddConfigPath(".")
		viper.SetConfigName("panaweb")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper(), stationDefaults())

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("using config file %s", viper.ConfigFileUsed())
	} else if configFile != "" {
		log.Printf("cannot read config file %s: %v", configFile, err)
	}
}

// stationDefaults reads the defaults from the hamradio configuration, if there is one.
func stationDefaults() core.Configuration {
	result, err := cfg.Load()
	if err != nil {
		return cfg.Static()
	}
	return result
}

// bindFlags binds each flag to its configuration key. The key is the flag name with underscores.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")

		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key)); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

func setDefaults(v *viper.Viper, defaults core.Configuration) {
	v.SetDefault("listen_address", defaults.ListenAddress)

	v.SetDefault("source", defaults.Source)
	v.SetDefault("source_params", defaults.SourceParams)
	v.SetDefault("sample_format", defaults.SampleFormat)
	v.SetDefault("sample_rate", defaults.SampleRate)
	v.SetDefault("centre_frequency", defaults.CentreFreq)
	v.SetDefault("bandwidth", defaults.Bandwidth)
	v.SetDefault("ppm_error", defaults.PPMError)
	v.SetDefault("gain", defaults.Gain)
	v.SetDefault("gain_mode", defaults.GainMode)
	v.SetDefault("fft_size", defaults.FFTSize)
	v.SetDefault("window", string(defaults.Window))

	v.SetDefault("frames_per_second", defaults.FramesPerSecond)
	v.SetDefault("queue_depth", defaults.QueueDepth)
	v.SetDefault("stall_timeout", defaults.StallTimeout)
	v.SetDefault("calibration_iterations", defaults.CalibrationIterations)
	v.SetDefault("peak_hold_frames", defaults.PeakHoldFrames)

	v.SetDefault("vfo_host", defaults.VFOHost)
	v.SetDefault("mqtt_broker", defaults.MQTTBroker)
	v.SetDefault("mqtt_topic", defaults.MQTTTopic)
}

// loadConfiguration returns the effective configuration.
func loadConfiguration(v *viper.Viper) (core.Configuration, error) {
	var result core.Configuration
	if err := v.Unmarshal(&result); err != nil {
		return core.Configuration{}, errors.Wrap(err, "invalid configuration")
	}
	window, ok := core.ParseWindowKind(string(result.Window))
	if !ok {
		log.Printf("unknown window %q, using %s", result.Window, window)
	}
	result.Window = window
	return result, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	var config zap.Config
	switch format {
	case "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
		config.Development = false
	default:
		return nil, errors.Errorf("invalid log format %q", format)
	}
	config.Level = zap.NewAtomicLevelAt(l)
	return config.Build()
}
