package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ftl/panaweb/core"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML. The output can be used as config file.

The configuration is merged from the built-in defaults, the panaweb section of the
hamradio configuration, the config file and the PANAWEB_* environment variables.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	configuration, err := loadConfiguration(viper.GetViper())
	if err != nil {
		return err
	}
	return printConfiguration(os.Stdout, configuration)
}

// printConfiguration writes the configuration as YAML, using the same keys as the config file.
func printConfiguration(out io.Writer, configuration core.Configuration) error {
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(configuration); err != nil {
		return err
	}
	return encoder.Close()
}
