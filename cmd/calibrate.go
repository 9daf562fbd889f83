package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ftl/panaweb/core/dsp"
)

var (
	calibrationSizes      []int
	calibrationIterations int
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure the FFT backends",
	Long: `Measure the transform time of every FFT backend for the given sizes and show
which backend would be selected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return calibrate(os.Stdout, calibrationSizes, calibrationIterations)
	},
}

func init() {
	calibrateCmd.Flags().IntSliceVar(&calibrationSizes, "sizes", []int{512, 1024, 2048, 4096, 8192}, "FFT sizes to measure")
	calibrateCmd.Flags().IntVar(&calibrationIterations, "iterations", dsp.DefaultCalibrationIterations, "transforms per backend and size")

	rootCmd.AddCommand(calibrateCmd)
}

func calibrate(out io.Writer, sizes []int, iterations int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tSELECTED\tTIMINGS")
	for _, n := range sizes {
		if n <= 0 {
			return fmt.Errorf("invalid FFT size %d", n)
		}
		choice, timings := dsp.Calibrate(n, iterations, dsp.DefaultBackends())
		fmt.Fprintf(w, "%d\t%s\t%s\n", n, choice, timings)
	}
	return w.Flush()
}
