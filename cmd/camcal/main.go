// Command camcal calibrates cameras from checkerboard videos.
//
// Usage:
//
//	camcal calibrate left.mp4 --nx 8 --ny 6 --distortion
//	camcal preview left.mp4 --rotate 90 -o left.jpg
//	camcal serve --config camcal.yaml
//	camcal watch 1 --start
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/camcal/internal/config"
	"github.com/teslashibe/camcal/internal/log"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
	logFile  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "camcal",
	Short: "Camera calibration from checkerboard videos",
	Long: `camcal estimates camera intrinsics, lens distortion and per-frame board
poses from videos of a printed checkerboard.

Run a single calibration in the terminal with "calibrate", or start the
dashboard with "serve" to manage several cameras at once.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./camcal.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup loads configuration and installs the logger before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		return err
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if problems := loaded.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, "config:", p)
		}
		return fmt.Errorf("invalid configuration (%d problems)", len(problems))
	}
	cfg = loaded

	if logFile == "" {
		log.Init(cfg.LogLevel)
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.InitWriter(f, cfg.LogLevel)
	return nil
}

// quietLogs keeps log lines from tearing the progress view when no log
// file was requested.
func quietLogs(plain bool) {
	if plain || logFile != "" {
		return
	}
	log.InitWriter(io.Discard, cfg.LogLevel)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
