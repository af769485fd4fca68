package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/camcal/internal/log"
	"github.com/teslashibe/camcal/pkg/calibration"
	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/geometry"
)

var calibrateFlags struct {
	nx, ny     int
	square     float64
	rotate     int
	flipV      bool
	flipH      bool
	sampleRate int
	distortion bool
	output     string
	outFile    string
	plain      bool
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <video>",
	Short: "Calibrate one camera from a checkerboard video",
	Long: `Detects the checkerboard in every sampled frame, estimates the camera
matrix and either solves one board pose per frame or, with --distortion,
solves intrinsics and lens distortion jointly. The result is printed as
YAML or JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

func init() {
	f := calibrateCmd.Flags()
	f.IntVar(&calibrateFlags.nx, "nx", 0, "interior corners per row (default from config)")
	f.IntVar(&calibrateFlags.ny, "ny", 0, "interior corners per column (default from config)")
	f.Float64Var(&calibrateFlags.square, "square-size", 0, "square edge length in output units (default from config)")
	f.IntVar(&calibrateFlags.rotate, "rotate", 0, "rotate frames by this many degrees counter-clockwise")
	f.BoolVar(&calibrateFlags.flipV, "flip-v", false, "flip frames vertically")
	f.BoolVar(&calibrateFlags.flipH, "flip-h", false, "flip frames horizontally")
	f.IntVar(&calibrateFlags.sampleRate, "sample-rate", 1, "process every n-th frame")
	f.BoolVar(&calibrateFlags.distortion, "distortion", false, "solve lens distortion jointly with intrinsics")
	f.StringVar(&calibrateFlags.output, "output", "yaml", "result format: yaml or json")
	f.StringVarP(&calibrateFlags.outFile, "out", "o", "", "write the result to a file instead of stdout")
	f.BoolVar(&calibrateFlags.plain, "plain", false, "print progress lines instead of the interactive view")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	flags := calibrateFlags
	if flags.output != "yaml" && flags.output != "json" {
		return fmt.Errorf("unknown output format %q (want yaml or json)", flags.output)
	}
	if flags.sampleRate < 1 {
		return fmt.Errorf("sample rate must be at least 1, got %d", flags.sampleRate)
	}

	b := cfg.Board
	if cmd.Flags().Changed("nx") {
		b.Nx = flags.nx
	}
	if cmd.Flags().Changed("ny") {
		b.Ny = flags.ny
	}
	if cmd.Flags().Changed("square-size") {
		b.SquareSize = flags.square
	}
	if err := b.Validate(); err != nil {
		return err
	}

	path := args[0]
	src, err := frame.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	quietLogs(flags.plain)
	eng := calibration.New(geometry.NewOpenCV(), calibration.Config{
		Board: b,
		Orientation: frame.Orientation{
			Rotation:       flags.rotate,
			FlipVertical:   flags.flipV,
			FlipHorizontal: flags.flipH,
		},
		SampleRate: flags.sampleRate,
		Distortion: flags.distortion,
		Logger:     log.L(),
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		res    *calibration.Result
		runErr error
	)
	err = display(path, flags.plain, cancel, func(r reporter) {
		res, runErr = eng.Run(ctx, src, func(p calibration.Progress) {
			r.Update(p.Percent, p.Phase)
		})
		r.Finish(calibration.Message(res, runErr), runErr)
	})
	if err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("calibrate %s: %w", path, runErr)
	}

	out := cmd.OutOrStdout()
	if flags.outFile != "" {
		f, err := os.Create(flags.outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return writeSummary(out, res.Summary(), flags.output)
}

func writeSummary(w io.Writer, s *calibration.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
