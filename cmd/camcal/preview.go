package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/camcal/pkg/frame"
)

var previewFlags struct {
	rotate int
	flipV  bool
	flipH  bool
	height int
	out    string
}

var previewCmd = &cobra.Command{
	Use:   "preview <video>",
	Short: "Write a thumbnail of the first frame after reorientation",
	Long: `Reads the first frame of a video, applies the rotation and flips a
camera would use, and writes it as a JPEG thumbnail. Use it to check
orientation settings before calibrating.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := frame.Orientation{
			Rotation:       previewFlags.rotate,
			FlipVertical:   previewFlags.flipV,
			FlipHorizontal: previewFlags.flipH,
		}
		img, err := frame.FirstFrame(frame.Open, args[0], o)
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		defer img.Close()

		data, err := frame.PreviewJPEG(img, previewFlags.height)
		if err != nil {
			return err
		}
		if err := os.WriteFile(previewFlags.out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", previewFlags.out, len(data))
		return nil
	},
}

func init() {
	f := previewCmd.Flags()
	f.IntVar(&previewFlags.rotate, "rotate", 0, "rotate by this many degrees counter-clockwise")
	f.BoolVar(&previewFlags.flipV, "flip-v", false, "flip vertically")
	f.BoolVar(&previewFlags.flipH, "flip-h", false, "flip horizontally")
	f.IntVar(&previewFlags.height, "height", frame.DefaultThumbnailHeight, "thumbnail height in pixels")
	f.StringVarP(&previewFlags.out, "out", "o", "preview.jpg", "output file")
}
