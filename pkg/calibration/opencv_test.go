package calibration

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/geometry"
)

var viewSize = image.Pt(640, 480)

// viewPoses keep an 8x6 board of 30 unit squares fully inside a 640x480 view.
var viewPoses = []geometry.Pose{
	{Rotation: r3.Vector{X: 0.35, Y: -0.2, Z: 0.05}, Translation: r3.Vector{X: -100, Y: -70, Z: 650}},
	{Rotation: r3.Vector{X: -0.3, Y: 0.25, Z: -0.1}, Translation: r3.Vector{X: -120, Y: -90, Z: 700}},
	{Rotation: r3.Vector{X: 0.1, Y: 0.4, Z: 0.2}, Translation: r3.Vector{X: -80, Y: -60, Z: 600}},
	{Rotation: r3.Vector{X: -0.45, Y: -0.3, Z: 0}, Translation: r3.Vector{X: -110, Y: -40, Z: 750}},
	{Rotation: r3.Vector{X: 0.2, Y: 0.15, Z: -0.05}, Translation: r3.Vector{X: -105, Y: -75, Z: 680}},
}

// renderView draws a BGR checkerboard with nx by ny interior corners seen
// from pose through camera k.
func renderView(k *mat.Dense, pose geometry.Pose, d board.Definition) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), viewSize.Y, viewSize.X, gocv.MatTypeCV8UC3)

	s := d.SquareSize
	var polys [][]image.Point
	for r := 0; r <= d.Ny; r++ {
		for c := 0; c <= d.Nx; c++ {
			if (r+c)%2 != 0 {
				continue
			}
			x0, y0 := float64(c-1)*s, float64(r-1)*s
			quad := geometry.Project([]r3.Vector{
				{X: x0, Y: y0},
				{X: x0 + s, Y: y0},
				{X: x0 + s, Y: y0 + s},
				{X: x0, Y: y0 + s},
			}, pose, k)
			poly := make([]image.Point, len(quad))
			for i, p := range quad {
				poly[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
			}
			polys = append(polys, poly)
		}
	}

	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()
	gocv.FillPoly(&img, pv, color.RGBA{0, 0, 0, 0})
	return img
}

func boardVideo(t *testing.T, d board.Definition) *frame.SliceSource {
	t.Helper()
	k := geometry.CameraMatrix(800, 780, 319.5, 239.5)
	frames := make([]gocv.Mat, len(viewPoses))
	for i, p := range viewPoses {
		frames[i] = renderView(k, p, d)
	}
	src := frame.NewSliceSource(frames...)
	for _, f := range frames {
		f.Close()
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func checkDetection(t *testing.T, rec *recorder, n int) {
	t.Helper()
	detect := percents(rec.phase(PhaseDetecting))
	if len(detect) != n {
		t.Fatalf("detection events: got %d, want %d", len(detect), n)
	}
	for i := 1; i < len(detect); i++ {
		if detect[i] < detect[i-1] {
			t.Errorf("detection percents decrease: %v", detect)
		}
	}
	if detect[n-1] != 100 {
		t.Errorf("final detection percent: got %d, want 100", detect[n-1])
	}
	if last := rec.events[len(rec.events)-1]; last.Percent != 100 {
		t.Errorf("final event: got %d%% %q, want 100%%", last.Percent, last.Phase)
	}
}

func TestRun_OpenCV_SyntheticBoard(t *testing.T) {
	d := board.Definition{Kind: board.Checkerboard, Nx: 8, Ny: 6, SquareSize: 30}
	n := len(viewPoses)

	tests := []struct {
		name       string
		distortion bool
	}{
		{"pose-only", false},
		{"full-distortion", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Board = d
			cfg.Distortion = tt.distortion
			cfg.PreviewHeight = 0

			rec := &recorder{}
			res, err := New(geometry.NewOpenCV(), cfg).Run(context.Background(), boardVideo(t, d), rec.record)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := res.FramesWithCorners(); got != n {
				t.Errorf("accepted frames: got %d, want %d", got, n)
			}
			if res.FrameSize != viewSize {
				t.Errorf("frame size: got %v, want %v", res.FrameSize, viewSize)
			}
			checkDetection(t, rec, n)

			if tt.distortion {
				if len(res.Distortion) == 0 {
					t.Error("no distortion coefficients")
				}
				if res.RMS > 1 {
					t.Errorf("RMS: got %.3f px, want < 1", res.RMS)
				}
				if res.OptimalMatrix == nil {
					t.Error("no optimal camera matrix")
				}
				return
			}
			if len(res.Poses) != n {
				t.Errorf("poses: got %d, want %d", len(res.Poses), n)
			}
			if res.Distortion != nil {
				t.Errorf("pose-only distortion: got %v, want nil", res.Distortion)
			}
		})
	}
}
