// Package calibration estimates camera intrinsics from a video of a checkerboard.
//
// A run samples frames, detects the board in each, and then estimates either
// the camera matrix with per-frame poses (distortion assumed negligible) or the
// camera matrix together with lens distortion. Progress is reported through a
// callback; the result or failure is the return value of Run.
package calibration

import (
	"context"
	"image"
	"log/slog"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/geometry"
)

// Phase labels reported with progress events.
const (
	PhaseDetecting  = "Detecting calibration board"
	PhaseIntrinsics = "Computing intrinsic properties"
	PhasePose       = "Calculating pose"
	PhaseComplete   = "Estimation complete"

	// PhaseOpening labels failures to open the video.
	PhaseOpening = "Opening video"
)

// DefaultPreviewHeight is the preview image height in pixels.
const DefaultPreviewHeight = 360

// Progress is one transient progress event.
type Progress struct {
	Percent int    `json:"percent"`
	Preview []byte `json:"-"` // JPEG, nil when absent
	Phase   string `json:"phase"`
}

// ProgressFunc receives progress events on the run's goroutine.
type ProgressFunc func(Progress)

// Result is a successful calibration.
type Result struct {
	// ObjectPoints and ImagePoints are index aligned, one set per accepted frame.
	ObjectPoints [][]r3.Vector
	ImagePoints  [][]r2.Point

	FrameSize    image.Point
	CameraMatrix *mat.Dense

	// Distortion, OptimalMatrix and ValidROI are set in distortion mode only.
	Distortion    []float64
	OptimalMatrix *mat.Dense
	ValidROI      image.Rectangle

	// Poses holds one entry per frame whose pose could be solved.
	Poses []geometry.Pose

	// RMS is the root mean square reprojection error in pixels.
	RMS float64
}

// FramesWithCorners returns the number of accepted frames.
func (r *Result) FramesWithCorners() int {
	if r == nil {
		return 0
	}
	return len(r.ImagePoints)
}

// Config holds the parameters of one run.
type Config struct {
	Board       board.Definition
	Orientation frame.Orientation

	// SampleRate processes every n-th frame.
	SampleRate int

	// Distortion selects the joint intrinsics and distortion solve.
	Distortion bool

	// PreviewHeight bounds preview JPEG height; 0 disables previews.
	PreviewHeight int

	Logger *slog.Logger
}

// DefaultConfig returns a pose-only configuration for the default board.
func DefaultConfig() Config {
	return Config{
		Board:         board.Default(),
		SampleRate:    1,
		PreviewHeight: DefaultPreviewHeight,
		Logger:        slog.Default(),
	}
}

// Engine runs calibrations against a geometry backend.
type Engine struct {
	geo    geometry.Primitives
	cfg    Config
	logger *slog.Logger
}

// New creates an engine. Zero config fields take their defaults, except
// PreviewHeight which is used as given.
func New(geo geometry.Primitives, cfg Config) *Engine {
	if cfg.SampleRate < 1 {
		cfg.SampleRate = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		geo:    geo,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "calibration"),
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// detection is the state accumulated while sampling.
type detection struct {
	result *Result
	first  gocv.Mat // first accepted frame, reoriented
	have   bool
}

func (d *detection) close() {
	if d.have {
		d.first.Close()
	}
}

// Run calibrates from src. It does not close src.
//
// Progress events arrive in non-decreasing percent order within the detection
// phase and then within the estimation phase. No event follows the return.
func (e *Engine) Run(ctx context.Context, src frame.Source, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	if err := e.cfg.Board.Validate(); err != nil {
		return nil, &Error{Phase: PhaseDetecting, Err: err}
	}
	if src == nil || src.FrameCount() <= 0 {
		return nil, &Error{Phase: PhaseOpening, Err: ErrSourceUnavailable}
	}

	det, err := e.detect(ctx, src, progress)
	defer det.close()
	if err != nil {
		return nil, err
	}
	if len(det.result.ImagePoints) == 0 {
		return nil, &Error{Phase: PhaseDetecting, Err: ErrInsufficientData}
	}

	e.logger.Debug("board detection complete",
		"frames", src.FrameCount(),
		"accepted", len(det.result.ImagePoints),
	)
	progress(Progress{Percent: 0, Phase: PhaseIntrinsics})

	if e.cfg.Distortion {
		err = e.estimateFull(det, progress)
	} else {
		err = e.estimatePoses(det, progress)
	}
	if err != nil {
		return nil, err
	}
	return det.result, nil
}

func (e *Engine) detect(ctx context.Context, src frame.Source, progress ProgressFunc) (*detection, error) {
	det := &detection{result: &Result{}}
	total := src.FrameCount()
	nx, ny := e.cfg.Board.Nx, e.cfg.Board.Ny
	objp := e.cfg.Board.ObjectPoints()

	sampler := frame.NewSampler(src, e.cfg.SampleRate)
	defer sampler.Close()

	gray := gocv.NewMat()
	defer gray.Close()

	for {
		if err := ctx.Err(); err != nil {
			return det, &Error{Phase: PhaseDetecting, Err: err, Frames: len(det.result.ImagePoints)}
		}
		raw, read, ok := sampler.Next()
		if !ok {
			break
		}

		img := frame.Reorient(raw, e.cfg.Orientation)
		if det.result.FrameSize == (image.Point{}) {
			det.result.FrameSize = image.Pt(img.Cols(), img.Rows())
		}
		toGray(img, &gray)

		pct := percent(read, total)
		corners, found := e.geo.DetectPattern(gray, nx, ny)
		if found {
			corners = e.geo.RefineSubpixel(gray, corners, geometry.DefaultSubpixelWindow, geometry.DefaultCriteria())
			det.result.ObjectPoints = append(det.result.ObjectPoints, append([]r3.Vector(nil), objp...))
			det.result.ImagePoints = append(det.result.ImagePoints, corners)
			if !det.have {
				det.first = img.Clone()
				det.have = true
			}
			drawBoard(&img, corners)
		}
		progress(Progress{Percent: pct, Preview: e.preview(img), Phase: PhaseDetecting})
		img.Close()
	}

	if det.result.FrameSize == (image.Point{}) {
		det.result.FrameSize = src.Size()
	}
	return det, nil
}

// estimatePoses initialises the camera matrix and solves each frame's pose.
// Frames whose pose fails are left out of the result.
func (e *Engine) estimatePoses(det *detection, progress ProgressFunc) error {
	res := det.result
	k, err := e.geo.InitCameraMatrix(res.ObjectPoints, res.ImagePoints, res.FrameSize)
	if err != nil {
		return &Error{Phase: PhaseIntrinsics, Err: err, Frames: len(res.ImagePoints)}
	}
	res.CameraMatrix = k

	var sq float64
	var count int
	n := len(res.ImagePoints)
	for i := range res.ImagePoints {
		pose, ok := e.geo.SolvePoseRobust(res.ObjectPoints[i], res.ImagePoints[i], k, geometry.DefaultRansac())

		var preview []byte
		if ok {
			pose.Frame = i
			res.Poses = append(res.Poses, pose)
			for _, d := range geometry.ReprojectionError(res.ObjectPoints[i], res.ImagePoints[i], pose, k) {
				sq += d * d
				count++
			}
			if i == 0 && det.have {
				img := det.first.Clone()
				drawAxes(&img, res.ImagePoints[0][0], pose, k, e.cfg.Board.SquareSize)
				preview = e.preview(img)
				img.Close()
			}
		}
		progress(Progress{Percent: percent(i+1, n), Preview: preview, Phase: PhasePose})
	}
	if count > 0 {
		res.RMS = math.Sqrt(sq / float64(count))
	}

	e.logger.Debug("pose estimation complete", "frames", n, "poses", len(res.Poses))
	return nil
}

// estimateFull runs the joint solve and renders the undistorted first frame.
func (e *Engine) estimateFull(det *detection, progress ProgressFunc) error {
	res := det.result
	intr, poses, ok := e.geo.CalibrateFull(res.ObjectPoints, res.ImagePoints, res.FrameSize)
	if !ok {
		return &Error{Phase: PhaseIntrinsics, Err: ErrEstimationFailed, Frames: len(res.ImagePoints)}
	}
	res.CameraMatrix = intr.Matrix
	res.Distortion = intr.Distortion
	res.RMS = intr.RMS
	for i := range poses {
		poses[i].Frame = i
	}
	res.Poses = poses

	res.OptimalMatrix, res.ValidROI = e.geo.OptimalCameraMatrix(intr.Matrix, intr.Distortion, res.FrameSize, 1)

	var preview []byte
	if det.have {
		und := e.geo.Undistort(det.first, intr.Matrix, res.OptimalMatrix, intr.Distortion)
		preview = e.cropPreview(und, res.ValidROI)
		und.Close()
	}
	progress(Progress{Percent: 100, Preview: preview, Phase: PhaseComplete})

	e.logger.Debug("full calibration complete", "rms", res.RMS, "roi", res.ValidROI)
	return nil
}

func (e *Engine) cropPreview(img gocv.Mat, roi image.Rectangle) []byte {
	if img.Empty() {
		return nil
	}
	roi = roi.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if roi.Empty() {
		return e.preview(img)
	}
	region := img.Region(roi)
	defer region.Close()
	return e.preview(region)
}

// preview encodes a bounded-size JPEG, or nil when previews are off.
func (e *Engine) preview(img gocv.Mat) []byte {
	if e.cfg.PreviewHeight <= 0 || img.Empty() {
		return nil
	}
	b, err := frame.PreviewJPEG(img, e.cfg.PreviewHeight)
	if err != nil {
		e.logger.Debug("preview encode failed", "error", err)
		return nil
	}
	return b
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return min(100, 100*done/total)
}
