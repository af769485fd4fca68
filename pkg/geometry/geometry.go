// Package geometry holds the numeric primitives the calibration engine consumes:
// pattern detection, sub-pixel refinement, intrinsic initialisation, robust pose
// solving, full calibration and undistortion.
package geometry

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Pose places the pattern relative to the camera for one accepted frame.
type Pose struct {
	Frame       int       `json:"frame"`       // Accepted-frame index
	Rotation    r3.Vector `json:"rotation"`    // Rodrigues rotation vector
	Translation r3.Vector `json:"translation"` // Pattern origin in camera coordinates
	Inliers     int       `json:"inliers,omitempty"`
}

// Intrinsics is the output of a full calibration solve.
type Intrinsics struct {
	Matrix     *mat.Dense // 3x3 camera matrix
	Distortion []float64  // k1, k2, p1, p2, k3
	RMS        float64    // Reprojection RMS in pixels
}

// Criteria terminates iterative refinement.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
}

// DefaultCriteria is the sub-pixel termination used for every run.
func DefaultCriteria() Criteria {
	return Criteria{MaxIterations: 30, Epsilon: 0.001}
}

// DefaultSubpixelWindow is the corner refinement search window.
var DefaultSubpixelWindow = image.Pt(11, 11)

// RansacParams configures SolvePoseRobust.
type RansacParams struct {
	Confidence     float64 // Probability that one sample is outlier free
	ReprojectionPx float64 // Inlier threshold in pixels
	MaxIterations  int
	Seed           uint64
}

// DefaultRansac returns the pose-only mode settings.
func DefaultRansac() RansacParams {
	return RansacParams{
		Confidence:     0.9,
		ReprojectionPx: 30,
		MaxIterations:  100,
		Seed:           1,
	}
}

// Primitives is the black-box geometry backend.
type Primitives interface {
	// DetectPattern finds the nx by ny interior corners of a checkerboard.
	DetectPattern(gray gocv.Mat, nx, ny int) ([]r2.Point, bool)

	// RefineSubpixel refines detected corners against the grayscale image.
	RefineSubpixel(gray gocv.Mat, corners []r2.Point, window image.Point, c Criteria) []r2.Point

	// InitCameraMatrix estimates a camera matrix assuming zero distortion.
	InitCameraMatrix(obj [][]r3.Vector, img [][]r2.Point, size image.Point) (*mat.Dense, error)

	// SolvePoseRobust solves one frame's pose against a known camera matrix.
	SolvePoseRobust(obj []r3.Vector, img []r2.Point, k *mat.Dense, p RansacParams) (Pose, bool)

	// CalibrateFull jointly solves intrinsics, distortion and per-view poses.
	CalibrateFull(obj [][]r3.Vector, img [][]r2.Point, size image.Point) (Intrinsics, []Pose, bool)

	// OptimalCameraMatrix returns the undistorted camera matrix and its valid region.
	OptimalCameraMatrix(k *mat.Dense, dist []float64, size image.Point, alpha float64) (*mat.Dense, image.Rectangle)

	// Undistort remaps src with the given intrinsics into a new Mat.
	Undistort(src gocv.Mat, k, newK *mat.Dense, dist []float64) gocv.Mat
}

// CameraMatrix builds a zero-skew 3x3 camera matrix.
func CameraMatrix(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})
}
