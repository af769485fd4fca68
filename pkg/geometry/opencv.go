package geometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// OpenCV implements Primitives with gocv. Intrinsic initialisation and robust
// pose solving have no gocv binding and use the gonum implementations in this
// package.
type OpenCV struct {
	// Flags passed to the chessboard finder.
	Flags gocv.CalibCBFlag
}

var _ Primitives = (*OpenCV)(nil)

// NewOpenCV returns the backend with OpenCV's default chessboard flags.
func NewOpenCV() *OpenCV {
	return &OpenCV{Flags: gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage}
}

// DetectPattern implements Primitives.
func (o *OpenCV) DetectPattern(gray gocv.Mat, nx, ny int) ([]r2.Point, bool) {
	if gray.Empty() {
		return nil, false
	}
	corners := gocv.NewMat()
	defer corners.Close()

	if !gocv.FindChessboardCorners(gray, image.Pt(nx, ny), &corners, o.Flags) {
		return nil, false
	}
	pts := matToPoints(corners)
	return pts, len(pts) == nx*ny
}

// RefineSubpixel implements Primitives.
func (o *OpenCV) RefineSubpixel(gray gocv.Mat, corners []r2.Point, window image.Point, c Criteria) []r2.Point {
	if len(corners) == 0 {
		return corners
	}
	pv := gocv.NewPoint2fVectorFromPoints(toPoint2f(corners))
	defer pv.Close()
	m := gocv.NewMatFromPoint2fVector(pv, true)
	defer m.Close()

	crit := gocv.NewTermCriteria(gocv.Count|gocv.EPS, c.MaxIterations, c.Epsilon)
	gocv.CornerSubPix(gray, &m, window, image.Pt(-1, -1), crit)
	return matToPoints(m)
}

// InitCameraMatrix implements Primitives.
func (o *OpenCV) InitCameraMatrix(obj [][]r3.Vector, img [][]r2.Point, size image.Point) (*mat.Dense, error) {
	return InitCameraMatrix(obj, img, size)
}

// SolvePoseRobust implements Primitives.
func (o *OpenCV) SolvePoseRobust(obj []r3.Vector, img []r2.Point, k *mat.Dense, p RansacParams) (Pose, bool) {
	return SolvePoseRobust(obj, img, k, p)
}

// CalibrateFull implements Primitives with cv::calibrateCamera.
func (o *OpenCV) CalibrateFull(obj [][]r3.Vector, img [][]r2.Point, size image.Point) (Intrinsics, []Pose, bool) {
	if len(obj) == 0 || len(obj) != len(img) || size.X <= 0 || size.Y <= 0 {
		return Intrinsics{}, nil, false
	}

	objs := gocv.NewPoints3fVector()
	defer objs.Close()
	imgs := gocv.NewPoints2fVector()
	defer imgs.Close()

	for i := range obj {
		if len(obj[i]) < minimalSample || len(obj[i]) != len(img[i]) {
			return Intrinsics{}, nil, false
		}
		ov := gocv.NewPoint3fVectorFromPoints(toPoint3f(obj[i]))
		objs.Append(ov)
		ov.Close()

		iv := gocv.NewPoint2fVectorFromPoints(toPoint2f(img[i]))
		imgs.Append(iv)
		iv.Close()
	}

	k := gocv.NewMat()
	defer k.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objs, imgs, size, &k, &dist, &rvecs, &tvecs, 0)
	if math.IsNaN(rms) || math.IsInf(rms, 0) || k.Empty() || k.Rows() != 3 || k.Cols() != 3 {
		return Intrinsics{}, nil, false
	}

	intr := Intrinsics{
		Matrix:     matToDense(k),
		Distortion: matToSlice(dist),
		RMS:        rms,
	}
	if !finite(intr.Matrix.RawMatrix().Data) || !finite(intr.Distortion) {
		return Intrinsics{}, nil, false
	}

	var poses []Pose
	if rvecs.Rows()*rvecs.Cols() == len(obj) && tvecs.Rows()*tvecs.Cols() == len(obj) {
		poses = make([]Pose, len(obj))
		for i := range poses {
			rv := vecAt(rvecs, i)
			tv := vecAt(tvecs, i)
			poses[i] = Pose{
				Frame:       i,
				Rotation:    r3.Vector{X: rv[0], Y: rv[1], Z: rv[2]},
				Translation: r3.Vector{X: tv[0], Y: tv[1], Z: tv[2]},
			}
		}
	}
	return intr, poses, true
}

// OptimalCameraMatrix implements Primitives.
func (o *OpenCV) OptimalCameraMatrix(k *mat.Dense, dist []float64, size image.Point, alpha float64) (*mat.Dense, image.Rectangle) {
	km := denseToMat(k)
	defer km.Close()
	dm := sliceToMat(dist)
	defer dm.Close()

	newK, roi := gocv.GetOptimalNewCameraMatrixWithParams(km, dm, size, alpha, size, false)
	defer newK.Close()
	return matToDense(newK), roi
}

// Undistort implements Primitives.
func (o *OpenCV) Undistort(src gocv.Mat, k, newK *mat.Dense, dist []float64) gocv.Mat {
	km := denseToMat(k)
	defer km.Close()
	nk := denseToMat(newK)
	defer nk.Close()
	dm := sliceToMat(dist)
	defer dm.Close()

	dst := gocv.NewMat()
	gocv.Undistort(src, &dst, km, dm, nk)
	return dst
}

func matToPoints(m gocv.Mat) []r2.Point {
	pv := gocv.NewPoint2fVectorFromMat(m)
	defer pv.Close()

	raw := pv.ToPoints()
	out := make([]r2.Point, len(raw))
	for i, p := range raw {
		out[i] = r2.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func toPoint2f(pts []r2.Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

func toPoint3f(pts []r3.Vector) []gocv.Point3f {
	out := make([]gocv.Point3f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
	}
	return out
}

func matToDense(m gocv.Mat) *mat.Dense {
	out := mat.NewDense(m.Rows(), m.Cols(), nil)
	for r := 0; r < m.Rows(); r++ {
		for c := 0; c < m.Cols(); c++ {
			out.Set(r, c, m.GetDoubleAt(r, c))
		}
	}
	return out
}

func denseToMat(d *mat.Dense) gocv.Mat {
	r, c := d.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV64F)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.SetDoubleAt(i, j, d.At(i, j))
		}
	}
	return m
}

func matToSlice(m gocv.Mat) []float64 {
	n := m.Rows() * m.Cols()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if m.Rows() == 1 {
			out[i] = m.GetDoubleAt(0, i)
		} else {
			out[i] = m.GetDoubleAt(i, 0)
		}
	}
	return out
}

func sliceToMat(v []float64) gocv.Mat {
	if len(v) == 0 {
		return gocv.NewMat()
	}
	m := gocv.NewMatWithSize(1, len(v), gocv.MatTypeCV64F)
	for i, x := range v {
		m.SetDoubleAt(0, i, x)
	}
	return m
}

// vecAt reads the i-th 3-vector from an n x 1 (or 1 x n) CV_64FC3 Mat.
func vecAt(m gocv.Mat, i int) gocv.Vecd {
	if m.Rows() == 1 {
		return m.GetVecdAt(0, i)
	}
	return m.GetVecdAt(i, 0)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
