package geometry

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

var testSize = image.Pt(640, 480)

func testK() *mat.Dense {
	return CameraMatrix(800, 780, 319.5, 239.5)
}

// boardPoints is an 8x6 grid of 30 unit squares on z=0.
func boardPoints() []r3.Vector {
	var pts []r3.Vector
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			pts = append(pts, r3.Vector{X: float64(x) * 30, Y: float64(y) * 30})
		}
	}
	return pts
}

func testPoses() []Pose {
	return []Pose{
		{Rotation: r3.Vector{X: 0.35, Y: -0.2, Z: 0.05}, Translation: r3.Vector{X: -100, Y: -70, Z: 650}},
		{Rotation: r3.Vector{X: -0.3, Y: 0.25, Z: -0.1}, Translation: r3.Vector{X: -120, Y: -90, Z: 700}},
		{Rotation: r3.Vector{X: 0.1, Y: 0.4, Z: 0.2}, Translation: r3.Vector{X: -80, Y: -60, Z: 600}},
		{Rotation: r3.Vector{X: -0.45, Y: -0.3, Z: 0}, Translation: r3.Vector{X: -110, Y: -40, Z: 750}},
	}
}

func TestRodrigues_RoundTrip(t *testing.T) {
	vectors := []r3.Vector{
		{},
		{X: 0.1},
		{X: 0.3, Y: -0.2, Z: 0.7},
		{X: 0, Y: 0, Z: math.Pi - 1e-3},
		{X: -1.2, Y: 0.4, Z: 0.9},
	}

	for _, v := range vectors {
		got := RotationVector(Rodrigues(v))
		assert.InDelta(t, v.X, got.X, 1e-6, "x for %v", v)
		assert.InDelta(t, v.Y, got.Y, 1e-6, "y for %v", v)
		assert.InDelta(t, v.Z, got.Z, 1e-6, "z for %v", v)
	}
}

func TestRodrigues_IsRotation(t *testing.T) {
	R := Rodrigues(r3.Vector{X: 0.4, Y: -1.1, Z: 0.3})

	var rtR mat.Dense
	rtR.Mul(R.T(), R)
	assert.True(t, mat.EqualApprox(&rtR, identity3(), 1e-12), "R^T R should be identity")
	assert.InDelta(t, 1.0, mat.Det(R), 1e-12)
}

func TestProject_PrincipalPoint(t *testing.T) {
	pts := Project([]r3.Vector{{Z: 5}}, Pose{}, testK())
	assert.InDelta(t, 319.5, pts[0].X, 1e-9)
	assert.InDelta(t, 239.5, pts[0].Y, 1e-9)
}

func TestHomography_RecoversMapping(t *testing.T) {
	want := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 30,
		-0.05, 0.9, 40,
		0.0002, -0.0001, 1,
	})

	var obj, img []r2.Point
	for _, p := range boardPoints() {
		o := r2.Point{X: p.X, Y: p.Y}
		w := want.At(2, 0)*o.X + want.At(2, 1)*o.Y + want.At(2, 2)
		obj = append(obj, o)
		img = append(img, r2.Point{
			X: (want.At(0, 0)*o.X + want.At(0, 1)*o.Y + want.At(0, 2)) / w,
			Y: (want.At(1, 0)*o.X + want.At(1, 1)*o.Y + want.At(1, 2)) / w,
		})
	}

	got, err := Homography(obj, img)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got, want, 1e-6), "homography mismatch: %v", mat.Formatted(got))
}

func TestHomography_Degenerate(t *testing.T) {
	_, err := Homography([]r2.Point{{}, {}, {}}, []r2.Point{{}, {}, {}})
	assert.ErrorIs(t, err, ErrDegenerate)

	same := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err = Homography(same, same)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestInitCameraMatrix_RecoversFocalLength(t *testing.T) {
	K := testK()
	var objSets [][]r3.Vector
	var imgSets [][]r2.Point
	for _, pose := range testPoses() {
		objSets = append(objSets, boardPoints())
		imgSets = append(imgSets, Project(boardPoints(), pose, K))
	}

	got, err := InitCameraMatrix(objSets, imgSets, testSize)
	require.NoError(t, err)

	assert.InDelta(t, 800, got.At(0, 0), 1, "fx")
	assert.InDelta(t, 780, got.At(1, 1), 1, "fy")
	assert.Equal(t, 319.5, got.At(0, 2))
	assert.Equal(t, 239.5, got.At(1, 2))
	assert.Equal(t, 1.0, got.At(2, 2))
}

func TestInitCameraMatrix_FrontoParallelFallsBack(t *testing.T) {
	pose := Pose{Translation: r3.Vector{X: -100, Y: -75, Z: 600}}
	img := Project(boardPoints(), pose, testK())

	got, err := InitCameraMatrix([][]r3.Vector{boardPoints()}, [][]r2.Point{img}, testSize)
	require.NoError(t, err)
	assert.Equal(t, 640.0, got.At(0, 0))
	assert.Equal(t, 640.0, got.At(1, 1))
}

func TestInitCameraMatrix_NoViews(t *testing.T) {
	_, err := InitCameraMatrix(nil, nil, testSize)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestSolvePoseRobust_WithOutliers(t *testing.T) {
	K := testK()
	want := testPoses()[0]
	obj := boardPoints()
	img := Project(obj, want, K)

	// Corrupt a handful of correspondences far beyond the inlier threshold.
	for _, i := range []int{3, 11, 20, 33, 47} {
		img[i] = img[i].Add(r2.Point{X: 150, Y: -120})
	}

	got, ok := SolvePoseRobust(obj, img, K, DefaultRansac())
	require.True(t, ok)

	assert.Equal(t, len(obj)-5, got.Inliers)
	assert.InDelta(t, want.Rotation.X, got.Rotation.X, 1e-4)
	assert.InDelta(t, want.Rotation.Y, got.Rotation.Y, 1e-4)
	assert.InDelta(t, want.Rotation.Z, got.Rotation.Z, 1e-4)
	assert.InDelta(t, want.Translation.X, got.Translation.X, 1e-2)
	assert.InDelta(t, want.Translation.Y, got.Translation.Y, 1e-2)
	assert.InDelta(t, want.Translation.Z, got.Translation.Z, 1e-2)
}

func TestSolvePoseRobust_Rejects(t *testing.T) {
	K := testK()
	obj := boardPoints()
	img := Project(obj, testPoses()[1], K)

	tests := []struct {
		name string
		obj  []r3.Vector
		img  []r2.Point
		k    *mat.Dense
	}{
		{"too few points", obj[:3], img[:3], K},
		{"length mismatch", obj, img[:10], K},
		{"no camera matrix", obj, img, nil},
		{"non-planar", append([]r3.Vector{{Z: 5}}, obj[1:]...), img, K},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := SolvePoseRobust(tc.obj, tc.img, tc.k, DefaultRansac())
			assert.False(t, ok)
		})
	}
}

func TestRansacIterations(t *testing.T) {
	assert.Equal(t, 1, ransacIterations(0.9, 1, 4))
	assert.Equal(t, 5, ransacIterations(0.9, 0.8, 4))
	assert.Greater(t, ransacIterations(0.9, 0.3, 4), 100)
}

// renderBoard draws a (nx+1) x (ny+1) square checkerboard on a white canvas.
func renderBoard(nx, ny, square int, origin image.Point) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), testSize.Y, testSize.X, gocv.MatTypeCV8UC1)
	black := color.RGBA{0, 0, 0, 0}
	for r := 0; r <= ny; r++ {
		for c := 0; c <= nx; c++ {
			if (r+c)%2 != 0 {
				continue
			}
			tl := origin.Add(image.Pt(c*square, r*square))
			gocv.Rectangle(&img, image.Rectangle{Min: tl, Max: tl.Add(image.Pt(square-1, square-1))}, black, -1)
		}
	}
	return img
}

func TestOpenCV_DetectAndRefine(t *testing.T) {
	const square = 40
	origin := image.Pt(140, 100)
	img := renderBoard(8, 6, square, origin)
	defer img.Close()

	cv := NewOpenCV()
	corners, ok := cv.DetectPattern(img, 8, 6)
	require.True(t, ok, "board not detected")
	require.Len(t, corners, 48)

	refined := cv.RefineSubpixel(img, corners, DefaultSubpixelWindow, DefaultCriteria())
	require.Len(t, refined, 48)

	for _, p := range refined {
		// Interior corners sit on the grid lines between squares.
		gx := (p.X - float64(origin.X)) / square
		gy := (p.Y - float64(origin.Y)) / square
		assert.InDelta(t, math.Round(gx), gx, 0.05, "corner x %v off grid", p)
		assert.InDelta(t, math.Round(gy), gy, 0.05, "corner y %v off grid", p)
	}
}

func TestOpenCV_DetectMissing(t *testing.T) {
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), testSize.Y, testSize.X, gocv.MatTypeCV8UC1)
	defer blank.Close()

	_, ok := NewOpenCV().DetectPattern(blank, 8, 6)
	assert.False(t, ok)
}

func TestOpenCV_CalibrateFull(t *testing.T) {
	K := testK()
	var objSets [][]r3.Vector
	var imgSets [][]r2.Point
	for _, pose := range testPoses() {
		objSets = append(objSets, boardPoints())
		imgSets = append(imgSets, Project(boardPoints(), pose, K))
	}

	cv := NewOpenCV()
	intr, poses, ok := cv.CalibrateFull(objSets, imgSets, testSize)
	require.True(t, ok)

	assert.InDelta(t, 800, intr.Matrix.At(0, 0), 8)
	assert.InDelta(t, 780, intr.Matrix.At(1, 1), 8)
	assert.Less(t, intr.RMS, 0.1)
	assert.Len(t, intr.Distortion, 5)
	require.Len(t, poses, len(testPoses()))
	assert.InDelta(t, testPoses()[2].Translation.Z, poses[2].Translation.Z, 10)

	newK, roi := cv.OptimalCameraMatrix(intr.Matrix, intr.Distortion, testSize, 1)
	r, c := newK.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.False(t, roi.Empty())

	frame := renderBoard(8, 6, 40, image.Pt(140, 100))
	defer frame.Close()
	und := cv.Undistort(frame, intr.Matrix, newK, intr.Distortion)
	defer und.Close()
	assert.Equal(t, frame.Rows(), und.Rows())
	assert.Equal(t, frame.Cols(), und.Cols())
}

func TestOpenCV_CalibrateFullRejectsEmpty(t *testing.T) {
	_, _, ok := NewOpenCV().CalibrateFull(nil, nil, testSize)
	assert.False(t, ok)
}
