package geometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// InitCameraMatrix estimates the camera matrix from planar views with zero
// distortion. The principal point is fixed at the image centre and the focal
// lengths are solved by least squares from the orthogonality of each view's
// homography columns. Views whose homography cannot be computed are skipped.
//
// When the views do not constrain the focal lengths (for example every view
// fronto-parallel) the focal length falls back to the larger image dimension.
func InitCameraMatrix(obj [][]r3.Vector, img [][]r2.Point, size image.Point) (*mat.Dense, error) {
	if len(obj) == 0 || len(obj) != len(img) {
		return nil, ErrDegenerate
	}

	cx, cy := 0.5, 0.5
	if size.X > 0 {
		cx = float64(size.X-1) * 0.5
	}
	if size.Y > 0 {
		cy = float64(size.Y-1) * 0.5
	}

	var rowsA [][]float64
	var rowsB []float64
	for i := range obj {
		planar, ok := planarPoints(obj[i])
		if !ok {
			continue
		}
		H, err := Homography(planar, img[i])
		if err != nil {
			continue
		}

		// Shift the principal point to the origin.
		for c := 0; c < 3; c++ {
			H.Set(0, c, H.At(0, c)-H.At(2, c)*cx)
			H.Set(1, c, H.At(1, c)-H.At(2, c)*cy)
		}

		var h, v, d1, d2 [3]float64
		var n [4]float64
		for j := 0; j < 3; j++ {
			t0, t1 := H.At(j, 0), H.At(j, 1)
			h[j], v[j] = t0, t1
			d1[j], d2[j] = (t0+t1)*0.5, (t0-t1)*0.5
			n[0] += t0 * t0
			n[1] += t1 * t1
			n[2] += d1[j] * d1[j]
			n[3] += d2[j] * d2[j]
		}
		for j := range n {
			n[j] = 1 / math.Sqrt(n[j])
		}
		for j := 0; j < 3; j++ {
			h[j] *= n[0]
			v[j] *= n[1]
			d1[j] *= n[2]
			d2[j] *= n[3]
		}

		rowsA = append(rowsA,
			[]float64{h[0] * v[0], h[1] * v[1]},
			[]float64{d1[0] * d2[0], d1[1] * d2[1]},
		)
		rowsB = append(rowsB, -h[2]*v[2], -d1[2]*d2[2])
	}

	if len(rowsA) == 0 {
		return nil, ErrDegenerate
	}

	fallback := float64(max(size.X, size.Y))
	fx, fy, ok := solveFocal(rowsA, rowsB)
	if !ok {
		fx, fy = fallback, fallback
	}
	return CameraMatrix(fx, fy, cx, cy), nil
}

func solveFocal(rowsA [][]float64, rowsB []float64) (float64, float64, bool) {
	a := mat.NewDense(len(rowsA), 2, nil)
	for i, r := range rowsA {
		a.SetRow(i, r)
	}
	b := mat.NewVecDense(len(rowsB), rowsB)

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return 0, 0, false
	}
	if svd.Rank(1e-10) < 2 {
		return 0, 0, false
	}
	var f mat.VecDense
	svd.SolveVecTo(&f, b, 2)

	f0, f1 := f.AtVec(0), f.AtVec(1)
	if f0 == 0 || f1 == 0 {
		return 0, 0, false
	}
	fx, fy := math.Sqrt(math.Abs(1/f0)), math.Sqrt(math.Abs(1/f1))
	if math.IsNaN(fx) || math.IsInf(fx, 0) || math.IsNaN(fy) || math.IsInf(fy, 0) {
		return 0, 0, false
	}
	return fx, fy, true
}

// planarPoints drops Z from points that lie on the z=0 plane.
func planarPoints(obj []r3.Vector) ([]r2.Point, bool) {
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		if math.Abs(p.Z) > 1e-9 {
			return nil, false
		}
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out, true
}
