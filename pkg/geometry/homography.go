package geometry

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when correspondences cannot constrain a solution.
var ErrDegenerate = errors.New("geometry: degenerate correspondences")

// Homography estimates H such that img ~ H * [X Y 1] using the normalised DLT.
// At least four correspondences are required.
func Homography(obj, img []r2.Point) (*mat.Dense, error) {
	n := len(obj)
	if n < 4 || len(img) != n {
		return nil, ErrDegenerate
	}

	tObj, ok := normaliser(obj)
	if !ok {
		return nil, ErrDegenerate
	}
	tImg, ok := normaliser(img)
	if !ok {
		return nil, ErrDegenerate
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		X, Y := apply(tObj, obj[i])
		x, y := apply(tImg, img[i])
		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return nil, ErrDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)

	// The null vector is the last column of V.
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		h.Set(i/3, i%3, v.At(i, 8))
	}

	// Undo the normalisation: H = Timg^-1 * Hn * Tobj.
	var tImgInv mat.Dense
	if err := tImgInv.Inverse(tImg); err != nil {
		return nil, ErrDegenerate
	}
	var out mat.Dense
	out.Product(&tImgInv, h, tObj)

	s := out.At(2, 2)
	if math.Abs(s) < 1e-15 {
		return nil, ErrDegenerate
	}
	out.Scale(1/s, &out)
	return &out, nil
}

// normaliser moves the centroid to the origin and scales the mean distance to sqrt(2).
func normaliser(pts []r2.Point) (*mat.Dense, bool) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	var mean float64
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return nil, false
	}

	s := math.Sqrt2 / mean
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}), true
}

func apply(t mat.Matrix, p r2.Point) (float64, float64) {
	return t.At(0, 0)*p.X + t.At(0, 2), t.At(1, 1)*p.Y + t.At(1, 2)
}
