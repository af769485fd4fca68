package geometry

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const minimalSample = 4

// SolvePoseRobust estimates the pose of a planar pattern with RANSAC.
//
// Each hypothesis is the pose decomposed from a four-point homography. The
// iteration budget shrinks as the inlier ratio grows so that, at the requested
// confidence, at least one outlier-free sample is drawn. The best hypothesis
// is refit on its inliers and polished by minimising reprojection error.
// Non-planar object points are rejected.
func SolvePoseRobust(obj []r3.Vector, img []r2.Point, k *mat.Dense, p RansacParams) (Pose, bool) {
	n := len(obj)
	if n < minimalSample || len(img) != n || k == nil {
		return Pose{}, false
	}
	planar, ok := planarPoints(obj)
	if !ok {
		return Pose{}, false
	}
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return Pose{}, false
	}

	def := DefaultRansac()
	if p.Confidence <= 0 || p.Confidence >= 1 {
		p.Confidence = def.Confidence
	}
	if p.ReprojectionPx <= 0 {
		p.ReprojectionPx = def.ReprojectionPx
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = def.MaxIterations
	}

	rng := rand.New(rand.NewPCG(p.Seed, 0x9e3779b97f4a7c15))
	sample := make([]int, minimalSample)

	var best Pose
	var bestIn []int
	iters := p.MaxIterations
	for it := 0; it < iters; it++ {
		pickDistinct(rng, n, sample)
		so, si := gather(planar, img, sample)

		H, err := Homography(so, si)
		if err != nil {
			continue
		}
		pose, ok := poseFromHomography(H, &kInv)
		if !ok {
			continue
		}

		in := inliers(obj, img, pose, k, p.ReprojectionPx)
		if len(in) > len(bestIn) {
			best, bestIn = pose, in
			iters = min(p.MaxIterations, ransacIterations(p.Confidence, float64(len(in))/float64(n), minimalSample))
		}
	}

	if len(bestIn) < minimalSample {
		return Pose{}, false
	}

	so, si := gather(planar, img, bestIn)
	if H, err := Homography(so, si); err == nil {
		if pose, ok := poseFromHomography(H, &kInv); ok {
			if in := inliers(obj, img, pose, k, p.ReprojectionPx); len(in) >= len(bestIn) {
				best, bestIn = pose, in
			}
		}
	}

	best = refinePose(best, subset3(obj, bestIn), subset2(img, bestIn), k)
	bestIn = inliers(obj, img, best, k, p.ReprojectionPx)
	if len(bestIn) < minimalSample {
		return Pose{}, false
	}
	best.Inliers = len(bestIn)
	return best, true
}

// poseFromHomography decomposes H = K [r1 r2 t] for a z=0 pattern.
func poseFromHomography(H mat.Matrix, kInv mat.Matrix) (Pose, bool) {
	var m mat.Dense
	m.Mul(kInv, H)

	h1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	h2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	h3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}

	norm := h1.Norm() + h2.Norm()
	if norm < 1e-12 {
		return Pose{}, false
	}
	lambda := 2 / norm
	if h3.Z*lambda < 0 {
		lambda = -lambda
	}

	r1, r2 := h1.Mul(lambda), h2.Mul(lambda)
	r3v := r1.Cross(r2)
	t := h3.Mul(lambda)

	R := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	Rn, ok := orthonormalise(R)
	if !ok {
		return Pose{}, false
	}
	return Pose{Rotation: RotationVector(Rn), Translation: t}, true
}

// orthonormalise returns the rotation closest to R in the Frobenius norm.
func orthonormalise(R mat.Matrix) (*mat.Dense, bool) {
	var svd mat.SVD
	if !svd.Factorize(R, mat.SVDFull) {
		return nil, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var out mat.Dense
	out.Mul(&u, v.T())
	if mat.Det(&out) < 0 {
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		out.Mul(&u, v.T())
	}
	return &out, true
}

// refinePose minimises the summed squared reprojection error with Nelder-Mead.
// The input pose is returned when the optimiser does not improve on it.
func refinePose(pose Pose, obj []r3.Vector, img []r2.Point, k mat.Matrix) Pose {
	cost := func(x []float64) float64 {
		p := Pose{
			Rotation:    r3.Vector{X: x[0], Y: x[1], Z: x[2]},
			Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
		}
		var sum float64
		for _, e := range ReprojectionError(obj, img, p, k) {
			sum += e * e
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}

	init := []float64{
		pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z,
		pose.Translation.X, pose.Translation.Y, pose.Translation.Z,
	}
	start := cost(init)
	if start < 1e-12 {
		return pose
	}

	res, err := optimize.Minimize(
		optimize.Problem{Func: cost},
		init,
		&optimize.Settings{MajorIterations: 400},
		&optimize.NelderMead{},
	)
	if res == nil || (err != nil && res.F >= start) || res.F >= start {
		return pose
	}
	return Pose{
		Frame:       pose.Frame,
		Rotation:    r3.Vector{X: res.X[0], Y: res.X[1], Z: res.X[2]},
		Translation: r3.Vector{X: res.X[3], Y: res.X[4], Z: res.X[5]},
	}
}

func ransacIterations(confidence, inlierRatio float64, sampleSize int) int {
	if inlierRatio >= 1 {
		return 1
	}
	den := math.Log(1 - math.Pow(inlierRatio, float64(sampleSize)))
	if den >= 0 || math.IsNaN(den) {
		return math.MaxInt32
	}
	return int(math.Ceil(math.Log(1-confidence) / den))
}

func inliers(obj []r3.Vector, img []r2.Point, pose Pose, k mat.Matrix, threshold float64) []int {
	var in []int
	for i, e := range ReprojectionError(obj, img, pose, k) {
		if e <= threshold {
			in = append(in, i)
		}
	}
	return in
}

func pickDistinct(rng *rand.Rand, n int, out []int) {
	for i := range out {
	retry:
		for {
			c := rng.IntN(n)
			for j := 0; j < i; j++ {
				if out[j] == c {
					continue retry
				}
			}
			out[i] = c
			break
		}
	}
}

func gather(obj, img []r2.Point, idx []int) ([]r2.Point, []r2.Point) {
	so := make([]r2.Point, len(idx))
	si := make([]r2.Point, len(idx))
	for i, j := range idx {
		so[i], si[i] = obj[j], img[j]
	}
	return so, si
}

func subset3(pts []r3.Vector, idx []int) []r3.Vector {
	out := make([]r3.Vector, len(idx))
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}

func subset2(pts []r2.Point, idx []int) []r2.Point {
	out := make([]r2.Point, len(idx))
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}
