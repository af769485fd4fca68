package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Rodrigues converts a rotation vector to a 3x3 rotation matrix.
func Rodrigues(r r3.Vector) *mat.Dense {
	theta := r.Norm()
	if theta < 1e-12 {
		return identity3()
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c

	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// RotationVector converts a rotation matrix back to its Rodrigues vector.
func RotationVector(R mat.Matrix) r3.Vector {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	cos := math.Max(-1, math.Min(1, (tr-1)/2))
	theta := math.Acos(cos)

	if theta < 1e-12 {
		return r3.Vector{}
	}

	if math.Pi-theta < 1e-6 {
		// Near 180 degrees the antisymmetric part vanishes; read the axis off the diagonal.
		x := math.Sqrt(math.Max(0, (R.At(0, 0)+1)/2))
		y := math.Sqrt(math.Max(0, (R.At(1, 1)+1)/2))
		z := math.Sqrt(math.Max(0, (R.At(2, 2)+1)/2))
		if R.At(0, 1)+R.At(1, 0) < 0 {
			y = -y
		}
		if R.At(0, 2)+R.At(2, 0) < 0 {
			z = -z
		}
		return r3.Vector{X: x, Y: y, Z: z}.Normalize().Mul(theta)
	}

	f := theta / (2 * math.Sin(theta))
	return r3.Vector{
		X: (R.At(2, 1) - R.At(1, 2)) * f,
		Y: (R.At(0, 2) - R.At(2, 0)) * f,
		Z: (R.At(1, 0) - R.At(0, 1)) * f,
	}
}

// Project maps pattern-space points into the image with zero distortion.
func Project(points []r3.Vector, pose Pose, k mat.Matrix) []r2.Point {
	R := Rodrigues(pose.Rotation)
	out := make([]r2.Point, len(points))
	for i, p := range points {
		c := mulVec(R, p).Add(pose.Translation)
		out[i] = projectCamera(c, k)
	}
	return out
}

// ReprojectionError returns the pixel distance of each correspondence under pose.
func ReprojectionError(obj []r3.Vector, img []r2.Point, pose Pose, k mat.Matrix) []float64 {
	proj := Project(obj, pose, k)
	errs := make([]float64, len(proj))
	for i := range proj {
		errs[i] = proj[i].Sub(img[i]).Norm()
	}
	return errs
}

func projectCamera(c r3.Vector, k mat.Matrix) r2.Point {
	if math.Abs(c.Z) < 1e-12 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	x, y := c.X/c.Z, c.Y/c.Z
	return r2.Point{
		X: k.At(0, 0)*x + k.At(0, 1)*y + k.At(0, 2),
		Y: k.At(1, 1)*y + k.At(1, 2),
	}
}

func mulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
