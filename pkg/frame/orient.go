// Package frame prepares video frames for calibration: reorientation,
// deterministic sampling, video sources and preview thumbnails.
package frame

import (
	"image"

	"gocv.io/x/gocv"
)

// Orientation describes how a camera's frames must be turned upright.
type Orientation struct {
	Rotation       int  `json:"rotation"` // Degrees, counter-clockwise
	FlipVertical   bool `json:"flip_vertical"`
	FlipHorizontal bool `json:"flip_horizontal"`
}

// IsIdentity reports whether Reorient would return an unchanged copy.
func (o Orientation) IsIdentity() bool {
	return o.Rotation%360 == 0 && !o.FlipVertical && !o.FlipHorizontal
}

// Reorient rotates src about its centre and applies the requested flips,
// vertical first, then horizontal. The output keeps the input dimensions;
// content rotated outside the frame is clipped. Rotation is skipped entirely
// when the angle is a multiple of 360 so no resampling happens at identity.
//
// The result is a new Mat owned by the caller.
func Reorient(src gocv.Mat, o Orientation) gocv.Mat {
	out := src.Clone()

	if o.Rotation%360 != 0 {
		w, h := src.Cols(), src.Rows()
		m := gocv.GetRotationMatrix2D(image.Pt(w/2, h/2), float64(o.Rotation), 1.0)
		rotated := gocv.NewMat()
		gocv.WarpAffine(out, &rotated, m, image.Pt(w, h))
		m.Close()
		out.Close()
		out = rotated
	}

	if o.FlipVertical {
		out = flip(out, 0)
	}
	if o.FlipHorizontal {
		out = flip(out, 1)
	}
	return out
}

// flip consumes src and returns the flipped copy.
func flip(src gocv.Mat, code int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Flip(src, &dst, code)
	src.Close()
	return dst
}
