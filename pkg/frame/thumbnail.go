package frame

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DefaultThumbnailHeight matches the camera list preview size.
const DefaultThumbnailHeight = 128

// Thumbnail scales src to the given height keeping its aspect ratio.
// A non-positive height, or a src already that small, returns a copy.
func Thumbnail(src gocv.Mat, height int) gocv.Mat {
	if height <= 0 || src.Empty() || src.Rows() <= height {
		return src.Clone()
	}
	width := src.Cols() * height / src.Rows()
	if width < 1 {
		width = 1
	}

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	return dst
}

// EncodeJPEG encodes a frame as JPEG bytes.
func EncodeJPEG(src gocv.Mat) ([]byte, error) {
	if src.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, src)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// PreviewJPEG is Thumbnail followed by EncodeJPEG.
func PreviewJPEG(src gocv.Mat, height int) ([]byte, error) {
	thumb := Thumbnail(src, height)
	defer thumb.Close()
	return EncodeJPEG(thumb)
}

// FirstFrame opens path and returns its first frame, reoriented.
func FirstFrame(open Opener, path string, o Orientation) (gocv.Mat, error) {
	if open == nil {
		open = Open
	}
	src, err := open(path)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	raw := gocv.NewMat()
	defer raw.Close()
	if !src.Read(&raw) || raw.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: %s: no frames", ErrUnavailable, path)
	}
	return Reorient(raw, o), nil
}
