package calibration

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/camcal/pkg/geometry"
)

// BGR order as drawn by gocv.
var (
	startColor = color.RGBA{B: 255}
	endColor   = color.RGBA{R: 255}
	lineColor  = color.RGBA{G: 255}
	axisColors = [3]color.RGBA{{B: 255}, {G: 255}, {R: 255}}
)

// axisLength is the drawn axis length in board squares.
const axisLength = 2

// drawBoard marks the first corner and the last corner with circles of
// different colours and joins consecutive corners.
func drawBoard(img *gocv.Mat, corners []r2.Point) {
	if len(corners) == 0 {
		return
	}
	radius := 4
	if len(corners) > 1 {
		radius = max(1, int(math.Abs(corners[0].X-corners[1].X)/2))
	}
	thick := max(1, radius/5)

	gocv.Circle(img, pt(corners[0]), radius, startColor, thick)
	gocv.Circle(img, pt(corners[len(corners)-1]), radius, endColor, thick)
	for i := 0; i+1 < len(corners); i++ {
		gocv.Line(img, pt(corners[i]), pt(corners[i+1]), lineColor, thick)
	}
}

// drawAxes projects the pattern axes at the start corner.
func drawAxes(img *gocv.Mat, origin r2.Point, pose geometry.Pose, k *mat.Dense, square float64) {
	if square <= 0 {
		square = 1
	}
	l := axisLength * square
	ends := geometry.Project([]r3.Vector{{X: l}, {Y: l}, {Z: -l}}, pose, k)
	for i, e := range ends {
		if math.IsNaN(e.X) || math.IsNaN(e.Y) || math.IsInf(e.X, 0) || math.IsInf(e.Y, 0) {
			continue
		}
		gocv.Line(img, pt(origin), pt(e), axisColors[i], 5)
	}
}

func pt(p r2.Point) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}
