package calibration

import (
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/camcal/pkg/geometry"
)

// Summary is the printable form of a Result, without the raw correspondences.
type Summary struct {
	Frames        int           `json:"frames" yaml:"frames"`
	Width         int           `json:"width" yaml:"width"`
	Height        int           `json:"height" yaml:"height"`
	CameraMatrix  [][]float64   `json:"camera_matrix" yaml:"camera_matrix"`
	Distortion    []float64     `json:"distortion,omitempty" yaml:"distortion,omitempty"`
	OptimalMatrix [][]float64   `json:"optimal_matrix,omitempty" yaml:"optimal_matrix,omitempty"`
	ValidROI      []int         `json:"valid_roi,omitempty" yaml:"valid_roi,omitempty"` // x, y, width, height
	RMS           float64       `json:"rms" yaml:"rms"`
	Poses         []PoseSummary `json:"poses" yaml:"poses"`
}

// PoseSummary is one frame's pose as plain arrays.
type PoseSummary struct {
	Frame       int        `json:"frame" yaml:"frame"`
	Rotation    [3]float64 `json:"rotation" yaml:"rotation,flow"`
	Translation [3]float64 `json:"translation" yaml:"translation,flow"`
	Inliers     int        `json:"inliers,omitempty" yaml:"inliers,omitempty"`
}

// Summary flattens the result for JSON or YAML output.
func (r *Result) Summary() *Summary {
	if r == nil {
		return nil
	}
	s := &Summary{
		Frames:        r.FramesWithCorners(),
		Width:         r.FrameSize.X,
		Height:        r.FrameSize.Y,
		CameraMatrix:  rows(r.CameraMatrix),
		Distortion:    r.Distortion,
		OptimalMatrix: rows(r.OptimalMatrix),
		RMS:           r.RMS,
		Poses:         make([]PoseSummary, 0, len(r.Poses)),
	}
	if !r.ValidROI.Empty() {
		s.ValidROI = []int{r.ValidROI.Min.X, r.ValidROI.Min.Y, r.ValidROI.Dx(), r.ValidROI.Dy()}
	}
	for _, p := range r.Poses {
		s.Poses = append(s.Poses, poseSummary(p))
	}
	return s
}

func poseSummary(p geometry.Pose) PoseSummary {
	return PoseSummary{
		Frame:       p.Frame,
		Rotation:    [3]float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z},
		Translation: [3]float64{p.Translation.X, p.Translation.Y, p.Translation.Z},
		Inliers:     p.Inliers,
	}
}

func rows(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
