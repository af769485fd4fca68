// Package board describes the calibration pattern shared by every camera.
package board

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
)

// ErrInvalidBoard is returned when a board definition fails validation.
var ErrInvalidBoard = errors.New("board: invalid definition")

// PatternKind identifies the printed calibration pattern.
type PatternKind string

// Checkerboard is the only supported pattern.
const Checkerboard PatternKind = "checkerboard"

// Limits accepted for interior corner counts.
const (
	MinCorners = 2
	MaxCorners = 99
)

// Definition is the interior-corner geometry of the calibration board.
type Definition struct {
	Kind PatternKind `json:"type" yaml:"type" mapstructure:"type"`
	Nx   int         `json:"nx" yaml:"nx" mapstructure:"nx"` // Interior corners per row
	Ny   int         `json:"ny" yaml:"ny" mapstructure:"ny"` // Interior corners per column

	// SquareSize scales the pattern-space points. Zero means one unit per square.
	SquareSize float64 `json:"square_size,omitempty" yaml:"square_size,omitempty" mapstructure:"square_size"`
}

// Default returns the 8x6 checkerboard used when nothing is configured.
func Default() Definition {
	return Definition{Kind: Checkerboard, Nx: 8, Ny: 6, SquareSize: 1}
}

// Validate checks the definition. The returned error wraps ErrInvalidBoard.
func (d Definition) Validate() error {
	var problems []string
	if d.Kind != Checkerboard {
		problems = append(problems, fmt.Sprintf("unsupported pattern %q", d.Kind))
	}
	if d.Nx < MinCorners || d.Nx > MaxCorners {
		problems = append(problems, fmt.Sprintf("nx must be between %d and %d", MinCorners, MaxCorners))
	}
	if d.Ny < MinCorners || d.Ny > MaxCorners {
		problems = append(problems, fmt.Sprintf("ny must be between %d and %d", MinCorners, MaxCorners))
	}
	if d.SquareSize < 0 {
		problems = append(problems, "square_size must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidBoard, problems)
	}
	return nil
}

// Corners returns the number of interior corners on the board.
func (d Definition) Corners() int {
	return d.Nx * d.Ny
}

// ObjectPoints returns the pattern-space corner positions on the z=0 plane,
// row by row, in the order the corner detector reports them.
func (d Definition) ObjectPoints() []r3.Vector {
	s := d.SquareSize
	if s == 0 {
		s = 1
	}
	pts := make([]r3.Vector, 0, d.Corners())
	for y := 0; y < d.Ny; y++ {
		for x := 0; x < d.Nx; x++ {
			pts = append(pts, r3.Vector{X: float64(x) * s, Y: float64(y) * s})
		}
	}
	return pts
}

// String renders the definition for log lines.
func (d Definition) String() string {
	return fmt.Sprintf("%s %dx%d", d.Kind, d.Nx, d.Ny)
}
