package calibration

import (
	"errors"
	"fmt"

	"github.com/teslashibe/camcal/pkg/frame"
)

// Sentinel errors for run failures. Match with errors.Is.
var (
	// ErrSourceUnavailable is returned when the video cannot be opened or reports no frames.
	ErrSourceUnavailable = frame.ErrUnavailable

	// ErrInsufficientData is returned when no sampled frame showed the board.
	ErrInsufficientData = errors.New("calibration: no frames with a visible board")

	// ErrEstimationFailed is returned when the joint solver does not converge.
	ErrEstimationFailed = errors.New("calibration: estimation did not converge")
)

// Error carries the phase a run failed in.
type Error struct {
	// Phase is the human-readable phase label.
	Phase string

	// Err is the underlying cause.
	Err error

	// Frames is the number of frames that showed the board before the failure.
	Frames int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("calibration: %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns a short operator-facing description of a run failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "video unavailable"
	case errors.Is(err, ErrInsufficientData):
		return "no calibration board found"
	case errors.Is(err, ErrEstimationFailed):
		return "estimation failed"
	default:
		return err.Error()
	}
}

// Frames returns the number of accepted frames carried by a run failure.
func Frames(err error) int {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Frames
	}
	return 0
}

// Message returns the operator summary of a finished run.
func Message(res *Result, err error) string {
	if err != nil {
		return fmt.Sprintf("Calibration failed with %d frames", Frames(err))
	}
	return fmt.Sprintf("Calibration successful with %d frames", res.FramesWithCorners())
}
