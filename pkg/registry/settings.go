package registry

import (
	"fmt"
	"time"

	"github.com/teslashibe/camcal/pkg/calibration"
	"github.com/teslashibe/camcal/pkg/frame"
)

// Settings is the operator-editable part of a camera record.
type Settings struct {
	ID             int    `json:"id" yaml:"id" mapstructure:"id"`
	Name           string `json:"name" yaml:"name" mapstructure:"name"`
	Rotation       int    `json:"rotation" yaml:"rotation" mapstructure:"rotation"`
	FlipVertical   bool   `json:"flip_vertical" yaml:"flip_vertical" mapstructure:"flip_vertical"`
	FlipHorizontal bool   `json:"flip_horizontal" yaml:"flip_horizontal" mapstructure:"flip_horizontal"`
	VideoPath      string `json:"video_path" yaml:"video_path" mapstructure:"video_path"`
	SampleRate     int    `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`
	DistortionMode bool   `json:"distortion_mode" yaml:"distortion_mode" mapstructure:"distortion_mode"`
}

// DefaultSettings returns the template for new cameras.
func DefaultSettings() Settings {
	return Settings{SampleRate: 1}
}

// Validate reports the first invalid field, wrapped in ErrInvalidSettings.
func (s Settings) Validate() error {
	if s.SampleRate < 1 {
		return fmt.Errorf("%w: sample rate must be at least 1, got %d", ErrInvalidSettings, s.SampleRate)
	}
	return nil
}

// Orientation returns the frame correction for this camera.
func (s Settings) Orientation() frame.Orientation {
	return frame.Orientation{
		Rotation:       s.Rotation,
		FlipVertical:   s.FlipVertical,
		FlipHorizontal: s.FlipHorizontal,
	}
}

// geometryChanged reports whether an edit invalidates a previous calibration.
func (s Settings) geometryChanged(next Settings) bool {
	return s.VideoPath != next.VideoPath ||
		s.Rotation != next.Rotation ||
		s.FlipVertical != next.FlipVertical ||
		s.FlipHorizontal != next.FlipHorizontal
}

// Status is the lifecycle state of a camera's calibration.
type Status int

const (
	NotRun Status = iota
	Running
	Succeeded
	Failed
)

var statusNames = [...]string{"not_run", "running", "succeeded", "failed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("registry: unknown status %q", b)
}

// Outcome is the result of the latest calibration of a camera.
type Outcome struct {
	Status            Status              `json:"status"`
	FramesWithCorners int                 `json:"frames_with_corners"`
	Result            *calibration.Result `json:"-"`
	Err               error               `json:"-"`
	Message           string              `json:"message"`
	RunID             string              `json:"run_id,omitempty"`
	StartedAt         time.Time           `json:"started_at,omitzero"`
	FinishedAt        time.Time           `json:"finished_at,omitzero"`
}

// Operator messages.
const (
	MessageNotRun  = "Not calibrated"
	MessageRunning = "Calibrating"
)

func notRun() Outcome {
	return Outcome{Status: NotRun, Message: MessageNotRun}
}

func succeeded(res *calibration.Result) Outcome {
	n := res.FramesWithCorners()
	return Outcome{
		Status:            Succeeded,
		FramesWithCorners: n,
		Result:            res,
		Message:           calibration.Message(res, nil),
	}
}

func failed(err error) Outcome {
	return Outcome{
		Status:            Failed,
		FramesWithCorners: calibration.Frames(err),
		Err:               err,
		Message:           calibration.Message(nil, err),
	}
}

// Record is a snapshot of one camera.
type Record struct {
	Settings Settings `json:"settings"`
	Outcome  Outcome  `json:"outcome"`
}
