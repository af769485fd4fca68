package registry

import "errors"

// Sentinel errors returned by Registry operations.
var (
	// ErrNotFound is returned when no camera has the given id.
	ErrNotFound = errors.New("registry: camera not found")

	// ErrAlreadyRunning is returned when a calibration is started for a camera
	// that is already calibrating.
	ErrAlreadyRunning = errors.New("registry: calibration already running")

	// ErrNameTaken is returned when an explicit name collides at creation.
	ErrNameTaken = errors.New("registry: name already in use")

	// ErrInvalidSettings is returned for settings that fail validation.
	ErrInvalidSettings = errors.New("registry: invalid settings")

	// ErrNoVideo is returned when a calibration is started without a video path.
	ErrNoVideo = errors.New("registry: no video selected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry: closed")
)
