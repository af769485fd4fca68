package frame

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrUnavailable is returned when a video source cannot be opened or holds no frames.
var ErrUnavailable = errors.New("video source unavailable")

// Source is a sequential video stream.
type Source interface {
	// Read decodes the next frame into dst. It returns false at end of stream.
	Read(dst *gocv.Mat) bool

	// FrameCount is the number of frames the container reports.
	FrameCount() int

	// Size is the frame size in pixels (width, height).
	Size() image.Point

	// Close releases the stream.
	Close() error
}

// Opener opens a video source by path.
type Opener func(path string) (Source, error)

// VideoFile is a Source backed by an OpenCV video capture.
type VideoFile struct {
	path string
	cap  *gocv.VideoCapture
}

// Open opens a video file. Failures wrap ErrUnavailable.
func Open(path string) (Source, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnavailable)
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: cannot open", ErrUnavailable, path)
	}
	return &VideoFile{path: path, cap: vc}, nil
}

// Read implements Source.
func (v *VideoFile) Read(dst *gocv.Mat) bool {
	if !v.cap.Read(dst) {
		return false
	}
	return !dst.Empty()
}

// FrameCount implements Source.
func (v *VideoFile) FrameCount() int {
	return int(v.cap.Get(gocv.VideoCaptureFrameCount))
}

// Size implements Source.
func (v *VideoFile) Size() image.Point {
	return image.Pt(
		int(v.cap.Get(gocv.VideoCaptureFrameWidth)),
		int(v.cap.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// Close implements Source.
func (v *VideoFile) Close() error {
	return v.cap.Close()
}

// Path returns the file the source was opened from.
func (v *VideoFile) Path() string {
	return v.path
}

// SliceSource replays in-memory frames. It owns clones of the frames it was given.
type SliceSource struct {
	frames []gocv.Mat
	next   int

	// Count overrides the reported frame count when non-zero.
	Count int
}

// NewSliceSource creates a source that yields copies of frames in order.
func NewSliceSource(frames ...gocv.Mat) *SliceSource {
	s := &SliceSource{frames: make([]gocv.Mat, 0, len(frames))}
	for _, f := range frames {
		s.frames = append(s.frames, f.Clone())
	}
	return s
}

// Read implements Source.
func (s *SliceSource) Read(dst *gocv.Mat) bool {
	if s.next >= len(s.frames) {
		return false
	}
	s.frames[s.next].CopyTo(dst)
	s.next++
	return true
}

// FrameCount implements Source.
func (s *SliceSource) FrameCount() int {
	if s.Count != 0 {
		return s.Count
	}
	return len(s.frames)
}

// Size implements Source.
func (s *SliceSource) Size() image.Point {
	if len(s.frames) == 0 {
		return image.Point{}
	}
	return image.Pt(s.frames[0].Cols(), s.frames[0].Rows())
}

// Close implements Source.
func (s *SliceSource) Close() error {
	for _, f := range s.frames {
		f.Close()
	}
	s.frames = nil
	return nil
}
