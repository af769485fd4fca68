package frame

import (
	"bytes"
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

// gradient builds an asymmetric single-channel test frame.
func gradient(rows, cols int) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.SetUCharAt(r, c, uint8((r*7+c*13)%256))
		}
	}
	return m
}

func flipped(src gocv.Mat, code int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Flip(src, &dst, code)
	return dst
}

func sameBytes(t *testing.T, got, want gocv.Mat) {
	t.Helper()
	if got.Rows() != want.Rows() || got.Cols() != want.Cols() {
		t.Fatalf("size: got %dx%d, want %dx%d", got.Cols(), got.Rows(), want.Cols(), want.Rows())
	}
	if !bytes.Equal(got.ToBytes(), want.ToBytes()) {
		t.Error("pixel data differs")
	}
}

func TestReorient_IdentityAngles(t *testing.T) {
	src := gradient(24, 32)
	defer src.Close()

	for _, deg := range []int{0, 360, -360, 720, -1080} {
		out := Reorient(src, Orientation{Rotation: deg})
		sameBytes(t, out, src)
		out.Close()
	}
}

func TestReorient_IdentityAngleAppliesFlipsOnly(t *testing.T) {
	src := gradient(24, 32)
	defer src.Close()

	tests := []struct {
		name string
		o    Orientation
		code int
	}{
		{"vertical", Orientation{Rotation: 360, FlipVertical: true}, 0},
		{"horizontal", Orientation{Rotation: -720, FlipHorizontal: true}, 1},
		{"both", Orientation{FlipVertical: true, FlipHorizontal: true}, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := flipped(src, tc.code)
			defer want.Close()
			got := Reorient(src, tc.o)
			defer got.Close()
			sameBytes(t, got, want)
		})
	}
}

func TestReorient_FlipInvolution(t *testing.T) {
	src := gradient(17, 23)
	defer src.Close()

	o := Orientation{FlipVertical: true, FlipHorizontal: true}
	once := Reorient(src, o)
	defer once.Close()
	twice := Reorient(once, o)
	defer twice.Close()

	sameBytes(t, twice, src)
}

func TestReorient_RotationKeepsSize(t *testing.T) {
	src := gradient(30, 40)
	defer src.Close()

	out := Reorient(src, Orientation{Rotation: 45})
	defer out.Close()

	if out.Rows() != 30 || out.Cols() != 40 {
		t.Errorf("size: got %dx%d, want 40x30", out.Cols(), out.Rows())
	}
	if bytes.Equal(out.ToBytes(), src.ToBytes()) {
		t.Error("45 degree rotation should change the frame")
	}
}

func TestReorient_Deterministic(t *testing.T) {
	src := gradient(30, 40)
	defer src.Close()

	o := Orientation{Rotation: 33, FlipHorizontal: true}
	a := Reorient(src, o)
	defer a.Close()
	b := Reorient(src, o)
	defer b.Close()

	sameBytes(t, a, b)
}

func TestReorient_DoesNotTouchInput(t *testing.T) {
	src := gradient(10, 10)
	defer src.Close()
	before := src.ToBytes()

	out := Reorient(src, Orientation{Rotation: 90, FlipVertical: true})
	out.Close()

	if !bytes.Equal(before, src.ToBytes()) {
		t.Error("Reorient modified its input")
	}
}

func TestOrientation_IsIdentity(t *testing.T) {
	if !(Orientation{Rotation: 720}).IsIdentity() {
		t.Error("720 degrees should be identity")
	}
	if (Orientation{FlipHorizontal: true}).IsIdentity() {
		t.Error("flip should not be identity")
	}
}

// numbered returns n 1x1 frames whose single pixel is the frame position.
func numbered(n int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSize(1, 1, gocv.MatTypeCV8UC1)
		frames[i].SetUCharAt(0, 0, uint8(i))
	}
	return frames
}

func closeAll(frames []gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

func TestSampler_VisitsMultiples(t *testing.T) {
	tests := []struct {
		total int
		rate  int
		want  []int
	}{
		{10, 1, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{10, 3, []int{3, 6, 9}},
		{10, 5, []int{5, 10}},
		{10, 20, nil},
		{7, 0, []int{1, 2, 3, 4, 5, 6, 7}},
	}

	for _, tc := range tests {
		frames := numbered(tc.total)
		src := NewSliceSource(frames...)
		closeAll(frames)

		s := NewSampler(src, tc.rate)
		var got []int
		for {
			m, idx, ok := s.Next()
			if !ok {
				break
			}
			// Pixel value is the 0-based position, counter is 1-based.
			if int(m.GetUCharAt(0, 0)) != idx-1 {
				t.Errorf("rate %d: counter %d yielded frame %d", tc.rate, idx, m.GetUCharAt(0, 0))
			}
			got = append(got, idx)
		}

		if len(got) != len(tc.want) {
			t.Errorf("rate %d over %d: got %v, want %v", tc.rate, tc.total, got, tc.want)
		} else {
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("rate %d: visit %d got %d, want %d", tc.rate, i, got[i], tc.want[i])
				}
			}
		}
		if s.FramesRead() != tc.total {
			t.Errorf("rate %d: FramesRead got %d, want %d", tc.rate, s.FramesRead(), tc.total)
		}

		s.Close()
		src.Close()
	}
}

func TestSliceSource(t *testing.T) {
	frames := numbered(3)
	src := NewSliceSource(frames...)
	closeAll(frames)
	defer src.Close()

	if src.FrameCount() != 3 {
		t.Errorf("FrameCount: got %d, want 3", src.FrameCount())
	}
	if sz := src.Size(); sz.X != 1 || sz.Y != 1 {
		t.Errorf("Size: got %v, want (1,1)", sz)
	}

	src.Count = 99
	if src.FrameCount() != 99 {
		t.Errorf("Count override: got %d, want 99", src.FrameCount())
	}
}

func TestOpen_Errors(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/calibration.avi"} {
		_, err := Open(path)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Open(%q): got %v, want ErrUnavailable", path, err)
		}
	}
}

func TestThumbnail(t *testing.T) {
	src := gradient(480, 640)
	defer src.Close()

	thumb := Thumbnail(src, DefaultThumbnailHeight)
	defer thumb.Close()

	if thumb.Rows() != 128 || thumb.Cols() != 170 {
		t.Errorf("thumbnail: got %dx%d, want 170x128", thumb.Cols(), thumb.Rows())
	}

	small := Thumbnail(thumb, 256)
	defer small.Close()
	if small.Rows() != 128 {
		t.Errorf("no upscaling expected, got height %d", small.Rows())
	}
}

func TestEncodeJPEG(t *testing.T) {
	src := gradient(32, 32)
	defer src.Close()

	data, err := EncodeJPEG(src)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("output is not a JPEG stream")
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := EncodeJPEG(empty); err == nil {
		t.Error("expected error for empty frame")
	}
}

func TestFirstFrame(t *testing.T) {
	frames := numbered(2)
	defer closeAll(frames)

	open := func(string) (Source, error) { return NewSliceSource(frames...), nil }
	m, err := FirstFrame(open, "mem", Orientation{})
	if err != nil {
		t.Fatalf("FirstFrame: %v", err)
	}
	defer m.Close()
	if m.GetUCharAt(0, 0) != 0 {
		t.Errorf("first frame pixel: got %d, want 0", m.GetUCharAt(0, 0))
	}

	none := func(string) (Source, error) { return NewSliceSource(), nil }
	if _, err := FirstFrame(none, "empty", Orientation{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("empty source: got %v, want ErrUnavailable", err)
	}
}
