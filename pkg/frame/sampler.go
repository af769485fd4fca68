package frame

import "gocv.io/x/gocv"

// Sampler walks a Source and yields every rate-th frame.
//
// Every read increments the counter, starting at 1 for the first frame; a
// frame is yielded when counter%rate == 0. Skipped frames are still decoded.
// A failed read ends sampling; it is not an error.
type Sampler struct {
	src  Source
	rate int
	read int
	buf  gocv.Mat
}

// NewSampler creates a sampler over src. Rates below 1 are treated as 1.
func NewSampler(src Source, rate int) *Sampler {
	if rate < 1 {
		rate = 1
	}
	return &Sampler{src: src, rate: rate, buf: gocv.NewMat()}
}

// Next returns the next sampled frame and its counter value.
// The Mat is reused by the following call; Clone it to keep it.
func (s *Sampler) Next() (gocv.Mat, int, bool) {
	for {
		if !s.src.Read(&s.buf) || s.buf.Empty() {
			return s.buf, s.read, false
		}
		s.read++
		if s.read%s.rate == 0 {
			return s.buf, s.read, true
		}
	}
}

// FramesRead returns how many frames have been read so far.
func (s *Sampler) FramesRead() int {
	return s.read
}

// Close releases the sampler's buffer. It does not close the source.
func (s *Sampler) Close() {
	s.buf.Close()
}
