package media

import (
	"fmt"
)

// Sampler walks every frame of a source, and marks the ones selected by the stride.
// Frame 0 is always selected; for a source of F frames and stride N, exactly
// ceil(F/N) frames are marked as sampled.
// Like the underlying source, a Sampler is forward-only and not restartable.
type Sampler struct {
	src    FrameSource
	stride int
}

func NewSampler(src FrameSource, stride int) (*Sampler, error) {
	if stride < 1 {
		return nil, fmt.Errorf("Invalid frame stride %v (must be >= 1)", stride)
	}
	return &Sampler{
		src:    src,
		stride: stride,
	}, nil
}

func (s *Sampler) Info() StreamInfo {
	return s.src.Info()
}

func (s *Sampler) Stride() int {
	return s.stride
}

// Next returns the next frame of the stream, along with whether the stride selected it.
// Callers that only care about sampled frames use NextSampled.
// Returns io.EOF at the end of the stream.
func (s *Sampler) Next() (*Frame, bool, error) {
	frame, err := s.src.Next()
	if err != nil {
		return nil, false, err
	}
	return frame, frame.Index%s.stride == 0, nil
}

// NextSampled skips ahead to the next stride-selected frame.
// Returns io.EOF at the end of the stream.
func (s *Sampler) NextSampled() (*Frame, error) {
	for {
		frame, sampled, err := s.Next()
		if err != nil {
			return nil, err
		}
		if sampled {
			return frame, nil
		}
	}
}

func (s *Sampler) Close() {
	s.src.Close()
}
