package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ReplaySource loops over the frames of a recorded MJPEG file. The file is
// split into individual JPEG images at load time so capture is a slice copy.
type ReplaySource struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
	closed bool
}

// NewReplaySource loads and indexes an MJPEG recording.
func NewReplaySource(path string) (*ReplaySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording %s: %w", path, err)
	}
	frames := splitMJPEG(data)
	if len(frames) == 0 {
		return nil, fmt.Errorf("recording %s contains no JPEG frames", path)
	}
	return &ReplaySource{frames: frames}, nil
}

// splitMJPEG slices a byte stream into JPEG images by SOI/EOI markers.
// Anything between frames is discarded, which also skips per-frame headers
// written by multipart recorders.
func splitMJPEG(data []byte) [][]byte {
	var frames [][]byte
	for {
		start := bytes.Index(data, jpegSOI)
		if start < 0 {
			return frames
		}
		end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
		if end < 0 {
			return frames
		}
		end += start + len(jpegSOI) + len(jpegEOI)
		frames = append(frames, data[start:end])
		data = data[end:]
	}
}

// CaptureFrame returns the next recorded frame, wrapping at the end.
func (s *ReplaySource) CaptureFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("replay source closed")
	}

	frame := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)

	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// FrameCount reports the number of indexed frames.
func (s *ReplaySource) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Close marks the source closed.
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
