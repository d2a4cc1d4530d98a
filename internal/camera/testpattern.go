package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"
	"strings"
	"sync"
)

// ParseResolution parses a "WIDTHxHEIGHT" string such as "1280x720".
func ParseResolution(s string) (width, height int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q: expected WIDTHxHEIGHT", s)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width %q", parts[0])
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height %q", parts[1])
	}
	return width, height, nil
}

// TestPatternSource renders a synthetic moving-bar pattern for dev mode.
// Each frame shifts the bar so a connected viewer can see the stream is
// live.
type TestPatternSource struct {
	mu      sync.Mutex
	width   int
	height  int
	quality int
	frame   int
	closed  bool
}

// NewTestPatternSource creates a pattern source at the given resolution.
// Non-positive dimensions take 640x480.
func NewTestPatternSource(width, height int) *TestPatternSource {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &TestPatternSource{width: width, height: height, quality: 75}
}

// CaptureFrame renders and JPEG-encodes the next pattern frame.
func (s *TestPatternSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("test pattern source closed")
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	barX := (s.frame * 4) % s.width
	s.frame++

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			c := color.RGBA{R: 16, G: 16, B: 16, A: 255}
			if dx := x - barX; dx >= 0 && dx < 32 {
				c = color.RGBA{R: 0, G: 200, B: 120, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode test frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Close marks the source closed; subsequent captures fail.
func (s *TestPatternSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
